package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"vinsight/internal/domain"
	"vinsight/internal/watchlist"
)

// Styles.
var (
	listStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	activeStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	symbolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	focusStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	stateStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("3"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// formatPrice renders a USD amount, e.g. "$1,234.50".
func formatPrice(d decimal.Decimal) string {
	f, _ := d.Float64()
	return money.NewFromFloat(f, money.USD).Display()
}

// formatChange renders an absolute and percentage change coloured by sign.
func formatChange(change, pct decimal.Decimal) string {
	sign := ""
	if change.IsPositive() {
		sign = "+"
	}
	text := fmt.Sprintf("%s%s (%s%s%%)", sign, change.StringFixed(2), sign, pct.StringFixed(2))
	switch {
	case change.IsPositive():
		return gainStyle.Render(text)
	case change.IsNegative():
		return lossStyle.Render(text)
	default:
		return dimStyle.Render(text)
	}
}

// renderWatchlists prints every list in display order, marking the active
// list and the focused symbol.
func renderWatchlists(w io.Writer, lists []domain.Watchlist, sel domain.Selection, guest bool) {
	if guest {
		fmt.Fprintln(w, dimStyle.Render("guest mode: changes are kept on this machine only"))
	}
	if len(lists) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no watchlists"))
		return
	}
	for _, l := range lists {
		header := fmt.Sprintf("[%d] %s", l.ID, l.Name)
		if sel.HasWatchlist && sel.WatchlistID == l.ID {
			header = activeStyle.Render(header + " *")
		} else {
			header = listStyle.Render(header)
		}
		fmt.Fprintf(w, "%s %s\n", header, dimStyle.Render(fmt.Sprintf("(%d stocks)", len(l.Stocks))))

		if len(l.Stocks) == 0 {
			fmt.Fprintln(w, "  "+dimStyle.Render("empty"))
			continue
		}
		symbols := make([]string, len(l.Stocks))
		for i, s := range l.Stocks {
			if s == sel.Symbol {
				symbols[i] = focusStyle.Render(s)
			} else {
				symbols[i] = symbolStyle.Render(s)
			}
		}
		fmt.Fprintln(w, "  "+strings.Join(symbols, " "))
	}
}

// renderPrices prints one row per ticker of a list using the cached batch
// details.
func renderPrices(w io.Writer, l domain.Watchlist, m *watchlist.Manager) {
	fmt.Fprintln(w, listStyle.Render(l.Name))
	fmt.Fprintln(w, colHeaderStyle.Render(fmt.Sprintf("  %-8s %14s  %s", "SYMBOL", "PRICE", "CHANGE")))
	for _, s := range l.Stocks {
		d, ok := m.Details(s)
		if !ok {
			fmt.Fprintf(w, "  %s %14s\n", symbolStyle.Render(fmt.Sprintf("%-8s", s)), dimStyle.Render("-"))
			continue
		}
		fmt.Fprintf(w, "  %s %14s  %s\n",
			symbolStyle.Render(fmt.Sprintf("%-8s", s)),
			formatPrice(d.CurrentPrice),
			formatChange(d.Change, d.ChangePercent))
	}
}

// renderQuote prints one quote line.
func renderQuote(w io.Writer, q domain.Quote, interval time.Duration) {
	state := string(q.MarketState)
	if state == "" {
		state = "UNKNOWN"
	}
	line := fmt.Sprintf("%s %s %s %s",
		symbolStyle.Render(q.Symbol),
		formatPrice(q.CurrentPrice),
		formatChange(q.Change, q.ChangePercent),
		stateStyle.Render(" "+state+" "))
	if !q.Timestamp.IsZero() {
		line += " " + dimStyle.Render(q.Timestamp.Local().Format("15:04:05"))
	}
	if interval > 0 {
		line += " " + dimStyle.Render("next in "+interval.String())
	}
	fmt.Fprintln(w, line)
}
