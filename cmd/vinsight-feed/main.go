// Command vinsight-feed prints quotes streamed by a running "vinsight serve".
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/lipgloss"

	"vinsight/internal/domain"
	"vinsight/internal/feed"
	"vinsight/internal/util"
)

var (
	symbolStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func main() {
	addr := flag.String("addr", "localhost:50061", "gRPC address of the quote feed")
	level := flag.String("log-level", "info", "Log level")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vinsight-feed [-addr host:port] [symbol...]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if a := os.Getenv("STREAM_ADDR"); a != "" {
		*addr = a
	}
	logger := util.NewLogger(*level, "text")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := feed.NewClient(*addr, logger)
	if err := client.Sync(ctx, flag.Args(), printQuote); err != nil && ctx.Err() == nil {
		logger.Error("sync error", "error", err)
		os.Exit(1)
	}
	fmt.Println("\nshutdown")
}

func printQuote(q domain.Quote) {
	price, _ := q.CurrentPrice.Float64()
	change := fmt.Sprintf("%s (%s%%)", q.Change.StringFixed(2), q.ChangePercent.StringFixed(2))
	switch {
	case q.Change.IsPositive():
		change = gainStyle.Render("+" + change)
	case q.Change.IsNegative():
		change = lossStyle.Render(change)
	}
	fmt.Printf("%s %-12s %s %s %s\n",
		dimStyle.Render(q.Timestamp.Local().Format("15:04:05")),
		symbolStyle.Render(q.Symbol),
		money.NewFromFloat(price, money.USD).Display(),
		change,
		dimStyle.Render(string(q.MarketState)))
}
