// Package domain defines the core types shared across the watchlist manager,
// the quote scheduler and their storage and transport layers.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies the exchange calendar a component works against.
type Market string

const (
	MarketUS Market = "us"
)

// GuestWatchlistID is the id of the single watchlist kept for a signed-out
// user. It never exists on the backend.
const GuestWatchlistID = -1

// Watchlist is a named, ordered, de-duplicated list of ticker symbols.
type Watchlist struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Stocks   []string `json:"stocks"`
	Position int      `json:"position"`
}

// Clone returns a copy that shares no memory with w.
func (w Watchlist) Clone() Watchlist {
	out := w
	out.Stocks = make([]string, len(w.Stocks))
	copy(out.Stocks, w.Stocks)
	return out
}

// Contains reports whether symbol is already in the list.
func (w Watchlist) Contains(symbol string) bool {
	return w.IndexOf(symbol) >= 0
}

// IndexOf returns the index of symbol in Stocks, or -1.
func (w Watchlist) IndexOf(symbol string) int {
	symbol = NormalizeSymbol(symbol)
	for i, s := range w.Stocks {
		if s == symbol {
			return i
		}
	}
	return -1
}

// NormalizeSymbol trims and upper-cases a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// DedupeSymbols normalises symbols and drops empties and repeats, keeping
// the first occurrence.
func DedupeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = NormalizeSymbol(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// MarketState is the US equities session a quote was taken in.
type MarketState string

const (
	MarketStateRegular MarketState = "REGULAR"
	MarketStatePre     MarketState = "PRE"
	MarketStatePost    MarketState = "POST"
	MarketStateClosed  MarketState = "CLOSED"
)

// ParseMarketState maps a backend session label onto a MarketState. The
// boolean is false for anything unrecognised.
func ParseMarketState(s string) (MarketState, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "REGULAR":
		return MarketStateRegular, true
	case "PRE", "PREPRE":
		return MarketStatePre, true
	case "POST", "POSTPOST":
		return MarketStatePost, true
	case "CLOSED":
		return MarketStateClosed, true
	}
	return "", false
}

// Quote is the latest price snapshot for one symbol. It is held in memory
// only and replaced wholesale on every successful poll.
type Quote struct {
	Symbol        string          `json:"symbol"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	PreviousClose decimal.Decimal `json:"previousClose"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	MarketState   MarketState     `json:"marketState"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewQuote builds a quote from a price and previous close, deriving the
// absolute and percentage change.
func NewQuote(symbol string, price, previousClose decimal.Decimal, state MarketState, ts time.Time) Quote {
	q := Quote{
		Symbol:        NormalizeSymbol(symbol),
		CurrentPrice:  price,
		PreviousClose: previousClose,
		MarketState:   state,
		Timestamp:     ts,
	}
	q.Change = price.Sub(previousClose)
	if !previousClose.IsZero() {
		q.ChangePercent = q.Change.Div(previousClose).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return q
}

// StockDetail is one row of the batch price endpoint. Fields the dashboard
// does not interpret are preserved in Raw.
type StockDetail struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name,omitempty"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Raw           []byte          `json:"-"`
}

// Selection is the process-local pairing of the selected watchlist and the
// focused ticker.
type Selection struct {
	WatchlistID  int    `json:"watchlistId"`
	HasWatchlist bool   `json:"hasWatchlist"`
	Symbol       string `json:"symbol,omitempty"`
}
