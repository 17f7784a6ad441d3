package quote

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"vinsight/internal/domain"
	"vinsight/internal/util"
	"vinsight/pkg/vinsight"
)

// Compile-time interface checks.
var _ Fetcher = (*BackendSource)(nil)
var _ Fetcher = (*AlpacaSource)(nil)

// BackendSource reads quotes from the dashboard backend.
type BackendSource struct {
	client *vinsight.Client
	cal    *util.TradingCalendar
	now    func() time.Time
}

// NewBackendSource creates a BackendSource. cal supplies the session when
// the backend omits or garbles marketState.
func NewBackendSource(client *vinsight.Client, cal *util.TradingCalendar) *BackendSource {
	return &BackendSource{client: client, cal: cal, now: time.Now}
}

// FetchQuote implements Fetcher.
func (b *BackendSource) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, ErrNoTicker
	}
	q, err := b.client.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}

	ts := q.Timestamp.Time
	if ts.IsZero() {
		ts = b.now()
	}
	state, ok := domain.ParseMarketState(q.MarketState)
	if !ok {
		state = b.cal.SessionAt(ts)
	}
	sym := q.Symbol
	if sym == "" {
		sym = symbol
	}

	return &domain.Quote{
		Symbol:        domain.NormalizeSymbol(sym),
		CurrentPrice:  decimal.NewFromFloat(q.CurrentPrice),
		PreviousClose: decimal.NewFromFloat(q.PreviousClose),
		Change:        decimal.NewFromFloat(q.Change),
		ChangePercent: decimal.NewFromFloat(q.ChangePercent),
		MarketState:   state,
		Timestamp:     ts,
	}, nil
}

// AlpacaSource builds quotes from Alpaca market-data snapshots: the latest
// trade price against the previous daily close, with the session taken from
// the trading calendar.
type AlpacaSource struct {
	client *marketdata.Client
	feed   string
	cal    *util.TradingCalendar
}

// NewAlpacaSource creates an AlpacaSource. An empty dataURL uses the SDK
// default; an empty feed uses the account's default feed.
func NewAlpacaSource(apiKey, apiSecret, dataURL, feed string, cal *util.TradingCalendar) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaSource{
		client: marketdata.NewClient(opts),
		feed:   feed,
		cal:    cal,
	}
}

// FetchQuote implements Fetcher. The SDK call takes no context, so
// cancellation is only observed before the request starts.
func (a *AlpacaSource) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := a.client.GetSnapshot(symbol, marketdata.GetSnapshotRequest{
		Feed: marketdata.Feed(a.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca snapshot %s: %w", symbol, err)
	}
	return snapshotQuote(symbol, snap, a.cal)
}

func snapshotQuote(symbol string, snap *marketdata.Snapshot, cal *util.TradingCalendar) (*domain.Quote, error) {
	if snap == nil {
		return nil, fmt.Errorf("alpaca snapshot %s: empty response", symbol)
	}

	var price float64
	var ts time.Time
	switch {
	case snap.LatestTrade != nil:
		price, ts = snap.LatestTrade.Price, snap.LatestTrade.Timestamp
	case snap.DailyBar != nil:
		price, ts = snap.DailyBar.Close, snap.DailyBar.Timestamp
	default:
		return nil, fmt.Errorf("alpaca snapshot %s: no trade data", symbol)
	}

	// Once today's session has opened the daily bar is today's and the
	// reference close is the previous bar. Before that the daily bar is
	// still the last completed session.
	state := cal.SessionAt(ts)
	var prevClose float64
	switch {
	case (state == domain.MarketStatePre || state == domain.MarketStateClosed) &&
		snap.DailyBar != nil && cal.Date(snap.DailyBar.Timestamp) < cal.Date(ts):
		prevClose = snap.DailyBar.Close
	case snap.PrevDailyBar != nil:
		prevClose = snap.PrevDailyBar.Close
	}

	q := domain.NewQuote(symbol, decimal.NewFromFloat(price), decimal.NewFromFloat(prevClose), state, ts)
	return &q, nil
}
