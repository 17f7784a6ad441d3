package watchlist

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"vinsight/internal/domain"
	"vinsight/pkg/vinsight"
)

// Compile-time interface checks.
var _ Repository = (*RemoteRepository)(nil)
var _ PriceFetcher = (*ClientPrices)(nil)

// RemoteRepository persists watchlists through the backend REST API.
type RemoteRepository struct {
	client *vinsight.Client
}

// NewRemoteRepository creates a RemoteRepository over an authenticated client.
func NewRemoteRepository(client *vinsight.Client) *RemoteRepository {
	return &RemoteRepository{client: client}
}

// List returns the user's watchlists.
func (r *RemoteRepository) List(ctx context.Context) ([]domain.Watchlist, error) {
	lists, err := r.client.ListWatchlists(ctx)
	if err != nil {
		return nil, mapRemoteErr(err)
	}
	out := make([]domain.Watchlist, 0, len(lists))
	for _, w := range lists {
		out = append(out, fromAPI(w))
	}
	return out, nil
}

// Create creates a named watchlist.
func (r *RemoteRepository) Create(ctx context.Context, name string) (domain.Watchlist, error) {
	w, err := r.client.CreateWatchlist(ctx, name)
	return fromAPI(w), mapRemoteErr(err)
}

// Delete deletes a watchlist.
func (r *RemoteRepository) Delete(ctx context.Context, id int) error {
	return mapRemoteErr(r.client.DeleteWatchlist(ctx, id))
}

// AddStock adds symbol to a watchlist.
func (r *RemoteRepository) AddStock(ctx context.Context, id int, symbol string) (domain.Watchlist, error) {
	w, err := r.client.AddStock(ctx, id, symbol)
	return fromAPI(w), mapRemoteErr(err)
}

// RemoveStock removes symbol from a watchlist.
func (r *RemoteRepository) RemoveStock(ctx context.Context, id int, symbol string) (domain.Watchlist, error) {
	w, err := r.client.RemoveStock(ctx, id, symbol)
	return fromAPI(w), mapRemoteErr(err)
}

// MoveStock moves symbol between watchlists in a single backend call.
func (r *RemoteRepository) MoveStock(ctx context.Context, srcID, dstID int, symbol string) (domain.Watchlist, error) {
	w, err := r.client.MoveStock(ctx, srcID, symbol, dstID)
	return fromAPI(w), mapRemoteErr(err)
}

// ReorderWatchlists persists watchlist order.
func (r *RemoteRepository) ReorderWatchlists(ctx context.Context, ids []int) error {
	return mapRemoteErr(r.client.ReorderWatchlists(ctx, ids))
}

// ReorderStocks persists symbol order.
func (r *RemoteRepository) ReorderStocks(ctx context.Context, id int, symbols []string) error {
	return mapRemoteErr(r.client.ReorderStocks(ctx, id, symbols))
}

// Import uploads a symbol file for the backend to parse.
func (r *RemoteRepository) Import(ctx context.Context, id int, filename string, rd io.Reader) (domain.Watchlist, error) {
	w, err := r.client.ImportWatchlist(ctx, id, filename, rd)
	return fromAPI(w), mapRemoteErr(err)
}

// ClientPrices adapts the SDK's batch endpoint to PriceFetcher. It works
// with or without a session.
type ClientPrices struct {
	client *vinsight.Client
}

// NewClientPrices creates a PriceFetcher over client.
func NewClientPrices(client *vinsight.Client) *ClientPrices {
	return &ClientPrices{client: client}
}

// BatchStock fetches row details for tickers.
func (p *ClientPrices) BatchStock(ctx context.Context, tickers []string) ([]domain.StockDetail, error) {
	rows, err := p.client.BatchStock(ctx, tickers)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StockDetail, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.StockDetail{
			Symbol:        domain.NormalizeSymbol(row.Symbol),
			Name:          row.Name,
			CurrentPrice:  decimal.NewFromFloat(row.CurrentPrice),
			Change:        decimal.NewFromFloat(row.Change),
			ChangePercent: decimal.NewFromFloat(row.ChangePercent),
			Raw:           []byte(row.Raw),
		})
	}
	return out, nil
}

func fromAPI(w vinsight.Watchlist) domain.Watchlist {
	return domain.Watchlist{
		ID:       w.ID,
		Name:     w.Name,
		Stocks:   domain.DedupeSymbols(w.Stocks),
		Position: w.Position,
	}
}

// mapRemoteErr keeps the backend error intact and tags 401/403 with
// ErrAuthRequired and 404 with ErrNotFound.
func mapRemoteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case vinsight.IsUnauthorized(err):
		return fmt.Errorf("%w: %w", ErrAuthRequired, err)
	case vinsight.IsNotFound(err):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
