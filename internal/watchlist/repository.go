package watchlist

import (
	"context"
	"io"

	"vinsight/internal/domain"
)

// Repository persists watchlists. The manager holds exactly one at a time,
// chosen by session state: RemoteRepository for a signed-in user,
// GuestRepository otherwise.
type Repository interface {
	// List returns every watchlist the session owns.
	List(ctx context.Context) ([]domain.Watchlist, error)

	// Create persists a new named watchlist and returns it with its id.
	Create(ctx context.Context, name string) (domain.Watchlist, error)

	// Delete removes a watchlist.
	Delete(ctx context.Context, id int) error

	// AddStock appends symbol to a watchlist and returns the updated list.
	AddStock(ctx context.Context, id int, symbol string) (domain.Watchlist, error)

	// RemoveStock removes symbol from a watchlist and returns the updated list.
	RemoveStock(ctx context.Context, id int, symbol string) (domain.Watchlist, error)

	// MoveStock moves symbol from srcID to dstID atomically and returns the
	// updated source list.
	MoveStock(ctx context.Context, srcID, dstID int, symbol string) (domain.Watchlist, error)

	// ReorderWatchlists persists the display order of all watchlists.
	ReorderWatchlists(ctx context.Context, ids []int) error

	// ReorderStocks persists the symbol order inside one watchlist.
	ReorderStocks(ctx context.Context, id int, symbols []string) error

	// Import merges the symbols of an uploaded file into a watchlist.
	Import(ctx context.Context, id int, filename string, r io.Reader) (domain.Watchlist, error)
}

// PriceFetcher loads list-row details for a set of tickers.
type PriceFetcher interface {
	BatchStock(ctx context.Context, tickers []string) ([]domain.StockDetail, error)
}
