package watchlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"vinsight/internal/domain"
	"vinsight/internal/store"
)

// GuestStorageKey is the local-storage key holding the guest watchlist.
const GuestStorageKey = "vinsight_guest_watchlist"

// Starter list materialised for a guest with nothing saved.
const DefaultGuestName = "My Watchlist"

var DefaultGuestStocks = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA"}

// Compile-time interface check.
var _ Repository = (*GuestRepository)(nil)

// GuestRepository keeps the single guest watchlist (id -1) in local storage,
// rewriting it after every mutation. It never touches the network.
type GuestRepository struct {
	kv  store.KV
	log *slog.Logger

	mu     sync.Mutex
	list   domain.Watchlist
	loaded bool
}

// NewGuestRepository creates a GuestRepository over kv.
func NewGuestRepository(kv store.KV, log *slog.Logger) *GuestRepository {
	return &GuestRepository{kv: kv, log: log}
}

// List returns the guest watchlist, creating the starter list on first use.
func (g *GuestRepository) List(ctx context.Context) ([]domain.Watchlist, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return []domain.Watchlist{g.list.Clone()}, nil
}

// Create always fails: a guest owns exactly one list.
func (g *GuestRepository) Create(context.Context, string) (domain.Watchlist, error) {
	return domain.Watchlist{}, ErrAuthRequired
}

// Delete always fails: the guest list cannot be removed.
func (g *GuestRepository) Delete(context.Context, int) error {
	return ErrGuestUnsupported
}

// AddStock appends symbol unless present and saves.
func (g *GuestRepository) AddStock(ctx context.Context, id int, symbol string) (domain.Watchlist, error) {
	return g.mutate(ctx, id, func(w *domain.Watchlist) {
		if !w.Contains(symbol) {
			w.Stocks = append(w.Stocks, domain.NormalizeSymbol(symbol))
		}
	})
}

// RemoveStock removes symbol if present and saves.
func (g *GuestRepository) RemoveStock(ctx context.Context, id int, symbol string) (domain.Watchlist, error) {
	return g.mutate(ctx, id, func(w *domain.Watchlist) {
		if i := w.IndexOf(symbol); i >= 0 {
			w.Stocks = append(w.Stocks[:i], w.Stocks[i+1:]...)
		}
	})
}

// MoveStock always fails: there is no second list to move to.
func (g *GuestRepository) MoveStock(context.Context, int, int, string) (domain.Watchlist, error) {
	return domain.Watchlist{}, ErrGuestUnsupported
}

// ReorderWatchlists accepts only the trivial order of the single list.
func (g *GuestRepository) ReorderWatchlists(_ context.Context, ids []int) error {
	if len(ids) == 1 && ids[0] == domain.GuestWatchlistID {
		return nil
	}
	return ErrNotPermutation
}

// ReorderStocks stores symbols as the new order and saves.
func (g *GuestRepository) ReorderStocks(ctx context.Context, id int, symbols []string) error {
	_, err := g.mutate(ctx, id, func(w *domain.Watchlist) {
		w.Stocks = domain.DedupeSymbols(symbols)
	})
	return err
}

// Import always fails: file parsing is a backend feature.
func (g *GuestRepository) Import(context.Context, int, string, io.Reader) (domain.Watchlist, error) {
	return domain.Watchlist{}, ErrAuthRequired
}

func (g *GuestRepository) mutate(ctx context.Context, id int, fn func(*domain.Watchlist)) (domain.Watchlist, error) {
	if id != domain.GuestWatchlistID {
		return domain.Watchlist{}, fmt.Errorf("guest watchlist %d: %w", id, ErrNotFound)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.ensureLoaded(ctx); err != nil {
		return domain.Watchlist{}, err
	}
	next := g.list.Clone()
	fn(&next)
	if err := g.save(ctx, next); err != nil {
		return domain.Watchlist{}, err
	}
	g.list = next
	return next.Clone(), nil
}

// ensureLoaded reads the saved list once. Must be called with mu held.
func (g *GuestRepository) ensureLoaded(ctx context.Context) error {
	if g.loaded {
		return nil
	}
	raw, err := g.kv.Get(ctx, GuestStorageKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.log.Info("creating starter guest watchlist")
		return g.reset(ctx)
	case err != nil:
		return fmt.Errorf("reading guest watchlist: %w", err)
	}

	var w domain.Watchlist
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		g.log.Warn("discarding unreadable guest watchlist", "error", err)
		return g.reset(ctx)
	}
	w.ID = domain.GuestWatchlistID
	w.Stocks = domain.DedupeSymbols(w.Stocks)
	if w.Name == "" {
		w.Name = DefaultGuestName
	}
	g.list = w
	g.loaded = true
	return nil
}

func (g *GuestRepository) reset(ctx context.Context) error {
	w := domain.Watchlist{
		ID:     domain.GuestWatchlistID,
		Name:   DefaultGuestName,
		Stocks: append([]string(nil), DefaultGuestStocks...),
	}
	if err := g.save(ctx, w); err != nil {
		return err
	}
	g.list = w
	g.loaded = true
	return nil
}

func (g *GuestRepository) save(ctx context.Context, w domain.Watchlist) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshalling guest watchlist: %w", err)
	}
	if err := g.kv.Set(ctx, GuestStorageKey, string(data)); err != nil {
		return fmt.Errorf("saving guest watchlist: %w", err)
	}
	return nil
}
