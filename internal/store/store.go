// Package store defines storage interfaces for the client's local state and
// the quote archive, with SQLite, JSON-file and Parquet implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vinsight/internal/domain"
)

// ErrNotFound is returned by KV.Get when the key has never been written.
var ErrNotFound = errors.New("store: key not found")

// KV is durable string storage keyed by name, the local-storage equivalent
// used for signed-out state.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the underlying resources.
	Close() error
}

// QuoteStore persists and retrieves quote snapshots.
type QuoteStore interface {
	// WriteQuotes persists a batch of quotes.
	WriteQuotes(ctx context.Context, quotes []domain.Quote) error

	// ReadQuotes returns quotes for symbol within [start, end], oldest first.
	ReadQuotes(ctx context.Context, symbol string, start, end time.Time) ([]domain.Quote, error)

	// ListSymbols returns all symbols with archived quotes.
	ListSymbols(ctx context.Context) ([]string, error)
}

// OpenKV opens the local-storage driver named by driver: "sqlite" (default)
// or "file".
func OpenKV(driver, sqlitePath, filePath string, log *slog.Logger) (KV, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteKV(sqlitePath)
	case "file":
		return NewFileKV(filePath, log), nil
	}
	return nil, fmt.Errorf("unknown local storage driver %q", driver)
}
