// Package watchlist maintains the in-memory mirror of a user's watchlists and
// keeps it in sync with either the backend API or guest local storage.
package watchlist

import "errors"

// Validation errors. These are returned before any repository call.
var (
	ErrEmptyName       = errors.New("watchlist name is required")
	ErrEmptySymbol     = errors.New("ticker symbol is required")
	ErrNotFound        = errors.New("watchlist not found")
	ErrSymbolNotInList = errors.New("symbol is not in the watchlist")
	ErrSameWatchlist   = errors.New("source and target watchlist are the same")
	ErrNotPermutation  = errors.New("order is not a permutation of the current items")
	ErrNotConfirmed    = errors.New("action not confirmed")
	ErrUnsupportedFile = errors.New("unsupported file type: use .csv, .xlsx or .xls")
)

// Session errors.
var (
	// ErrAuthRequired means the operation needs a signed-in user.
	ErrAuthRequired = errors.New("sign in required")

	// ErrGuestUnsupported means the operation has no meaning for the single
	// guest watchlist.
	ErrGuestUnsupported = errors.New("not available in guest mode")
)
