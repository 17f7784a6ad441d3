package watchlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"vinsight/internal/domain"
	"vinsight/internal/util"
)

// Event types delivered to subscribers.
const (
	EventWatchlists = "watchlists"
	EventSelection  = "selection"
)

// Event is a snapshot published after every applied change.
type Event struct {
	Type       string             `json:"type"`
	Watchlists []domain.Watchlist `json:"watchlists,omitempty"`
	Selection  domain.Selection   `json:"selection"`
}

// Manager is the authoritative in-memory mirror of the session's
// watchlists. Local state changes are applied under the lock; repository
// calls are made after it is released.
type Manager struct {
	log          *slog.Logger
	prices       PriceFetcher
	confirm      func(prompt string) bool
	loadAttempts int
	retryBase    time.Duration

	mu      sync.RWMutex
	repo    Repository
	lists   []domain.Watchlist // sorted by Position
	sel     domain.Selection
	details map[string]domain.StockDetail

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// NewManager creates a Manager over repo. prices may be nil, in which case
// no row details are fetched.
func NewManager(repo Repository, prices PriceFetcher, log *slog.Logger) *Manager {
	if log == nil {
		log = util.Discard()
	}
	return &Manager{
		log:          log.With("component", "watchlist"),
		prices:       prices,
		loadAttempts: 3,
		retryBase:    500 * time.Millisecond,
		repo:         repo,
		details:      make(map[string]domain.StockDetail),
		subs:         make(map[int]chan Event),
	}
}

// SetConfirm installs the callback asked before destructive actions. With
// no callback installed every destructive action is refused.
func (m *Manager) SetConfirm(fn func(prompt string) bool) {
	m.confirm = fn
}

// SetRetry configures how Load retries a failing repository.
func (m *Manager) SetRetry(attempts int, base time.Duration) {
	if attempts > 0 {
		m.loadAttempts = attempts
	}
	if base > 0 {
		m.retryBase = base
	}
}

// ---------------------------------------------------------------------------
// Loading and session
// ---------------------------------------------------------------------------

// Load replaces local state with the repository's lists. Transient failures
// are retried; an auth failure is returned immediately.
func (m *Manager) Load(ctx context.Context) error {
	repo := m.repository()
	var lists []domain.Watchlist
	err := util.Retry(ctx, m.loadAttempts, m.retryBase, func() error {
		var err error
		lists, err = repo.List(ctx)
		if errors.Is(err, ErrAuthRequired) {
			return util.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("loading watchlists: %w", err)
	}

	sortByPosition(lists)
	m.mu.Lock()
	m.lists = lists
	if _, ok := m.indexLocked(m.sel.WatchlistID); !m.sel.HasWatchlist || !ok {
		m.selectFirstLocked()
	}
	m.mu.Unlock()

	m.log.Info("loaded watchlists", "count", len(lists))
	m.publishAll()
	return nil
}

// UseRepository switches to another session's repository and reloads.
// Nothing is carried over from the previous session.
func (m *Manager) UseRepository(ctx context.Context, repo Repository) error {
	m.mu.Lock()
	m.repo = repo
	m.lists = nil
	m.sel = domain.Selection{}
	m.details = make(map[string]domain.StockDetail)
	m.mu.Unlock()
	return m.Load(ctx)
}

func (m *Manager) repository() Repository {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repo
}

// ---------------------------------------------------------------------------
// Read side
// ---------------------------------------------------------------------------

// Watchlists returns a copy of all lists in display order.
func (m *Manager) Watchlists() []domain.Watchlist {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Watchlist returns a copy of one list.
func (m *Manager) Watchlist(id int) (domain.Watchlist, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.indexLocked(id)
	if !ok {
		return domain.Watchlist{}, false
	}
	return m.lists[i].Clone(), true
}

// Active returns the current selection.
func (m *Manager) Active() domain.Selection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sel
}

// Select makes id the active watchlist. The focused symbol is kept only if
// the new list contains it.
func (m *Manager) Select(id int) error {
	m.mu.Lock()
	i, ok := m.indexLocked(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("selecting %d: %w", id, ErrNotFound)
	}
	m.sel.WatchlistID, m.sel.HasWatchlist = id, true
	if !m.lists[i].Contains(m.sel.Symbol) {
		m.sel.Symbol = ""
	}
	m.mu.Unlock()

	m.publishSelection()
	return nil
}

// SelectSymbol focuses a ticker. An empty symbol clears the focus.
func (m *Manager) SelectSymbol(symbol string) {
	m.mu.Lock()
	m.sel.Symbol = domain.NormalizeSymbol(symbol)
	m.mu.Unlock()
	m.publishSelection()
}

// Details returns the cached batch row for symbol.
func (m *Manager) Details(symbol string) (domain.StockDetail, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.details[domain.NormalizeSymbol(symbol)]
	return d, ok
}

// RefreshPrices fetches row details for every symbol of the active list.
func (m *Manager) RefreshPrices(ctx context.Context) error {
	m.mu.RLock()
	var tickers []string
	if i, ok := m.indexLocked(m.sel.WatchlistID); ok && m.sel.HasWatchlist {
		tickers = slices.Clone(m.lists[i].Stocks)
	}
	m.mu.RUnlock()
	return m.fetchPrices(ctx, tickers)
}

func (m *Manager) fetchPrices(ctx context.Context, tickers []string) error {
	if m.prices == nil || len(tickers) == 0 {
		return nil
	}
	rows, err := m.prices.BatchStock(ctx, tickers)
	if err != nil {
		return fmt.Errorf("fetching prices: %w", err)
	}
	m.mu.Lock()
	for _, r := range rows {
		m.details[r.Symbol] = r
	}
	m.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// CreateWatchlist creates a named list, appends it and selects it.
func (m *Manager) CreateWatchlist(ctx context.Context, name string) (domain.Watchlist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Watchlist{}, ErrEmptyName
	}

	created, err := m.repository().Create(ctx, name)
	if err != nil {
		return domain.Watchlist{}, fmt.Errorf("creating watchlist %q: %w", name, err)
	}

	m.mu.Lock()
	created.Stocks = domain.DedupeSymbols(created.Stocks)
	if created.Stocks == nil {
		created.Stocks = []string{}
	}
	if next := m.nextPositionLocked(); len(m.lists) > 0 && created.Position < next {
		created.Position = next
	}
	m.lists = append(m.lists, created)
	sortByPosition(m.lists)
	m.sel = domain.Selection{WatchlistID: created.ID, HasWatchlist: true}
	m.mu.Unlock()

	m.log.Info("created watchlist", "id", created.ID, "name", name)
	m.publishAll()
	return created.Clone(), nil
}

// DeleteWatchlist removes a list after confirmation. The removal is applied
// locally first; a repository failure is returned but not rolled back.
func (m *Manager) DeleteWatchlist(ctx context.Context, id int) error {
	if id == domain.GuestWatchlistID {
		return ErrGuestUnsupported
	}

	m.mu.RLock()
	i, ok := m.indexLocked(id)
	var name string
	if ok {
		name = m.lists[i].Name
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("deleting %d: %w", id, ErrNotFound)
	}
	if m.confirm == nil || !m.confirm(fmt.Sprintf("Delete watchlist %q?", name)) {
		return ErrNotConfirmed
	}

	m.mu.Lock()
	if i, ok := m.indexLocked(id); ok {
		m.lists = slices.Delete(m.lists, i, i+1)
	}
	if m.sel.WatchlistID == id {
		m.selectFirstLocked()
	}
	m.mu.Unlock()
	m.publishAll()

	if err := m.repository().Delete(ctx, id); err != nil {
		m.log.Error("deleting watchlist", "id", id, "error", err)
		return fmt.Errorf("deleting watchlist %d: %w", id, err)
	}
	return nil
}

// AddStock appends symbol to a list unless already present, persists the
// change and fetches a price row for it. A duplicate add is a silent no-op.
func (m *Manager) AddStock(ctx context.Context, id int, symbol string) error {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return ErrEmptySymbol
	}

	m.mu.Lock()
	i, ok := m.indexLocked(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("adding %s to %d: %w", symbol, id, ErrNotFound)
	}
	if m.lists[i].Contains(symbol) {
		m.mu.Unlock()
		return nil
	}
	m.lists[i].Stocks = append(m.lists[i].Stocks, symbol)
	m.mu.Unlock()
	m.publishAll()

	updated, err := m.repository().AddStock(ctx, id, symbol)
	if err != nil {
		m.log.Error("adding stock", "id", id, "symbol", symbol, "error", err)
		return fmt.Errorf("adding %s to watchlist %d: %w", symbol, id, err)
	}
	m.reconcile(updated)

	if err := m.fetchPrices(ctx, []string{symbol}); err != nil {
		m.log.Warn("fetching price for new stock", "symbol", symbol, "error", err)
	}
	return nil
}

// RemoveStock removes symbol from a list. Removing an absent symbol is a
// no-op.
func (m *Manager) RemoveStock(ctx context.Context, id int, symbol string) error {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return ErrEmptySymbol
	}

	m.mu.Lock()
	i, ok := m.indexLocked(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("removing %s from %d: %w", symbol, id, ErrNotFound)
	}
	j := m.lists[i].IndexOf(symbol)
	if j < 0 {
		m.mu.Unlock()
		return nil
	}
	m.lists[i].Stocks = slices.Delete(m.lists[i].Stocks, j, j+1)
	if m.sel.WatchlistID == id && m.sel.Symbol == symbol {
		m.sel.Symbol = ""
	}
	m.mu.Unlock()
	m.publishAll()

	updated, err := m.repository().RemoveStock(ctx, id, symbol)
	if err != nil {
		m.log.Error("removing stock", "id", id, "symbol", symbol, "error", err)
		return fmt.Errorf("removing %s from watchlist %d: %w", symbol, id, err)
	}
	m.reconcile(updated)
	return nil
}

// MoveStock moves symbol from srcID to dstID. Nothing changes locally until
// the repository confirms the move.
func (m *Manager) MoveStock(ctx context.Context, srcID, dstID int, symbol string) error {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return ErrEmptySymbol
	}
	if srcID == dstID {
		return ErrSameWatchlist
	}
	if srcID == domain.GuestWatchlistID || dstID == domain.GuestWatchlistID {
		return ErrGuestUnsupported
	}

	m.mu.RLock()
	si, srcOK := m.indexLocked(srcID)
	_, dstOK := m.indexLocked(dstID)
	inSource := srcOK && m.lists[si].Contains(symbol)
	m.mu.RUnlock()
	switch {
	case !srcOK:
		return fmt.Errorf("moving from %d: %w", srcID, ErrNotFound)
	case !dstOK:
		return fmt.Errorf("moving to %d: %w", dstID, ErrNotFound)
	case !inSource:
		return fmt.Errorf("moving %s: %w", symbol, ErrSymbolNotInList)
	}

	if _, err := m.repository().MoveStock(ctx, srcID, dstID, symbol); err != nil {
		m.log.Error("moving stock", "from", srcID, "to", dstID, "symbol", symbol, "error", err)
		return fmt.Errorf("moving %s from %d to %d: %w", symbol, srcID, dstID, err)
	}

	m.mu.Lock()
	if i, ok := m.indexLocked(srcID); ok {
		if j := m.lists[i].IndexOf(symbol); j >= 0 {
			m.lists[i].Stocks = slices.Delete(m.lists[i].Stocks, j, j+1)
		}
	}
	if i, ok := m.indexLocked(dstID); ok && !m.lists[i].Contains(symbol) {
		m.lists[i].Stocks = append(m.lists[i].Stocks, symbol)
	}
	if m.sel.WatchlistID == srcID && m.sel.Symbol == symbol {
		m.sel.Symbol = ""
	}
	m.mu.Unlock()

	m.log.Info("moved stock", "from", srcID, "to", dstID, "symbol", symbol)
	m.publishAll()
	return nil
}

// ReorderWatchlists rewrites every list's position to its index in ids,
// which must be a permutation of the current ids. The new order is kept even
// if persisting it fails.
func (m *Manager) ReorderWatchlists(ctx context.Context, ids []int) error {
	m.mu.Lock()
	current := make([]int, len(m.lists))
	for i, w := range m.lists {
		current[i] = w.ID
	}
	if !isPermutation(current, ids) {
		m.mu.Unlock()
		return ErrNotPermutation
	}
	rank := make(map[int]int, len(ids))
	for i, id := range ids {
		rank[id] = i
	}
	for i := range m.lists {
		m.lists[i].Position = rank[m.lists[i].ID]
	}
	sortByPosition(m.lists)
	m.mu.Unlock()
	m.publishAll()

	if err := m.repository().ReorderWatchlists(ctx, slices.Clone(ids)); err != nil {
		m.log.Error("persisting watchlist order", "ids", ids, "error", err)
		return fmt.Errorf("reordering watchlists: %w", err)
	}
	return nil
}

// ReorderStocks replaces a list's symbol order with symbols, which must be
// a permutation of its current stocks. The new order is kept even if
// persisting it fails.
func (m *Manager) ReorderStocks(ctx context.Context, id int, symbols []string) error {
	ordered := make([]string, len(symbols))
	for i, s := range symbols {
		ordered[i] = domain.NormalizeSymbol(s)
	}

	m.mu.Lock()
	i, ok := m.indexLocked(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("reordering %d: %w", id, ErrNotFound)
	}
	if !isPermutation(m.lists[i].Stocks, ordered) {
		m.mu.Unlock()
		return ErrNotPermutation
	}
	m.lists[i].Stocks = ordered
	m.mu.Unlock()
	m.publishAll()

	if err := m.repository().ReorderStocks(ctx, id, slices.Clone(ordered)); err != nil {
		m.log.Error("persisting stock order", "id", id, "error", err)
		return fmt.Errorf("reordering watchlist %d: %w", id, err)
	}
	return nil
}

// DropWatchlist handles a drag-end over the watchlist tabs: the list
// activeID is relocated to the index of overID.
func (m *Manager) DropWatchlist(ctx context.Context, activeID, overID int) error {
	if activeID == overID {
		return nil
	}
	m.mu.RLock()
	from, okFrom := m.indexLocked(activeID)
	to, okTo := m.indexLocked(overID)
	ids := make([]int, len(m.lists))
	for i, w := range m.lists {
		ids[i] = w.ID
	}
	m.mu.RUnlock()
	if !okFrom || !okTo {
		return nil
	}
	return m.ReorderWatchlists(ctx, MoveElement(ids, from, to))
}

// DropStock handles a drag-end inside one list: activeSymbol is relocated
// to the index of overSymbol.
func (m *Manager) DropStock(ctx context.Context, id int, activeSymbol, overSymbol string) error {
	m.mu.RLock()
	i, ok := m.indexLocked(id)
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("reordering %d: %w", id, ErrNotFound)
	}
	stocks := slices.Clone(m.lists[i].Stocks)
	from, to := m.lists[i].IndexOf(activeSymbol), m.lists[i].IndexOf(overSymbol)
	m.mu.RUnlock()
	if from < 0 || to < 0 || from == to {
		return nil
	}
	return m.ReorderStocks(ctx, id, MoveElement(stocks, from, to))
}

var importExtensions = map[string]bool{".csv": true, ".xlsx": true, ".xls": true}

// ImportFile uploads a symbol file to be merged into a list. The backend's
// parse error, if any, is returned with its message intact.
func (m *Manager) ImportFile(ctx context.Context, id int, filename string, r io.Reader) (domain.Watchlist, error) {
	if !importExtensions[strings.ToLower(filepath.Ext(filename))] {
		return domain.Watchlist{}, ErrUnsupportedFile
	}
	if _, ok := m.Watchlist(id); !ok {
		return domain.Watchlist{}, fmt.Errorf("importing into %d: %w", id, ErrNotFound)
	}

	updated, err := m.repository().Import(ctx, id, filename, r)
	if err != nil {
		m.log.Error("importing watchlist file", "id", id, "file", filename, "error", err)
		return domain.Watchlist{}, err
	}
	m.reconcile(updated)
	m.log.Info("imported watchlist file", "id", id, "file", filename, "stocks", len(updated.Stocks))

	out, _ := m.Watchlist(id)
	return out, nil
}

// reconcile adopts the stocks of a list as returned by the repository. The
// local position is kept.
func (m *Manager) reconcile(w domain.Watchlist) {
	if w.Stocks == nil {
		return
	}
	m.mu.Lock()
	i, ok := m.indexLocked(w.ID)
	if !ok {
		m.mu.Unlock()
		return
	}
	stocks := domain.DedupeSymbols(w.Stocks)
	changed := !slices.Equal(m.lists[i].Stocks, stocks) || (w.Name != "" && w.Name != m.lists[i].Name)
	m.lists[i].Stocks = stocks
	if w.Name != "" {
		m.lists[i].Name = w.Name
	}
	m.mu.Unlock()
	if changed {
		m.publishAll()
	}
}

// ---------------------------------------------------------------------------
// Helpers (mu held)
// ---------------------------------------------------------------------------

func (m *Manager) indexLocked(id int) (int, bool) {
	for i, w := range m.lists {
		if w.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (m *Manager) selectFirstLocked() {
	if len(m.lists) == 0 {
		m.sel = domain.Selection{}
		return
	}
	first := m.lists[0]
	sym := m.sel.Symbol
	if !first.Contains(sym) {
		sym = ""
	}
	m.sel = domain.Selection{WatchlistID: first.ID, HasWatchlist: true, Symbol: sym}
}

func (m *Manager) nextPositionLocked() int {
	next := 0
	for _, w := range m.lists {
		if w.Position >= next {
			next = w.Position + 1
		}
	}
	return next
}

func (m *Manager) snapshotLocked() []domain.Watchlist {
	out := make([]domain.Watchlist, len(m.lists))
	for i, w := range m.lists {
		out[i] = w.Clone()
	}
	return out
}

func sortByPosition(lists []domain.Watchlist) {
	sort.SliceStable(lists, func(i, j int) bool {
		return lists[i].Position < lists[j].Position
	})
}

// ---------------------------------------------------------------------------
// Pub/sub
// ---------------------------------------------------------------------------

// Subscribe returns a channel that receives events. bufSize controls the
// channel buffer; slow consumers will have events dropped.
func (m *Manager) Subscribe(bufSize int) (int, <-chan Event) {
	ch := make(chan Event, bufSize)
	m.subsMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = ch
	m.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *Manager) Unsubscribe(id int) {
	m.subsMu.Lock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
	m.subsMu.Unlock()
}

func (m *Manager) publishAll() {
	m.mu.RLock()
	e := Event{Type: EventWatchlists, Watchlists: m.snapshotLocked(), Selection: m.sel}
	m.mu.RUnlock()
	m.broadcast(e)
}

func (m *Manager) publishSelection() {
	m.mu.RLock()
	e := Event{Type: EventSelection, Selection: m.sel}
	m.mu.RUnlock()
	m.broadcast(e)
}

// broadcast sends an event to all subscribers non-blocking (drop on full).
func (m *Manager) broadcast(e Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
