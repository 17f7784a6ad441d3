package quote

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"vinsight/internal/domain"
	"vinsight/internal/util"
)

// ErrNoTicker is returned by Refetch when no ticker is focused.
var ErrNoTicker = errors.New("no ticker selected")

// Fetcher loads the latest quote for one symbol.
type Fetcher interface {
	FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error)
}

// State is a point-in-time view of the scheduler.
type State struct {
	Ticker   string        `json:"ticker"`
	Quote    *domain.Quote `json:"quote"`
	Loading  bool          `json:"loading"`
	Err      error         `json:"-"`
	Interval time.Duration `json:"interval"`
	Polling  bool          `json:"polling"`
	Enabled  bool          `json:"enabled"`
	Visible  bool          `json:"visible"`
}

// Scheduler polls one focused ticker. It is either idle or polling; it
// polls only while a ticker is set, it is enabled, the display is visible
// and it has not been closed. While polling there is at most one pending
// timer. Leaving the polling state cancels any in-flight fetch, and a result
// that arrives afterwards is discarded.
type Scheduler struct {
	fetcher Fetcher
	clock   Clock
	cal     *util.TradingCalendar
	log     *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	onError  func(symbol string, err error)
	ticker   string
	enabled  bool
	visible  bool
	closed   bool
	polling  bool
	gen      uint64 // bumped whenever in-flight results must be dropped
	seq      uint64 // identifies the pending timer
	timer    Timer
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	quote    *domain.Quote
	loading  bool
	err      error

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan domain.Quote
}

// NewScheduler creates an idle Scheduler. It starts enabled and visible;
// polling begins once a ticker is set.
func NewScheduler(fetcher Fetcher, cal *util.TradingCalendar, log *slog.Logger) *Scheduler {
	if log == nil {
		log = util.Discard()
	}
	if cal == nil {
		cal = util.NewTradingCalendar(domain.MarketUS)
	}
	return &Scheduler{
		fetcher: fetcher,
		clock:   realClock{},
		cal:     cal,
		log:     log.With("component", "quote-scheduler"),
		enabled: true,
		visible: true,
		subs:    make(map[int]chan domain.Quote),
	}
}

// SetRequestTimeout bounds each fetch. Zero means no bound beyond
// cancellation.
func (s *Scheduler) SetRequestTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// SetErrorHandler installs a callback invoked after every failed poll.
func (s *Scheduler) SetErrorHandler(fn func(symbol string, err error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// SetTicker focuses a new ticker. An empty symbol stops polling. Switching
// tickers tears down the current cycle and starts a fresh one with an
// immediate fetch.
func (s *Scheduler) SetTicker(symbol string) {
	symbol = domain.NormalizeSymbol(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if symbol == s.ticker {
		return
	}
	s.stopLocked()
	s.gen++
	s.ticker = symbol
	s.quote = nil
	s.err = nil
	s.loading = false
	s.reconcileLocked()
}

// SetEnabled turns polling on or off.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	s.reconcileLocked()
}

// SetVisible reports whether the quote is on screen. Hidden means no
// polling; becoming visible again fetches immediately.
func (s *Scheduler) SetVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = visible
	s.reconcileLocked()
}

// Close stops polling for good and closes all subscriber channels.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.reconcileLocked()
	s.mu.Unlock()

	s.subsMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

// State returns the current ticker, quote, loading flag, last error and
// cadence.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Ticker:   s.ticker,
		Loading:  s.loading,
		Err:      s.err,
		Interval: s.interval,
		Polling:  s.polling,
		Enabled:  s.enabled,
		Visible:  s.visible,
	}
	if s.quote != nil {
		q := *s.quote
		st.Quote = &q
	}
	return st
}

// Refetch fetches the focused ticker now and returns the fetch error. While
// polling, the next tick is rescheduled from this result.
func (s *Scheduler) Refetch(ctx context.Context) error {
	s.mu.Lock()
	symbol, gen := s.ticker, s.gen
	if symbol == "" {
		s.mu.Unlock()
		return ErrNoTicker
	}
	s.loading = true
	timeout := s.timeout
	s.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	q, err := s.fetcher.FetchQuote(ctx, symbol)
	return s.apply(gen, symbol, q, err)
}

// ---------------------------------------------------------------------------
// State machine (mu held)
// ---------------------------------------------------------------------------

func (s *Scheduler) reconcileLocked() {
	want := s.ticker != "" && s.enabled && s.visible && !s.closed
	switch {
	case want && !s.polling:
		s.startLocked()
	case !want && s.polling:
		s.stopLocked()
	}
}

// startLocked enters the polling state with an immediate fetch.
func (s *Scheduler) startLocked() {
	s.polling = true
	s.gen++
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.log.Debug("polling started", "ticker", s.ticker)
	go s.poll(s.ctx, s.gen, 0)
}

// stopLocked returns to idle: the timer is stopped and any in-flight fetch
// is cancelled and orphaned.
func (s *Scheduler) stopLocked() {
	if !s.polling {
		return
	}
	s.polling = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.loading = false
	s.log.Debug("polling stopped", "ticker", s.ticker)
}

func (s *Scheduler) scheduleLocked(ctx context.Context, gen uint64) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.seq++
	seq := s.seq
	s.timer = s.clock.AfterFunc(s.interval, func() { s.poll(ctx, gen, seq) })
}

// ---------------------------------------------------------------------------
// Polling
// ---------------------------------------------------------------------------

// poll runs one fetch. seq is zero for the immediate fetch on activation and
// the timer's sequence number otherwise; a superseded timer does nothing.
func (s *Scheduler) poll(ctx context.Context, gen, seq uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.polling || (seq != 0 && seq != s.seq) {
		s.mu.Unlock()
		return
	}
	symbol, timeout := s.ticker, s.timeout
	if seq != 0 {
		s.timer = nil
	}
	s.loading = true
	s.mu.Unlock()

	fctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	q, err := s.fetcher.FetchQuote(fctx, symbol)
	s.apply(gen, symbol, q, err)
}

// apply records a fetch result if it still belongs to the current
// generation, recomputes the cadence and reschedules while polling. It
// returns the fetch error, or an error for an empty response.
func (s *Scheduler) apply(gen uint64, symbol string, q *domain.Quote, err error) error {
	if err == nil && q == nil {
		err = errors.New("empty quote response")
	}

	s.mu.Lock()
	if gen != s.gen || symbol != s.ticker {
		s.mu.Unlock()
		s.log.Debug("dropping stale quote result", "ticker", symbol)
		return err
	}
	s.loading = false
	now := s.clock.Now()
	if err != nil {
		s.err = err
		if s.interval == 0 {
			s.interval = PollInterval("", now, s.cal)
		}
	} else {
		cp := *q
		s.quote = &cp
		s.err = nil
		s.interval = PollInterval(q.MarketState, now, s.cal)
	}
	if s.polling {
		s.scheduleLocked(s.ctx, gen)
	}
	interval, onError := s.interval, s.onError
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("fetching quote", "ticker", symbol, "error", err, "retry_in", interval)
		if onError != nil {
			onError(symbol, err)
		}
		return err
	}
	s.broadcast(*q)
	return nil
}

// ---------------------------------------------------------------------------
// Pub/sub
// ---------------------------------------------------------------------------

// Subscribe returns a channel that receives every successful quote. bufSize
// controls the channel buffer; slow consumers will have quotes dropped.
func (s *Scheduler) Subscribe(bufSize int) (int, <-chan domain.Quote) {
	ch := make(chan domain.Quote, bufSize)
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Scheduler) Unsubscribe(id int) {
	s.subsMu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

func (s *Scheduler) broadcast(q domain.Quote) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- q:
		default:
		}
	}
}
