package quote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"vinsight/internal/domain"
	"vinsight/internal/util"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due callbacks on the caller's
// goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	state domain.MarketState
	err   error
	gates map[string]chan struct{}
}

func (f *fakeFetcher) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	f.mu.Lock()
	f.calls = append(f.calls, symbol)
	state, err, gate := f.state, f.err, f.gates[symbol]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	q := domain.NewQuote(symbol, decimal.NewFromInt(101), decimal.NewFromInt(100), state, time.Now())
	return &q, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) set(state domain.MarketState, err error) {
	f.mu.Lock()
	f.state, f.err = state, err
	f.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestScheduler(f *fakeFetcher) (*Scheduler, *fakeClock) {
	clock := &fakeClock{now: et(10, 0)}
	s := NewScheduler(f, util.NewTradingCalendar(domain.MarketUS), util.Discard())
	s.clock = clock
	return s, clock
}

// settled waits until n fetches happened and the follow-up timer is armed.
func settled(t *testing.T, f *fakeFetcher, c *fakeClock, n int) {
	t.Helper()
	waitFor(t, "fetch and reschedule", func() bool { return f.count() == n && c.pending() == 1 })
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSchedulerIdleWithoutTicker(t *testing.T) {
	f := &fakeFetcher{state: domain.MarketStateRegular}
	s, clock := newTestScheduler(f)
	defer s.Close()

	s.SetVisible(true)
	s.SetEnabled(true)
	time.Sleep(20 * time.Millisecond)
	if f.count() != 0 || clock.pending() != 0 {
		t.Errorf("idle scheduler made %d fetches, %d timers", f.count(), clock.pending())
	}
	if st := s.State(); st.Polling || st.Quote != nil {
		t.Errorf("state = %+v, want idle", st)
	}
}

func TestSchedulerPollsAndReschedules(t *testing.T) {
	f := &fakeFetcher{state: domain.MarketStateRegular}
	s, clock := newTestScheduler(f)
	defer s.Close()

	s.SetTicker("aapl")
	settled(t, f, clock, 1)

	st := s.State()
	if st.Ticker != "AAPL" || st.Quote == nil || st.Quote.Symbol != "AAPL" {
		t.Fatalf("state after first fetch = %+v", st)
	}
	if st.Interval != 30*time.Second || !st.Polling || st.Loading {
		t.Errorf("state = %+v, want polling every 30s", st)
	}

	clock.Advance(29 * time.Second)
	if f.count() != 1 {
		t.Fatalf("fetched early: %d calls", f.count())
	}
	clock.Advance(time.Second)
	settled(t, f, clock, 2)
	clock.Advance(30 * time.Second)
	settled(t, f, clock, 3)
}

func TestSchedulerIntervalFollowsMarketState(t *testing.T) {
	f := &fakeFetcher{state: domain.MarketStateClosed}
	s, clock := newTestScheduler(f)
	defer s.Close()

	s.SetTicker("MSFT")
	settled(t, f, clock, 1)
	if got := s.State().Interval; got != time.Hour {
		t.Fatalf("interval = %v, want 1h for CLOSED", got)
	}

	f.set(domain.MarketStateRegular, nil)
	clock.Advance(time.Hour)
	settled(t, f, clock, 2)
	if got := s.State().Interval; got != 30*time.Second {
		t.Errorf("interval = %v, want 30s after REGULAR quote", got)
	}
}

func TestSchedulerVisibility(t *testing.T) {
	f := &fakeFetcher{state: domain.MarketStateRegular}
	s, clock := newTestScheduler(f)
	defer s.Close()

	s.SetVisible(false)
	s.SetEnabled(true)
	s.SetTicker("AAPL")
	time.Sleep(20 * time.Millisecond)
	if f.count() != 0 || clock.pending() != 0 {
		t.Fatalf("hidden scheduler made %d fetches, %d timers", f.count(), clock.pending())
	}

	s.SetVisible(true)
	settled(t, f, clock, 1)
	time.Sleep(20 * time.Millisecond)
	if f.count() != 1 {
		t.Fatalf("becoming visible made %d fetches, want exactly 1", f.count())
	}

	s.SetVisible(false)
	if clock.pending() != 0 {
		t.Errorf("hiding left %d timers armed", clock.pending())
	}
	clock.Advance(2 * time.Hour)
	if f.count() != 1 {
		t.Errorf("hidden scheduler fetched: %d calls", f.count())
	}

	s.SetVisible(true)
	settled(t, f, clock, 2)
}

func TestSchedulerDisabled(t *testing.T) {
	f := &fakeFetcher{state: domain.MarketStateRegular}
	s, clock := newTestScheduler(f)
	defer s.Close()

	s.SetEnabled(false)
	s.SetTicker("AAPL")
	time.Sleep(20 * time.Millisecond)
	if f.count() != 0 {
		t.Fatalf("disabled scheduler fetched %d times", f.count())
	}
	s.SetEnabled(true)
	settled(t, f, clock, 1)

	s.SetTicker("")
	if st := s.State(); st.Polling || clock.pending() != 0 {
		t.Errorf("clearing the ticker should idle the scheduler: %+v", st)
	}
}

func TestSchedulerErrorKeepsSchedule(t *testing.T) {
	f := &fakeFetcher{state: domain.MarketStateClosed}
	s, clock := newTestScheduler(f)
	defer s.Close()

	var mu sync.Mutex
	var handled []string
	s.SetErrorHandler(func(symbol string, err error) {
		mu.Lock()
		handled = append(handled, symbol)
		mu.Unlock()
	})

	s.SetTicker("AAPL")
	settled(t, f, clock, 1)

	boom := errors.New("502 bad gateway")
	f.set(domain.MarketStateRegular, boom)
	clock.Advance(time.Hour)
	settled(t, f, clock, 2)

	st := s.State()
	if !errors.Is(st.Err, boom) {
		t.Errorf("State().Err = %v, want %v", st.Err, boom)
	}
	if st.Interval != time.Hour {
		t.Errorf("interval after failure = %v, want previous 1h", st.Interval)
	}
	if st.Quote == nil {
		t.Error("last good quote should survive a failed poll")
	}
	mu.Lock()
	if len(handled) != 1 || handled[0] != "AAPL" {
		t.Errorf("error handler calls = %v", handled)
	}
	mu.Unlock()

	f.set(domain.MarketStateRegular, nil)
	clock.Advance(time.Hour)
	settled(t, f, clock, 3)
	if st := s.State(); st.Err != nil || st.Interval != 30*time.Second {
		t.Errorf("state after recovery = %+v", st)
	}
}

func TestSchedulerFirstFailureUsesCalendar(t *testing.T) {
	f := &fakeFetcher{err: errors.New("offline")}
	s, clock := newTestScheduler(f)
	defer s.Close()

	s.SetTicker("AAPL")
	settled(t, f, clock, 1)
	st := s.State()
	if st.Quote != nil || st.Err == nil {
		t.Errorf("state = %+v, want error and no quote", st)
	}
	// 10:00 ET on a weekday is the regular session.
	if st.Interval != 30*time.Second {
		t.Errorf("interval = %v, want 30s from calendar", st.Interval)
	}
}

func TestSchedulerDropsStaleResult(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeFetcher{state: domain.MarketStateRegular, gates: map[string]chan struct{}{"AAPL": gate}}
	s, clock := newTestScheduler(f)
	defer s.Close()

	var errs int
	var mu sync.Mutex
	s.SetErrorHandler(func(string, error) { mu.Lock(); errs++; mu.Unlock() })

	s.SetTicker("AAPL")
	waitFor(t, "AAPL fetch in flight", func() bool { return f.count() == 1 })

	s.SetTicker("MSFT")
	settled(t, f, clock, 2)
	close(gate)
	time.Sleep(20 * time.Millisecond)

	st := s.State()
	if st.Quote == nil || st.Quote.Symbol != "MSFT" {
		t.Errorf("quote = %+v, want MSFT", st.Quote)
	}
	if clock.pending() != 1 {
		t.Errorf("%d timers armed, want 1", clock.pending())
	}
	mu.Lock()
	defer mu.Unlock()
	if errs != 0 {
		t.Errorf("cancelled fetch reached the error handler %d times", errs)
	}
}

func TestSchedulerRefetch(t *testing.T) {
	f := &fakeFetcher{state: domain.MarketStateRegular}
	s, clock := newTestScheduler(f)
	defer s.Close()
	ctx := context.Background()

	if err := s.Refetch(ctx); !errors.Is(err, ErrNoTicker) {
		t.Fatalf("Refetch without ticker = %v, want ErrNoTicker", err)
	}

	s.SetTicker("NVDA")
	settled(t, f, clock, 1)
	if err := s.Refetch(ctx); err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	if f.count() != 2 || clock.pending() != 1 {
		t.Errorf("after Refetch: %d fetches, %d timers", f.count(), clock.pending())
	}

	boom := errors.New("timeout")
	f.set(domain.MarketStateRegular, boom)
	if err := s.Refetch(ctx); !errors.Is(err, boom) {
		t.Errorf("Refetch error = %v, want %v", err, boom)
	}
	if clock.pending() != 1 {
		t.Errorf("%d timers armed after failed Refetch, want 1", clock.pending())
	}
}

type emptyFetcher struct{}

func (emptyFetcher) FetchQuote(context.Context, string) (*domain.Quote, error) { return nil, nil }

func TestSchedulerRefetchEmptyResponse(t *testing.T) {
	s := NewScheduler(emptyFetcher{}, util.NewTradingCalendar(domain.MarketUS), util.Discard())
	s.clock = &fakeClock{now: et(10, 0)}
	defer s.Close()
	s.SetEnabled(false)
	s.SetTicker("AAPL")

	if err := s.Refetch(context.Background()); err == nil {
		t.Fatal("Refetch of an empty response returned nil")
	}
	st := s.State()
	if st.Quote != nil || st.Err == nil {
		t.Errorf("state = %+v, want no quote and a recorded error", st)
	}
}

func TestSchedulerSubscribeAndClose(t *testing.T) {
	f := &fakeFetcher{state: domain.MarketStateRegular}
	s, clock := newTestScheduler(f)

	id, quotes := s.Subscribe(4)
	s.SetTicker("AMZN")
	select {
	case q := <-quotes:
		if q.Symbol != "AMZN" {
			t.Errorf("quote symbol = %s", q.Symbol)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no quote delivered")
	}
	settled(t, f, clock, 1)

	s.Close()
	if _, ok := <-quotes; ok {
		t.Error("subscriber channel should be closed")
	}
	s.Unsubscribe(id) // already closed; must not panic
	if st := s.State(); st.Polling || clock.pending() != 0 {
		t.Errorf("closed scheduler still polling: %+v", st)
	}
	s.SetTicker("TSLA")
	time.Sleep(20 * time.Millisecond)
	if f.count() != 1 {
		t.Errorf("closed scheduler fetched: %d calls", f.count())
	}
}
