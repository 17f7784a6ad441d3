package feed

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"vinsight/internal/domain"
	"vinsight/internal/quote"
	"vinsight/internal/util"
)

type fakeSource struct {
	mu     sync.Mutex
	latest *domain.Quote
	subs   map[int]chan domain.Quote
	next   int
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(map[int]chan domain.Quote)}
}

func (f *fakeSource) Subscribe(bufSize int) (int, <-chan domain.Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan domain.Quote, bufSize)
	id := f.next
	f.next++
	f.subs[id] = ch
	return id, ch
}

func (f *fakeSource) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

func (f *fakeSource) State() quote.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return quote.State{Quote: f.latest}
}

func (f *fakeSource) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSource) publish(q domain.Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = &q
	for _, ch := range f.subs {
		ch <- q
	}
}

func testQuote(symbol, price string) domain.Quote {
	ts := time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)
	return domain.NewQuote(symbol, decimal.RequireFromString(price), decimal.RequireFromString("100"),
		domain.MarketStateRegular, ts)
}

func startFeed(t *testing.T, src Source) *Client {
	t.Helper()
	ln := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewServer(src, util.Discard()).Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return NewClient("passthrough:///bufnet", util.Discard(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return ln.DialContext(ctx)
		}))
}

func TestCodecRoundTrip(t *testing.T) {
	in := testQuote("AAPL", "101.5")
	s, err := quoteToStruct(in)
	if err != nil {
		t.Fatalf("quoteToStruct: %v", err)
	}
	out, err := quoteFromStruct(s)
	if err != nil {
		t.Fatalf("quoteFromStruct: %v", err)
	}
	if out.Symbol != "AAPL" || !out.CurrentPrice.Equal(in.CurrentPrice) || !out.ChangePercent.Equal(in.ChangePercent) {
		t.Errorf("out = %+v, want %+v", out, in)
	}
	if !out.Timestamp.Equal(in.Timestamp) || out.MarketState != domain.MarketStateRegular {
		t.Errorf("timestamp/state = %v %q", out.Timestamp, out.MarketState)
	}
}

func TestSymbolFilter(t *testing.T) {
	req, err := symbolsRequest([]string{"aapl", " ", "MSFT"})
	if err != nil {
		t.Fatal(err)
	}
	f := symbolFilter(req)
	if len(f) != 2 || !f["AAPL"] || !f["MSFT"] {
		t.Errorf("filter = %v", f)
	}

	empty, _ := symbolsRequest(nil)
	if symbolFilter(empty) != nil {
		t.Error("empty request must not filter")
	}
}

func TestStreamSnapshotThenLive(t *testing.T) {
	src := newFakeSource()
	src.publish(testQuote("AAPL", "101"))
	client := startFeed(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan domain.Quote, 8)
	errc := make(chan error, 1)
	go func() { errc <- client.Sync(ctx, nil, func(q domain.Quote) { got <- q }) }()

	first := <-got
	if first.Symbol != "AAPL" || first.CurrentPrice.String() != "101" {
		t.Fatalf("snapshot = %+v", first)
	}

	deadline := time.Now().Add(2 * time.Second)
	for src.subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	src.publish(testQuote("MSFT", "420"))
	if q := <-got; q.Symbol != "MSFT" {
		t.Errorf("live quote = %+v", q)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Sync after cancel = %v", err)
	}
}

func TestStreamFiltersSymbols(t *testing.T) {
	src := newFakeSource()
	client := startFeed(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan domain.Quote, 8)
	go client.Sync(ctx, []string{"msft"}, func(q domain.Quote) { got <- q })

	deadline := time.Now().Add(2 * time.Second)
	for src.subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	src.publish(testQuote("AAPL", "101"))
	src.publish(testQuote("MSFT", "420"))

	select {
	case q := <-got:
		if q.Symbol != "MSFT" {
			t.Errorf("received %s, want only MSFT", q.Symbol)
		}
	case <-ctx.Done():
		t.Fatal("no quote received")
	}
}
