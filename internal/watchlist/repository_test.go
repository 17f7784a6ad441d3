package watchlist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"vinsight/internal/domain"
	"vinsight/internal/store"
	"vinsight/internal/util"
	"vinsight/pkg/vinsight"
)

func newGuestKV(t *testing.T) store.KV {
	t.Helper()
	kv, err := store.NewSQLiteKV(filepath.Join(t.TempDir(), "guest.db"))
	if err != nil {
		t.Fatalf("NewSQLiteKV: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestGuestStarterList(t *testing.T) {
	kv := newGuestKV(t)
	ctx := context.Background()

	lists, err := NewGuestRepository(kv, util.Discard()).List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(lists) != 1 {
		t.Fatalf("got %d guest lists, want 1", len(lists))
	}
	w := lists[0]
	if w.ID != domain.GuestWatchlistID || w.Name != DefaultGuestName {
		t.Errorf("starter list = %+v", w)
	}
	if !slices.Equal(w.Stocks, DefaultGuestStocks) {
		t.Errorf("starter stocks = %v, want %v", w.Stocks, DefaultGuestStocks)
	}

	// The starter list is persisted immediately.
	raw, err := kv.Get(ctx, GuestStorageKey)
	if err != nil {
		t.Fatalf("starter list not saved: %v", err)
	}
	var saved domain.Watchlist
	if err := json.Unmarshal([]byte(raw), &saved); err != nil || saved.ID != -1 {
		t.Errorf("saved = %s (%v)", raw, err)
	}
}

func TestGuestMutationsSurviveReload(t *testing.T) {
	kv := newGuestKV(t)
	ctx := context.Background()

	m := NewManager(NewGuestRepository(kv, util.Discard()), nil, util.Discard())
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	id := domain.GuestWatchlistID
	if err := m.AddStock(ctx, id, "tsla"); err != nil {
		t.Fatalf("AddStock: %v", err)
	}
	if err := m.RemoveStock(ctx, id, "MSFT"); err != nil {
		t.Fatalf("RemoveStock: %v", err)
	}
	if err := m.DropStock(ctx, id, "TSLA", "AAPL"); err != nil {
		t.Fatalf("DropStock: %v", err)
	}
	before, _ := m.Watchlist(id)

	// Simulated reload: fresh repository and manager over the same storage.
	reloaded := NewManager(NewGuestRepository(kv, util.Discard()), nil, util.Discard())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	after, ok := reloaded.Watchlist(id)
	if !ok {
		t.Fatal("guest list missing after reload")
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("after reload = %+v, want %+v", after, before)
	}
	if want := []string{"TSLA", "AAPL", "GOOGL", "AMZN", "NVDA"}; !slices.Equal(after.Stocks, want) {
		t.Errorf("stocks = %v, want %v", after.Stocks, want)
	}
}

func TestGuestUnsupportedOperations(t *testing.T) {
	kv := store.NewFileKV(filepath.Join(t.TempDir(), "local.json"), util.Discard())
	m := NewManager(NewGuestRepository(kv, util.Discard()), nil, util.Discard())
	m.SetConfirm(func(string) bool { return true })
	ctx := context.Background()
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := m.CreateWatchlist(ctx, "Tech"); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("CreateWatchlist = %v, want ErrAuthRequired", err)
	}
	if err := m.DeleteWatchlist(ctx, domain.GuestWatchlistID); !errors.Is(err, ErrGuestUnsupported) {
		t.Errorf("DeleteWatchlist = %v, want ErrGuestUnsupported", err)
	}
	if _, err := m.ImportFile(ctx, domain.GuestWatchlistID, "x.csv", strings.NewReader("")); !errors.Is(err, ErrAuthRequired) {
		t.Errorf("ImportFile = %v, want ErrAuthRequired", err)
	}
	if err := m.ReorderWatchlists(ctx, []int{domain.GuestWatchlistID}); err != nil {
		t.Errorf("ReorderWatchlists of the single guest list = %v", err)
	}
	if len(m.Watchlists()) != 1 {
		t.Error("guest must still own exactly one list")
	}
}

func TestGuestCorruptStorageResets(t *testing.T) {
	kv := newGuestKV(t)
	ctx := context.Background()
	kv.Set(ctx, GuestStorageKey, "{not json")

	lists, err := NewGuestRepository(kv, util.Discard()).List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !slices.Equal(lists[0].Stocks, DefaultGuestStocks) {
		t.Errorf("stocks = %v, want starter set", lists[0].Stocks)
	}
}

func TestRemoteRepository(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/watchlists/":
			w.Write([]byte(`[{"id":4,"name":"Tech","stocks":["aapl","AAPL","msft"],"position":2}]`))
		case r.URL.Path == "/api/watchlists/4/move":
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Not authenticated"}`))
		case r.URL.Path == "/api/watchlists/9/add":
			http.Error(w, `{"detail":"Watchlist not found"}`, http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	repo := NewRemoteRepository(vinsight.NewClient(srv.URL))
	ctx := context.Background()

	lists, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(lists) != 1 || !slices.Equal(lists[0].Stocks, []string{"AAPL", "MSFT"}) || lists[0].Position != 2 {
		t.Errorf("List = %+v", lists)
	}

	_, err = repo.MoveStock(ctx, 4, 5, "AAPL")
	if !errors.Is(err, ErrAuthRequired) {
		t.Errorf("MoveStock error = %v, want ErrAuthRequired", err)
	}
	var apiErr *vinsight.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("original APIError lost: %v", err)
	}

	if _, err := repo.AddStock(ctx, 9, "AAPL"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddStock error = %v, want ErrNotFound", err)
	}
}

func TestClientPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"aapl","name":"Apple","currentPrice":190.25,"change":1.5,"changePercent":0.79,"peRatio":30}]`))
	}))
	defer srv.Close()

	rows, err := NewClientPrices(vinsight.NewClient(srv.URL)).BatchStock(context.Background(), []string{"AAPL"})
	if err != nil {
		t.Fatalf("BatchStock: %v", err)
	}
	if len(rows) != 1 || rows[0].Symbol != "AAPL" || rows[0].CurrentPrice.String() != "190.25" {
		t.Errorf("rows = %+v", rows)
	}
	if !strings.Contains(string(rows[0].Raw), "peRatio") {
		t.Errorf("raw row = %s", rows[0].Raw)
	}
}
