package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"vinsight/internal/domain"
	"vinsight/internal/util"
)

func testKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	if _, err := kv.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if err := kv.Set(ctx, "k", `{"a":1}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Set(ctx, "k", `{"a":2}`); err != nil {
		t.Fatalf("Set (overwrite): %v", err)
	}
	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != `{"a":2}` {
		t.Errorf("Get = %q, want overwritten value", got)
	}
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete (missing): %v", err)
	}
	if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteKV(t *testing.T) {
	kv, err := NewSQLiteKV(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("NewSQLiteKV: %v", err)
	}
	defer kv.Close()
	testKV(t, kv)
}

func TestSQLiteKVPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	kv, err := NewSQLiteKV(path)
	if err != nil {
		t.Fatalf("NewSQLiteKV: %v", err)
	}
	if err := kv.Set(ctx, "vinsight_guest_watchlist", "[1]"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	kv.Close()

	reopened, err := NewSQLiteKV(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if v, err := reopened.Get(ctx, "vinsight_guest_watchlist"); err != nil || v != "[1]" {
		t.Errorf("Get after reopen = %q, %v", v, err)
	}
}

func TestFileKV(t *testing.T) {
	testKV(t, NewFileKV(filepath.Join(t.TempDir(), "local.json"), util.Discard()))
}

func TestFileKVPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "local.json")
	ctx := context.Background()

	if err := NewFileKV(path, util.Discard()).Set(ctx, "a", "b"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := NewFileKV(path, util.Discard()).Get(ctx, "a"); err != nil || v != "b" {
		t.Errorf("Get after reload = %q, %v", v, err)
	}
}

func TestFileKVNullFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.json")
	if err := os.WriteFile(path, []byte("null"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	kv := NewFileKV(path, util.Discard())
	if _, err := kv.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on null file = %v, want ErrNotFound", err)
	}
	if err := kv.Set(ctx, "a", "b"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := NewFileKV(path, util.Discard()).Get(ctx, "a"); err != nil || v != "b" {
		t.Errorf("Get after reload = %q, %v", v, err)
	}
}

func TestOpenKV(t *testing.T) {
	dir := t.TempDir()
	kv, err := OpenKV("file", filepath.Join(dir, "kv.db"), filepath.Join(dir, "kv.json"), util.Discard())
	if err != nil {
		t.Fatalf("OpenKV(file): %v", err)
	}
	if _, ok := kv.(*FileKV); !ok {
		t.Errorf("OpenKV(file) = %T, want *FileKV", kv)
	}
	kv, err = OpenKV("", filepath.Join(dir, "kv.db"), "", util.Discard())
	if err != nil {
		t.Fatalf("OpenKV(default): %v", err)
	}
	defer kv.Close()
	if _, ok := kv.(*SQLiteKV); !ok {
		t.Errorf("OpenKV(default) = %T, want *SQLiteKV", kv)
	}
	if _, err := OpenKV("redis", "", "", util.Discard()); err == nil {
		t.Error("OpenKV(redis) should fail")
	}
}

func TestParquetQuotePath(t *testing.T) {
	ps := NewParquetQuoteStore("/data")

	// 02:00 UTC on June 4 is still June 3 in Eastern.
	ts := time.Date(2024, 6, 4, 2, 0, 0, 0, time.UTC)
	got := ps.quotePath("aapl", ts)
	want := filepath.Join("/data", "us", "quotes", "AAPL", "2024-06-03.parquet")
	if got != want {
		t.Errorf("quotePath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func quoteAt(symbol string, price float64, ts time.Time) domain.Quote {
	return domain.NewQuote(symbol, decimal.NewFromFloat(price), decimal.NewFromFloat(100), domain.MarketStateRegular, ts)
}

func TestParquetQuoteStoreWriteRead(t *testing.T) {
	ps := NewParquetQuoteStore(t.TempDir())
	ctx := context.Background()

	t0 := time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)
	quotes := []domain.Quote{
		quoteAt("AAPL", 101, t0.Add(time.Minute)),
		quoteAt("AAPL", 100.5, t0),
		quoteAt("MSFT", 420, t0),
	}
	if err := ps.WriteQuotes(ctx, quotes); err != nil {
		t.Fatalf("WriteQuotes: %v", err)
	}

	got, err := ps.ReadQuotes(ctx, "AAPL", t0.Add(-time.Hour), t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReadQuotes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadQuotes returned %d quotes, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(t0) || !got[0].CurrentPrice.Equal(decimal.NewFromFloat(100.5)) {
		t.Errorf("first quote = %+v", got[0])
	}
	if got[1].MarketState != domain.MarketStateRegular {
		t.Errorf("second quote state = %q", got[1].MarketState)
	}

	symbols, err := ps.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "MSFT" {
		t.Errorf("ListSymbols = %v, want [AAPL MSFT]", symbols)
	}
}

func TestParquetQuoteStoreMerge(t *testing.T) {
	ps := NewParquetQuoteStore(t.TempDir())
	ctx := context.Background()
	t0 := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)

	if err := ps.WriteQuotes(ctx, []domain.Quote{quoteAt("NVDA", 120, t0)}); err != nil {
		t.Fatalf("WriteQuotes (first): %v", err)
	}
	// Same timestamp replaces; a new one appends.
	if err := ps.WriteQuotes(ctx, []domain.Quote{
		quoteAt("NVDA", 121, t0),
		quoteAt("NVDA", 122, t0.Add(30*time.Second)),
	}); err != nil {
		t.Fatalf("WriteQuotes (second): %v", err)
	}

	got, err := ps.ReadQuotes(ctx, "NVDA", t0, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("ReadQuotes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d quotes after merge, want 2", len(got))
	}
	if !got[0].CurrentPrice.Equal(decimal.NewFromInt(121)) {
		t.Errorf("merged price = %s, want 121", got[0].CurrentPrice)
	}
}

func TestParquetQuoteStoreEmpty(t *testing.T) {
	ps := NewParquetQuoteStore(t.TempDir())
	ctx := context.Background()
	if err := ps.WriteQuotes(ctx, nil); err != nil {
		t.Fatalf("WriteQuotes(nil): %v", err)
	}
	got, err := ps.ReadQuotes(ctx, "AAPL", time.Now().Add(-time.Hour), time.Now())
	if err != nil || len(got) != 0 {
		t.Errorf("ReadQuotes on empty store = %v, %v", got, err)
	}
	symbols, err := ps.ListSymbols(ctx)
	if err != nil || symbols != nil {
		t.Errorf("ListSymbols on empty store = %v, %v", symbols, err)
	}
}
