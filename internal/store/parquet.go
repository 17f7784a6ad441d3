package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"vinsight/internal/domain"
	"vinsight/internal/util"
)

// Compile-time interface check.
var _ QuoteStore = (*ParquetQuoteStore)(nil)

// ParquetQuoteStore implements QuoteStore using Parquet files on disk, one
// file per symbol per Eastern trading day.
type ParquetQuoteStore struct {
	DataDir string

	// Serialises read-merge-write cycles on the same file.
	mu sync.Mutex
}

// NewParquetQuoteStore creates a new ParquetQuoteStore rooted at dataDir.
func NewParquetQuoteStore(dataDir string) *ParquetQuoteStore {
	return &ParquetQuoteStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// QuoteRecord is the Parquet schema for a quote snapshot.
type QuoteRecord struct {
	Symbol        string  `parquet:"symbol"`
	Timestamp     int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Price         float64 `parquet:"price"`
	PreviousClose float64 `parquet:"previous_close"`
	Change        float64 `parquet:"change"`
	ChangePercent float64 `parquet:"change_percent"`
	MarketState   string  `parquet:"market_state"`
}

func toRecord(q domain.Quote) QuoteRecord {
	return QuoteRecord{
		Symbol:        q.Symbol,
		Timestamp:     q.Timestamp.UnixMilli(),
		Price:         q.CurrentPrice.InexactFloat64(),
		PreviousClose: q.PreviousClose.InexactFloat64(),
		Change:        q.Change.InexactFloat64(),
		ChangePercent: q.ChangePercent.InexactFloat64(),
		MarketState:   string(q.MarketState),
	}
}

func (r QuoteRecord) quote() domain.Quote {
	return domain.Quote{
		Symbol:        r.Symbol,
		CurrentPrice:  decimal.NewFromFloat(r.Price),
		PreviousClose: decimal.NewFromFloat(r.PreviousClose),
		Change:        decimal.NewFromFloat(r.Change),
		ChangePercent: decimal.NewFromFloat(r.ChangePercent),
		MarketState:   domain.MarketState(r.MarketState),
		Timestamp:     time.UnixMilli(r.Timestamp).UTC(),
	}
}

// ---------------------------------------------------------------------------
// QuoteStore implementation
// ---------------------------------------------------------------------------

// WriteQuotes appends quotes to their per-day files. Layout:
//
//	<DataDir>/us/quotes/<SYMBOL>/<YYYY-MM-DD>.parquet
//
// Existing files are read and merged; a quote with the same timestamp as an
// archived one replaces it.
func (s *ParquetQuoteStore) WriteQuotes(_ context.Context, quotes []domain.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	type key struct {
		symbol string
		date   string
	}
	groups := make(map[key][]QuoteRecord)
	for _, q := range quotes {
		if q.Symbol == "" {
			continue
		}
		k := key{symbol: domain.NormalizeSymbol(q.Symbol), date: q.Timestamp.In(util.Eastern).Format("2006-01-02")}
		groups[k] = append(groups[k], toRecord(q))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, records := range groups {
		path := s.quotePathForDate(k.symbol, k.date)

		existing, _ := readParquetFile[QuoteRecord](path)
		merged := mergeQuoteRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing quotes for %s/%s: %w", k.symbol, k.date, err)
		}
	}
	return nil
}

// ReadQuotes reads quotes for symbol within [start, end].
func (s *ParquetQuoteStore) ReadQuotes(_ context.Context, symbol string, start, end time.Time) ([]domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	startDay := dayStart(start)

	s.mu.Lock()
	defer s.mu.Unlock()
	var quotes []domain.Quote
	for d := startDay; !d.After(end); d = d.AddDate(0, 0, 1) {
		records, err := readParquetFile[QuoteRecord](s.quotePath(symbol, d))
		if err != nil {
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp)
			if ts.Before(start) || ts.After(end) {
				continue
			}
			quotes = append(quotes, r.quote())
		}
	}
	return quotes, nil
}

// ListSymbols lists all symbols that have archived quotes.
func (s *ParquetQuoteStore) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "us", "quotes"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// quotePath returns the file holding symbol's quotes for the Eastern date of t.
func (s *ParquetQuoteStore) quotePath(symbol string, t time.Time) string {
	return s.quotePathForDate(symbol, t.In(util.Eastern).Format("2006-01-02"))
}

func (s *ParquetQuoteStore) quotePathForDate(symbol, date string) string {
	return filepath.Join(s.DataDir, "us", "quotes", strings.ToUpper(symbol), date+".parquet")
}

func dayStart(t time.Time) time.Time {
	et := t.In(util.Eastern)
	y, m, d := et.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, util.Eastern)
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeQuoteRecords deduplicates quote records by timestamp, preferring
// incoming records over existing ones. Results are sorted by timestamp.
func mergeQuoteRecords(existing, incoming []QuoteRecord) []QuoteRecord {
	seen := make(map[int64]QuoteRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]QuoteRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
