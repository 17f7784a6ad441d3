package vinsight

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Watchlist is the backend representation of a watchlist.
type Watchlist struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Stocks   []string `json:"stocks"`
	Position int      `json:"position"`
}

// Quote is the payload of GET /api/data/quote/{ticker}.
type Quote struct {
	Symbol        string    `json:"symbol"`
	CurrentPrice  float64   `json:"currentPrice"`
	PreviousClose float64   `json:"previousClose"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	MarketState   string    `json:"marketState"`
	Timestamp     Timestamp `json:"timestamp"`
}

// StockDetail is one row of the batch-stock response. Raw holds the row as
// received so callers can read fields the SDK does not model.
type StockDetail struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	CurrentPrice  float64         `json:"currentPrice"`
	Change        float64         `json:"change"`
	ChangePercent float64         `json:"changePercent"`
	Raw           json.RawMessage `json:"-"`
}

// Timestamp decodes the time formats the backend has been seen to emit:
// RFC 3339, ISO 8601 without a zone (read as UTC), and Unix epoch numbers in
// seconds or milliseconds.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if b[0] != '"' {
		n, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("timestamp %s: %w", b, err)
		}
		// Anything past year 2286 in seconds is really milliseconds.
		if n > 1e10 {
			t.Time = time.UnixMilli(int64(n)).UTC()
		} else {
			t.Time = time.Unix(int64(n), 0).UTC()
		}
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

// MarshalJSON implements json.Marshaler using RFC 3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
