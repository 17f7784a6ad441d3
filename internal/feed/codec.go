package feed

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	"vinsight/internal/domain"
)

// Decimal fields travel as strings to keep their exact value.
func quoteToStruct(q domain.Quote) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"symbol":        q.Symbol,
		"currentPrice":  q.CurrentPrice.String(),
		"previousClose": q.PreviousClose.String(),
		"change":        q.Change.String(),
		"changePercent": q.ChangePercent.String(),
		"marketState":   string(q.MarketState),
		"timestamp":     q.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func quoteFromStruct(s *structpb.Struct) (domain.Quote, error) {
	f := s.GetFields()
	str := func(key string) string { return f[key].GetStringValue() }
	dec := func(key string) (decimal.Decimal, error) {
		v := str(key)
		if v == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parsing %s %q: %w", key, v, err)
		}
		return d, nil
	}

	q := domain.Quote{
		Symbol:      str("symbol"),
		MarketState: domain.MarketState(str("marketState")),
	}
	var err error
	if q.CurrentPrice, err = dec("currentPrice"); err != nil {
		return q, err
	}
	if q.PreviousClose, err = dec("previousClose"); err != nil {
		return q, err
	}
	if q.Change, err = dec("change"); err != nil {
		return q, err
	}
	if q.ChangePercent, err = dec("changePercent"); err != nil {
		return q, err
	}
	if ts := str("timestamp"); ts != "" {
		if q.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return q, fmt.Errorf("parsing timestamp %q: %w", ts, err)
		}
	}
	return q, nil
}

// symbolsRequest builds a stream request. An empty list asks for all quotes.
func symbolsRequest(symbols []string) (*structpb.Struct, error) {
	list := make([]any, 0, len(symbols))
	for _, s := range symbols {
		if s = domain.NormalizeSymbol(s); s != "" {
			list = append(list, s)
		}
	}
	return structpb.NewStruct(map[string]any{"symbols": list})
}

// symbolFilter returns the requested symbol set, or nil for all.
func symbolFilter(req *structpb.Struct) map[string]bool {
	values := req.GetFields()["symbols"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if s := domain.NormalizeSymbol(v.GetStringValue()); s != "" {
			set[s] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
