package quote

import (
	"context"
	"log/slog"

	"vinsight/internal/domain"
	"vinsight/internal/store"
)

// Recorder archives every quote it receives to a QuoteStore.
type Recorder struct {
	store store.QuoteStore
	log   *slog.Logger
}

// NewRecorder creates a Recorder writing to st.
func NewRecorder(st store.QuoteStore, log *slog.Logger) *Recorder {
	return &Recorder{store: st, log: log.With("component", "quote-recorder")}
}

// Run writes quotes until ctx is cancelled or the channel is closed. Write
// failures are logged and do not stop the loop.
func (r *Recorder) Run(ctx context.Context, quotes <-chan domain.Quote) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q, ok := <-quotes:
			if !ok {
				return nil
			}
			if err := r.store.WriteQuotes(ctx, []domain.Quote{q}); err != nil {
				r.log.Error("archiving quote", "symbol", q.Symbol, "error", err)
				continue
			}
			r.log.Debug("archived quote", "symbol", q.Symbol, "price", q.CurrentPrice.String())
		}
	}
}
