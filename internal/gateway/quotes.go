package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"trading-portfolio/internal/model"
)

// StreamQuotes broadcasts every quote from ch on QuotesChannel until ctx is
// done or ch is closed.
func (h *Hub) StreamQuotes(ctx context.Context, ch <-chan model.Quote) {
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(q)
			if err != nil {
				h.logger.Warn("encode quote", slog.String("symbol", q.Symbol), slog.Any("error", err))
				continue
			}
			h.broadcast(QuotesChannel, data)
		}
	}
}
