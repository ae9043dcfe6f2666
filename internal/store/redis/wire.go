package redis

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"trading-portfolio/internal/model"
)

// wireQuote is the msgpack layout of a cached quote. Decimals travel as
// strings so no precision is lost.
type wireQuote struct {
	Symbol string `msgpack:"s"`
	Price  string `msgpack:"p"`
	Change string `msgpack:"c,omitempty"`
	TS     int64  `msgpack:"t"` // unix millis
}

func encodeQuote(q model.Quote) ([]byte, error) {
	w := wireQuote{
		Symbol: q.Symbol,
		Price:  q.Price.String(),
		TS:     q.TS.UnixMilli(),
	}
	if !q.Change.IsZero() {
		w.Change = q.Change.String()
	}
	b, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("encode quote %s: %w", q.Symbol, err)
	}
	return b, nil
}

func decodeQuote(b []byte) (model.Quote, error) {
	var w wireQuote
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return model.Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	price, err := decimal.NewFromString(w.Price)
	if err != nil {
		return model.Quote{}, fmt.Errorf("decode quote %s price: %w", w.Symbol, err)
	}
	q := model.Quote{
		Symbol: w.Symbol,
		Price:  price,
		TS:     time.UnixMilli(w.TS).UTC(),
	}
	if w.Change != "" {
		if q.Change, err = decimal.NewFromString(w.Change); err != nil {
			return model.Quote{}, fmt.Errorf("decode quote %s change: %w", w.Symbol, err)
		}
	}
	return q, nil
}
