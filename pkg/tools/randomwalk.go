package tools

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

const randomWalkDays = 30

var basePrices = map[string]float64{
	"AAPL":    190,
	"MSFT":    410,
	"GOOGL":   170,
	"AMZN":    180,
	"NVDA":    120,
	"TSLA":    240,
	"META":    500,
	"2330.TW": 900,
}

// RandomWalk 是模擬行情來源：每個代號以基準價做 30 日隨機漫步。
// Seed 為 0 時每次查詢結果都不同；非 0 時同一代號同一天的結果固定。
type RandomWalk struct {
	Seed uint64
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewRandomWalk creates a RandomWalk market.
func NewRandomWalk(seed uint64) *RandomWalk {
	return &RandomWalk{Seed: seed, Now: time.Now}
}

// Quote implements MarketData.
func (w *RandomWalk) Quote(ctx context.Context, symbol string) (*StockData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	today := now().UTC().Truncate(24 * time.Hour)

	rng := w.source(symbol, today)
	price, ok := basePrices[symbol]
	if !ok {
		price = 50 + rng.Float64()*250
	}

	points := make([]PricePoint, 0, randomWalkDays)
	for i := randomWalkDays - 1; i >= 0; i-- {
		// daily move within ±3%
		price *= 1 + (rng.Float64()-0.5)*0.06
		points = append(points, PricePoint{
			Date:   today.AddDate(0, 0, -i).Format("2006-01-02"),
			Price:  round2(price),
			Volume: 1_000_000 + rng.Int64N(9_000_000),
		})
	}

	last := points[len(points)-1].Price
	prev := points[len(points)-2].Price
	return &StockData{
		Symbol:        symbol,
		CurrentPrice:  last,
		ChangePercent: round2((last - prev) / prev * 100),
		Data:          points,
	}, nil
}

func (w *RandomWalk) source(symbol string, day time.Time) *rand.Rand {
	if w.Seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return rand.New(rand.NewPCG(w.Seed^h.Sum64(), uint64(day.Unix())))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
