package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("stock query", func(t *testing.T) {
		call, err := Parse(StockToolName, map[string]any{"symbol": " tsla "})
		require.NoError(t, err)
		assert.Equal(t, StockQuery{Symbol: "TSLA"}, call)
	})

	t.Run("functions prefix", func(t *testing.T) {
		call, err := Parse("functions."+StockToolName, map[string]any{"symbol": "AAPL"})
		require.NoError(t, err)
		assert.Equal(t, StockToolName, call.Name())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Parse("get_weather", map[string]any{"city": "Taipei"})
		assert.ErrorIs(t, err, ErrUnknownTool)
	})

	t.Run("invalid args", func(t *testing.T) {
		for name, args := range map[string]map[string]any{
			"missing":    {},
			"wrong type": {"symbol": 42.0},
			"empty":      {"symbol": "  "},
		} {
			_, err := Parse(StockToolName, args)
			assert.ErrorIs(t, err, ErrInvalidArgs, name)
		}
	})
}

func TestRegistryExecute(t *testing.T) {
	quote := &StockData{Symbol: "TSLA", CurrentPrice: 242.5, ChangePercent: -1.3, Data: []PricePoint{{Date: "2026-01-02", Price: 242.5, Volume: 10}}}

	t.Run("success", func(t *testing.T) {
		var asked string
		r := NewRegistry(MarketFunc(func(ctx context.Context, symbol string) (*StockData, error) {
			asked = symbol
			return quote, nil
		}))
		res, err := r.Execute(context.Background(), StockQuery{Symbol: "TSLA"})
		require.NoError(t, err)
		assert.Equal(t, "TSLA", asked)
		assert.Same(t, quote, res.Stock)
		assert.Equal(t, "TSLA", res.Payload["symbol"])
		assert.InDelta(t, 242.5, res.Payload["currentPrice"], 1e-9)
		assert.Len(t, res.Payload["data"], 1)
	})

	t.Run("source error", func(t *testing.T) {
		boom := errors.New("upstream down")
		r := NewRegistry(MarketFunc(func(ctx context.Context, symbol string) (*StockData, error) {
			return nil, boom
		}))
		_, err := r.Execute(context.Background(), StockQuery{Symbol: "NVDA"})
		var te *ToolError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "NVDA", te.Symbol)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("panic recovered", func(t *testing.T) {
		r := NewRegistry(MarketFunc(func(ctx context.Context, symbol string) (*StockData, error) {
			panic("nil map")
		}))
		_, err := r.Execute(context.Background(), StockQuery{Symbol: "AAPL"})
		var te *ToolError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "AAPL", te.Symbol)
	})

	t.Run("declarations", func(t *testing.T) {
		decls := NewRegistry(nil).Declarations()
		require.Len(t, decls, 1)
		assert.Equal(t, StockToolName, decls[0].Name)
		assert.Equal(t, []string{"symbol"}, decls[0].Parameters["required"])
	})
}

func TestRandomWalk(t *testing.T) {
	fixed := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	w := &RandomWalk{Seed: 7, Now: func() time.Time { return fixed }}

	a, err := w.Quote(context.Background(), "tsla")
	require.NoError(t, err)
	b, err := w.Quote(context.Background(), "TSLA")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, "TSLA", a.Symbol)
	require.Len(t, a.Data, 30)
	assert.Equal(t, "2026-03-10", a.Data[29].Date)
	assert.Equal(t, "2026-02-09", a.Data[0].Date)
	assert.Equal(t, a.Data[29].Price, a.CurrentPrice)
	for _, p := range a.Data {
		assert.Positive(t, p.Price)
		assert.GreaterOrEqual(t, p.Volume, int64(1_000_000))
	}

	other, err := w.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.NotEqual(t, a.Data, other.Data)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.Quote(ctx, "TSLA")
	assert.ErrorIs(t, err, context.Canceled)
}
