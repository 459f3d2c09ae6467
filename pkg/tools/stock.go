package tools

import (
	"context"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PricePoint is one daily close.
type PricePoint struct {
	Date   string  `json:"date"`
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
}

// StockData 是一次股價查詢的結果，建立後不再修改
type StockData struct {
	Symbol        string       `json:"symbol"`
	CurrentPrice  float64      `json:"currentPrice"`
	ChangePercent float64      `json:"changePercent"`
	Data          []PricePoint `json:"data"`
}

// Payload converts the result into the generic map carried by a tool response.
func (s StockData) Payload() (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// MarketData fetches quotes for ticker symbols.
type MarketData interface {
	Quote(ctx context.Context, symbol string) (*StockData, error)
}

// MarketFunc adapts a function to MarketData.
type MarketFunc func(ctx context.Context, symbol string) (*StockData, error)

func (f MarketFunc) Quote(ctx context.Context, symbol string) (*StockData, error) {
	return f(ctx, symbol)
}
