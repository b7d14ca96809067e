package market

import "github.com/shopspring/decimal"

// Kline is one candlestick update from the kline stream.
type Kline struct {
	Symbol         string
	Interval       string
	OpenTime       int64 // ms
	CloseTime      int64 // ms
	Open           decimal.Decimal
	High           decimal.Decimal
	Low            decimal.Decimal
	Close          decimal.Decimal
	Volume         decimal.Decimal
	NumberOfTrades int64
}

// MarkPriceUpdate is one message of the mark price stream.
type MarkPriceUpdate struct {
	Symbol    string
	MarkPrice decimal.Decimal
	EventTime int64 // ms
}
