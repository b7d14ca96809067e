package futures_usdt

import "github.com/shopspring/decimal"

type orderResp struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
}

// FuturesBalance is one asset row of /fapi/v2/balance.
type FuturesBalance struct {
	Asset             string `json:"asset"`
	Balance           string `json:"balance"`
	AvailableBalance  string `json:"availableBalance"`
	CrossUnPnl        string `json:"crossUnPnl"`
	MaxWithdrawAmount string `json:"maxWithdrawAmount"`
	MarginAvailable   bool   `json:"marginAvailable"`
	UpdateTime        int64  `json:"updateTime"`
}

// Total returns the wallet balance as a decimal.
func (b FuturesBalance) Total() decimal.Decimal { return parseDecimal(b.Balance) }

// Available returns the available balance as a decimal.
func (b FuturesBalance) Available() decimal.Decimal { return parseDecimal(b.AvailableBalance) }

// PositionRisk is one row of /fapi/v2/positionRisk.
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
}

// Amount returns the signed position amount.
func (p PositionRisk) Amount() decimal.Decimal { return parseDecimal(p.PositionAmt) }

// Entry returns the entry price.
func (p PositionRisk) Entry() decimal.Decimal { return parseDecimal(p.EntryPrice) }

// PremiumIndex carries the mark price of a symbol.
type PremiumIndex struct {
	Symbol    string
	MarkPrice decimal.Decimal
	Time      int64
}

// Kline is one futures candlestick.
type Kline struct {
	Symbol         string
	Interval       string
	OpenTime       int64
	CloseTime      int64
	Open           decimal.Decimal
	High           decimal.Decimal
	Low            decimal.Decimal
	Close          decimal.Decimal
	Volume         decimal.Decimal
	NumberOfTrades int64
}

// SymbolRules are the trading filters of one symbol.
type SymbolRules struct {
	Symbol            string
	PricePrecision    int32
	QuantityPrecision int32
	MinPrice          decimal.Decimal
	TickSize          decimal.Decimal
	StepSize          decimal.Decimal
	MinNotional       decimal.Decimal
}
