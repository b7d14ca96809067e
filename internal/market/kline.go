package market

import (
	"time"

	"hammer-trader/internal/domain"
	stream "hammer-trader/pkg/market/binance"
)

// CandleFromKline converts a stream kline.
func CandleFromKline(k stream.Kline) domain.CandleStick {
	return domain.CandleStick{
		Symbol:         k.Symbol,
		Interval:       domain.Interval(k.Interval),
		Key:            k.OpenTime,
		Open:           k.Open,
		High:           k.High,
		Low:            k.Low,
		Close:          k.Close,
		Volume:         k.Volume,
		NumberOfTrades: k.NumberOfTrades,
	}
}

// MarkPriceFromUpdate converts a stream mark price update.
func MarkPriceFromUpdate(u stream.MarkPriceUpdate) domain.MarkPrice {
	return domain.MarkPrice{
		Symbol: u.Symbol,
		Price:  u.MarkPrice,
		Time:   time.UnixMilli(u.EventTime),
	}
}
