package order

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hammer-trader/internal/domain"
	"hammer-trader/internal/events"
)

// FuturesUserStream listens to the Binance USDT-M user data stream and
// publishes fill confirmations.
type FuturesUserStream struct {
	client  listenKeyClient
	store   Store
	bus     Publisher
	testnet bool
	baseURL string
	log     *zap.Logger
}

type listenKeyClient interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
}

// NewFuturesUserStream creates the stream. store may be nil.
func NewFuturesUserStream(client listenKeyClient, store Store, bus Publisher, testnet bool, log *zap.Logger) *FuturesUserStream {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	return &FuturesUserStream{
		client:  client,
		store:   store,
		bus:     bus,
		testnet: testnet,
		baseURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		log:     log,
	}
}

// Start connects and keeps reading until ctx is done. Connection losses
// are retried with backoff.
func (s *FuturesUserStream) Start(ctx context.Context) {
	go func() {
		backoff := time.Second
		for ctx.Err() == nil {
			err := s.run(ctx)
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("futures user stream disconnected", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < time.Minute {
				backoff *= 2
			}
		}
	}()
}

func (s *FuturesUserStream) run(ctx context.Context) error {
	listenKey, err := s.client.CreateListenKey(ctx)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.baseURL+"/"+listenKey, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.log.Info("futures user stream started", zap.Bool("testnet", s.testnet))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-runCtx.Done()
		_ = conn.Close()
	}()
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := s.client.KeepAliveListenKey(runCtx, listenKey); err != nil {
					s.log.Warn("futures user stream keepalive failed", zap.Error(err))
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(ctx, msg)
	}
}

func (s *FuturesUserStream) handleMessage(ctx context.Context, msg []byte) {
	var head struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		s.log.Warn("futures user stream parse error", zap.Error(err))
		return
	}
	switch head.Event {
	case "ORDER_TRADE_UPDATE":
		s.handleOrderTradeUpdate(ctx, msg)
	case "listenKeyExpired":
		s.log.Warn("futures user stream listen key expired")
	}
}

type orderTradeUpdate struct {
	EventTime int64 `json:"E"`
	Data      struct {
		Symbol        string `json:"s"`
		Side          string `json:"S"`
		Status        string `json:"X"`
		ExecutionType string `json:"x"`
		OrderID       int64  `json:"i"`
		ClientOrderID string `json:"c"`
		AvgPrice      string `json:"ap"`
		LastPrice     string `json:"L"`
		CumQty        string `json:"z"`
		TradeTime     int64  `json:"T"`
		ReduceOnly    bool   `json:"R"`
	} `json:"o"`
}

func (s *FuturesUserStream) handleOrderTradeUpdate(ctx context.Context, msg []byte) {
	var u orderTradeUpdate
	if err := json.Unmarshal(msg, &u); err != nil {
		s.log.Warn("futures user stream: order update parse error", zap.Error(err))
		return
	}
	if strings.ToUpper(u.Data.ExecutionType) != "TRADE" {
		return
	}

	cumQty, _ := decimal.NewFromString(u.Data.CumQty)
	price, _ := decimal.NewFromString(u.Data.AvgPrice)
	if !price.IsPositive() {
		price, _ = decimal.NewFromString(u.Data.LastPrice)
	}
	status := strings.ToUpper(u.Data.Status)

	if s.store != nil {
		o := Order{FilledQty: cumQty, AvgPrice: price}
		if err := s.store.UpdateOrderFill(ctx, u.Data.ClientOrderID, status, o); err != nil {
			s.log.Warn("futures user stream: update order fill failed", zap.Error(err))
		}
	}

	if status != "FILLED" || u.Data.ReduceOnly || s.bus == nil {
		return
	}
	s.bus.Publish(events.OrderFilledEvent{
		PositionID: u.Data.ClientOrderID,
		Symbol:     u.Data.Symbol,
		Fill: domain.Fill{
			Price:  price,
			Amount: cumQty,
			Time:   time.UnixMilli(u.Data.TradeTime),
		},
	})
}
