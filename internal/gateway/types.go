package gateway

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// envelope is the venue's uniform response wrapper
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Contract describes one tradable perpetual
type Contract struct {
	Symbol         string          `json:"symbol"`
	BaseCurrency   string          `json:"baseCurrency"`
	QuoteCurrency  string          `json:"quoteCurrency"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	LotSize        decimal.Decimal `json:"lotSize"`
	TickSize       decimal.Decimal `json:"tickSize"`
	MaxLeverage    int             `json:"maxLeverage"`
	MaintainMargin decimal.Decimal `json:"maintainMargin"`
	Status         string          `json:"status"`
	VolumeOf24h    decimal.Decimal `json:"volumeOf24h"`
	TurnoverOf24h  decimal.Decimal `json:"turnoverOf24h"`
}

// Ticker is the level-1 quote
type Ticker struct {
	Symbol       string          `json:"symbol"`
	BestBidPrice decimal.Decimal `json:"bestBidPrice"`
	BestBidSize  decimal.Decimal `json:"bestBidSize"`
	BestAskPrice decimal.Decimal `json:"bestAskPrice"`
	BestAskSize  decimal.Decimal `json:"bestAskSize"`
	Price        decimal.Decimal `json:"price"`
	TS           int64           `json:"ts"`
}

// OrderBook is a depth snapshot with levels as [price, size] pairs
type OrderBook struct {
	Symbol   string              `json:"symbol"`
	Sequence int64               `json:"sequence"`
	Bids     [][]decimal.Decimal `json:"bids"` // descending
	Asks     [][]decimal.Decimal `json:"asks"` // ascending
	TS       int64               `json:"ts"`
}

// Kline is one candle row from the venue; the wire format is a positional
// array [time, open, high, low, close, volume].
type Kline struct {
	Time   int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// FundingRate is the current funding snapshot
type FundingRate struct {
	Symbol      string  `json:"symbol"`
	Value       float64 `json:"value"`
	Granularity int64   `json:"granularity"`
	TimePoint   int64   `json:"timePoint"`
}

// OrderRequest is a new-order submission
type OrderRequest struct {
	ClientOid  string          `json:"clientOid"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"` // "buy" or "sell"
	Type       string          `json:"type"` // "limit" or "market"
	Price      decimal.Decimal `json:"price,omitempty"`
	Size       decimal.Decimal `json:"size"`
	Leverage   int             `json:"leverage,omitempty"`
	ReduceOnly bool            `json:"reduceOnly,omitempty"`
	Stop       string          `json:"stop,omitempty"`      // "up" or "down" for stop orders
	StopPrice  decimal.Decimal `json:"stopPrice,omitempty"`
	StopPriceType string       `json:"stopPriceType,omitempty"`
	TimeInForce string         `json:"timeInForce,omitempty"`
}

// OrderResponse is the venue's ack for a submission
type OrderResponse struct {
	OrderID string `json:"orderId"`
}

// OrderStatus is the current state of a working or done order
type OrderStatus struct {
	OrderID    string          `json:"id"`
	ClientOid  string          `json:"clientOid"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Type       string          `json:"type"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	FilledSize decimal.Decimal `json:"filledSize"`
	Status     string          `json:"status"` // "open" or "done"
	IsActive   bool            `json:"isActive"`
}

// PositionInfo is the venue-side view of an open position
type PositionInfo struct {
	Symbol           string          `json:"symbol"`
	CurrentQty       decimal.Decimal `json:"currentQty"`
	AvgEntryPrice    decimal.Decimal `json:"avgEntryPrice"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
	UnrealisedPnl    decimal.Decimal `json:"unrealisedPnl"`
	RealLeverage     decimal.Decimal `json:"realLeverage"`
	IsOpen           bool            `json:"isOpen"`
}

// AccountOverview is the margin account summary
type AccountOverview struct {
	AccountEquity    decimal.Decimal `json:"accountEquity"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	UnrealisedPNL    decimal.Decimal `json:"unrealisedPNL"`
	MarginBalance    decimal.Decimal `json:"marginBalance"`
	Currency         string          `json:"currency"`
}

// wsToken is the bullet handshake payload for opening a stream
type wsToken struct {
	Token           string `json:"token"`
	InstanceServers []struct {
		Endpoint     string `json:"endpoint"`
		PingInterval int64  `json:"pingInterval"` // ms
		PingTimeout  int64  `json:"pingTimeout"`  // ms
	} `json:"instanceServers"`
}

// StreamMessage is one demultiplexed websocket frame
type StreamMessage struct {
	Type    string          `json:"type"` // welcome, ack, pong, message, error
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Subject string          `json:"subject,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    int             `json:"code,omitempty"`
	Msg     string          `json:"msg,omitempty"`
}
