package api

import (
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotbook/pkg/app/spot"
)

// ==============================
// REST Request Types
// ==============================

// SubmitOrderRequest places a limit order. ID is optional; 0 lets the
// server assign one.
type SubmitOrderRequest struct {
	ID      uint64 `json:"id,omitempty"`
	Account uint64 `json:"account"`
	Side    string `json:"side"` // "bid"/"buy" or "ask"/"sell"
	Price   int64  `json:"price"`
	Qty     int64  `json:"qty"`
}

type OpenAccountRequest struct {
	ID       uint64           `json:"id"`
	Name     string           `json:"name"`
	Balance  int64            `json:"balance"`
	Holdings map[string]int64 `json:"holdings,omitempty"`
}

// ==============================
// REST Response Types
// ==============================

type SubmitOrderResponse struct {
	OrderID uint64            `json:"orderId"`
	Status  string            `json:"status"` // "filled", "partially_filled", "resting"
	Resting int64             `json:"resting"`
	Trades  []orderbook.Trade `json:"trades"`
}

type CancelOrderResponse struct {
	OrderID uint64 `json:"orderId"`
	Status  string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients: {"op":"subscribe","channels":["trades","book"]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

type TradesUpdate struct {
	Type   string            `json:"type"` // "trades"
	Ticker string            `json:"ticker"`
	Trades []orderbook.Trade `json:"trades"`
}

type BookUpdate struct {
	Type      string            `json:"type"` // "book"
	Book      spot.BookSnapshot `json:"book"`
	Timestamp int64             `json:"timestamp"` // unix milliseconds
}

const (
	ChannelTrades = "trades"
	ChannelBook   = "book"
)
