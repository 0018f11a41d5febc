package orderbook

import "errors"

var (
	ErrInvalidOrder  = errors.New("invalid order")
	ErrOrderNotFound = errors.New("order not found")
	// ErrTradeRejected is returned when a pre-trade check vetoes the planned
	// trades of a submission. Nothing has been mutated at that point.
	ErrTradeRejected = errors.New("trade rejected")
)
