package orderbook

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Side int8

const (
	Bid Side = 1
	Ask Side = -1
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// MarshalText encodes s as "bid" or "ask" in JSON bodies, events and the
// journal.
func (s Side) MarshalText() ([]byte, error) {
	switch s {
	case Bid, Ask:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("%w: side %d", ErrInvalidOrder, int8(s))
}

// UnmarshalText accepts "bid"/"buy" and "ask"/"sell", case-insensitively.
func (s *Side) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "bid", "buy":
		*s = Bid
	case "ask", "sell":
		*s = Ask
	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, text)
	}
	return nil
}

// Opposite returns the side an order of side s matches against.
func (s Side) Opposite() Side {
	return -s
}

type (
	BookID  uint64
	OrderID uint64
)

// Account is the ledger an order settles against.
//
// The book never checks solvency: TakeBalance and TakeHolding are called
// unconditionally during settlement, so the caller must verify that the
// owning account can cover an order before submitting it.
type Account interface {
	ID() uint64
	Balance() int64
	Holding(ticker string) int64
	AddBalance(amount int64)
	TakeBalance(amount int64)
	AddHolding(ticker string, qty int64)
	TakeHolding(ticker string, qty int64)
}

// Order is a limit order. While resting, Qty is the remaining quantity.
type Order struct {
	ID    OrderID
	Side  Side
	Price int64 // integer ticks
	Qty   int64 // integer lots
	Owner Account
}

func (o Order) validate() error {
	if o.Side != Bid && o.Side != Ask {
		return fmt.Errorf("%w: order %d has unknown side %d", ErrInvalidOrder, o.ID, o.Side)
	}
	if o.Price <= 0 {
		return fmt.Errorf("%w: order %d price must be positive, got %d", ErrInvalidOrder, o.ID, o.Price)
	}
	if o.Qty <= 0 {
		return fmt.Errorf("%w: order %d quantity must be positive, got %d", ErrInvalidOrder, o.ID, o.Qty)
	}
	if o.Qty > math.MaxInt64/o.Price {
		return fmt.Errorf("%w: order %d notional overflows (price=%d qty=%d)", ErrInvalidOrder, o.ID, o.Price, o.Qty)
	}
	if o.Owner == nil {
		return fmt.Errorf("%w: order %d has no owning account", ErrInvalidOrder, o.ID)
	}
	return nil
}

// Trade is one execution between an incoming (taker) order and a resting
// (maker) order. It is never stored by the book.
type Trade struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"` // book-local, starts at 1
	Ticker    string    `json:"ticker"`
	Price     int64     `json:"price"` // the maker's price
	Qty       int64     `json:"qty"`
	TakerSide Side      `json:"takerSide"`
	BuyOrder  OrderID   `json:"buyOrder"`
	SellOrder OrderID   `json:"sellOrder"`
	Buyer     uint64    `json:"buyer"`
	Seller    uint64    `json:"seller"`
	Time      time.Time `json:"time"`
}

// Notional returns the balance moved from buyer to seller.
func (t Trade) Notional() int64 {
	return t.Price * t.Qty
}

// PriceLevel aggregates the resting orders at one price.
type PriceLevel struct {
	Price  int64 `json:"price"`
	Qty    int64 `json:"qty"`
	Orders int   `json:"orders"`
}
