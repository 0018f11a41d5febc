package orderbook

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotbook/pkg/util"
)

// Book is the limit order book of a single instrument.
//
// A Book does no locking. It must be driven by one goroutine at a time;
// callers sharing a Book wrap every call in their own mutex.
type Book struct {
	id     BookID
	name   string
	ticker string

	bids *bookSide
	asks *bookSide

	// Every resting order lives here; levels only hold ids.
	orders map[OrderID]*Order

	lastPrice int64
	hasTraded bool
	tradeSeq  uint64

	clock    util.Clock
	logger   *zap.Logger
	preTrade func([]Trade) error
}

type Option func(*Book)

func WithLogger(l *zap.Logger) Option {
	return func(b *Book) { b.logger = l }
}

func WithClock(c util.Clock) Option {
	return func(b *Book) { b.clock = c }
}

// WithTradeSeq makes the first trade of the book carry sequence n+1, so a
// book restarted against an existing trade journal keeps numbering forward.
func WithTradeSeq(n uint64) Option {
	return func(b *Book) { b.tradeSeq = n }
}

// WithPreTradeCheck installs a hook that sees the complete list of trades a
// submission would produce before anything is settled. Returning an error
// aborts the submission with ErrTradeRejected and leaves book and accounts
// untouched.
func WithPreTradeCheck(fn func([]Trade) error) Option {
	return func(b *Book) { b.preTrade = fn }
}

func New(id BookID, name, ticker string, opts ...Option) *Book {
	b := &Book{
		id:     id,
		name:   name,
		ticker: ticker,
		bids:   newBookSide(Bid),
		asks:   newBookSide(Ask),
		orders: make(map[OrderID]*Order),
		clock:  util.RealClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Book) ID() BookID     { return b.id }
func (b *Book) Name() string   { return b.name }
func (b *Book) Ticker() string { return b.ticker }

// LastTradedPrice returns the price of the most recent trade, or false if
// the book has never traded.
func (b *Book) LastTradedPrice() (int64, bool) {
	return b.lastPrice, b.hasTraded
}

// Submit matches o against the opposite side and rests any remainder.
func (b *Book) Submit(o Order) error {
	_, err := b.Execute(o)
	return err
}

// Execute is Submit returning the trades the order produced, in execution
// order.
func (b *Book) Execute(o Order) ([]Trade, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	if _, live := b.orders[o.ID]; live {
		return nil, fmt.Errorf("%w: order %d is already live", ErrInvalidOrder, o.ID)
	}

	fills, remaining := b.plan(o)
	trades := b.tradesFor(o, fills)

	if b.preTrade != nil && len(trades) > 0 {
		if err := b.preTrade(trades); err != nil {
			return nil, fmt.Errorf("%w: order %d: %v", ErrTradeRejected, o.ID, err)
		}
	}

	b.apply(o, fills, trades)

	if remaining > 0 {
		b.rest(o, remaining)
	}
	return trades, nil
}

// fill is one planned execution against a resting maker.
type fill struct {
	maker *Order
	qty   int64
}

// plan walks the opposite side in price-time priority and returns the fills
// o would produce plus its unfilled quantity. It does not mutate the book.
func (b *Book) plan(o Order) ([]fill, int64) {
	opp := b.side(o.Side.Opposite())
	remaining := o.Qty

	var fills []fill
	for _, p := range opp.prices {
		if remaining == 0 || !opp.crosses(p, o.Price) {
			break
		}
		for _, id := range opp.levels[p].ids {
			maker := b.orders[id]
			qty := min(remaining, maker.Qty)
			fills = append(fills, fill{maker: maker, qty: qty})
			remaining -= qty
			if remaining == 0 {
				break
			}
		}
	}
	return fills, remaining
}

func (b *Book) tradesFor(o Order, fills []fill) []Trade {
	if len(fills) == 0 {
		return nil
	}
	now := b.clock.Now()
	trades := make([]Trade, len(fills))
	for i, f := range fills {
		t := Trade{
			ID:        uuid.NewString(),
			Seq:       b.tradeSeq + uint64(i) + 1,
			Ticker:    b.ticker,
			Price:     f.maker.Price,
			Qty:       f.qty,
			TakerSide: o.Side,
			Time:      now,
		}
		if o.Side == Bid {
			t.BuyOrder, t.Buyer = o.ID, o.Owner.ID()
			t.SellOrder, t.Seller = f.maker.ID, f.maker.Owner.ID()
		} else {
			t.BuyOrder, t.Buyer = f.maker.ID, f.maker.Owner.ID()
			t.SellOrder, t.Seller = o.ID, o.Owner.ID()
		}
		trades[i] = t
	}
	return trades
}

// apply settles planned trades and updates the book in one pass.
func (b *Book) apply(o Order, fills []fill, trades []Trade) {
	for i, f := range fills {
		t := trades[i]
		buyer, seller := o.Owner, f.maker.Owner
		if o.Side == Ask {
			buyer, seller = seller, buyer
		}
		b.settle(buyer, seller, t)

		f.maker.Qty -= f.qty
		if f.maker.Qty == 0 {
			b.unlink(f.maker)
		}

		b.lastPrice = t.Price
		b.hasTraded = true
		b.tradeSeq = t.Seq

		b.logger.Debug("trade_executed",
			zap.String("ticker", b.ticker),
			zap.Uint64("seq", t.Seq),
			zap.Int64("price", t.Price),
			zap.Int64("qty", t.Qty),
			zap.Uint64("buy_order", uint64(t.BuyOrder)),
			zap.Uint64("sell_order", uint64(t.SellOrder)))
	}
}

func (b *Book) settle(buyer, seller Account, t Trade) {
	notional := t.Notional()
	buyer.TakeBalance(notional)
	buyer.AddHolding(b.ticker, t.Qty)
	seller.AddBalance(notional)
	seller.TakeHolding(b.ticker, t.Qty)
}

func (b *Book) rest(o Order, qty int64) {
	resting := o
	resting.Qty = qty
	b.side(o.Side).getOrCreate(o.Price).push(o.ID)
	b.orders[o.ID] = &resting

	b.logger.Debug("order_rested",
		zap.Uint64("order", uint64(o.ID)),
		zap.Stringer("side", o.Side),
		zap.Int64("price", o.Price),
		zap.Int64("qty", qty))
}

// Cancel removes a resting order from whichever side it rests on.
func (b *Book) Cancel(id OrderID) error {
	o, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	b.unlink(o)

	b.logger.Debug("order_cancelled",
		zap.Uint64("order", uint64(id)),
		zap.Stringer("side", o.Side),
		zap.Int64("price", o.Price),
		zap.Int64("remaining", o.Qty))
	return nil
}

// unlink removes o from its level, drops the level if it empties and forgets o.
func (b *Book) unlink(o *Order) {
	s := b.side(o.Side)
	if l, ok := s.levelAt(o.Price); ok {
		l.remove(o.ID)
		if l.empty() {
			s.drop(o.Price)
		}
	}
	delete(b.orders, o.ID)
}

func (b *Book) side(s Side) *bookSide {
	if s == Bid {
		return b.bids
	}
	return b.asks
}

// Order returns a copy of a resting order; Qty is its remaining quantity.
func (b *Book) Order(id OrderID) (Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Len returns the number of resting orders.
func (b *Book) Len() int {
	return len(b.orders)
}

func (b *Book) BestBid() (int64, bool) {
	l, ok := b.bids.best()
	if !ok {
		return 0, false
	}
	return l.price, true
}

func (b *Book) BestAsk() (int64, bool) {
	l, ok := b.asks.best()
	if !ok {
		return 0, false
	}
	return l.price, true
}

// BidLevels returns up to depth bid levels, best (highest) first.
// depth <= 0 returns every level.
func (b *Book) BidLevels(depth int) []PriceLevel {
	return b.levels(b.bids, depth)
}

// AskLevels returns up to depth ask levels, best (lowest) first.
// depth <= 0 returns every level.
func (b *Book) AskLevels(depth int) []PriceLevel {
	return b.levels(b.asks, depth)
}

func (b *Book) levels(s *bookSide, depth int) []PriceLevel {
	n := s.depth()
	if depth > 0 && depth < n {
		n = depth
	}
	out := make([]PriceLevel, 0, n)
	for _, p := range s.prices[:n] {
		l := s.levels[p]
		pl := PriceLevel{Price: p, Orders: len(l.ids)}
		for _, id := range l.ids {
			pl.Qty += b.orders[id].Qty
		}
		out = append(out, pl)
	}
	return out
}
