package spot

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/spotbook/pkg/app/core/account"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
)

var _ orderbook.Account = (*account.Account)(nil)

// recentTradesCap bounds the in-memory trade tape served to readers.
const recentTradesCap = 1000

// Journal durably records the effects of each submission.
type Journal interface {
	Record(accounts []account.Snapshot, trades []orderbook.Trade) error
}

// TradeSink receives trades after they have been applied and journaled.
// Deliveries to a sink are serialised and arrive in execution order.
type TradeSink interface {
	PublishTrades(ctx context.Context, trades []orderbook.Trade) error
}

// BookWatcher is implemented by sinks that also want to hear about book
// changes that produced no trade: an order coming to rest, or a cancel.
type BookWatcher interface {
	BookChanged(ctx context.Context)
}

type BookConfig struct {
	ID     orderbook.BookID
	Name   string
	Ticker string
}

// OrderRequest asks to place a limit order for an account.
// A zero ID lets the app assign the next free id.
type OrderRequest struct {
	ID      orderbook.OrderID
	Account uint64
	Side    orderbook.Side
	Price   int64
	Qty     int64
}

type OrderResult struct {
	OrderID orderbook.OrderID
	Trades  []orderbook.Trade
	Resting int64 // quantity left on the book, 0 if fully filled
}

// App runs one book and its accounts. It is the mutual-exclusion boundary
// the book itself does not provide: every book and account access goes
// through mu.
type App struct {
	mu       sync.Mutex
	book     *orderbook.Book
	accounts *account.Manager
	nextID   orderbook.OrderID
	recent   []orderbook.Trade

	journal Journal
	sinks   []TradeSink
	outbox  *outbox
	logger  *zap.SugaredLogger
}

type Option func(*appOptions)

type appOptions struct {
	journal  Journal
	sinks    []TradeSink
	logger   *zap.Logger
	restore  []account.Snapshot
	tradeSeq uint64
	lastID   orderbook.OrderID
	recent   []orderbook.Trade
	strict   bool
}

func WithJournal(j Journal) Option {
	return func(o *appOptions) { o.journal = j }
}

func WithSinks(sinks ...TradeSink) Option {
	return func(o *appOptions) { o.sinks = append(o.sinks, sinks...) }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *appOptions) { o.logger = l }
}

// WithRestoredAccounts seeds the account registry, typically from a journal.
func WithRestoredAccounts(snaps []account.Snapshot, lastTradeSeq uint64) Option {
	return func(o *appOptions) {
		o.restore = snaps
		o.tradeSeq = lastTradeSeq
	}
}

// WithLastOrderID makes the app assign ids above id, the highest order id
// the book has already used.
func WithLastOrderID(id orderbook.OrderID) Option {
	return func(o *appOptions) { o.lastID = id }
}

// WithRecentTrades preloads the trade tape. trades are newest first, as
// returned by RecentTrades.
func WithRecentTrades(trades []orderbook.Trade) Option {
	return func(o *appOptions) { o.recent = trades }
}

// WithStrictSolvency rejects any submission whose trades would leave an
// account with a negative balance or holding.
func WithStrictSolvency() Option {
	return func(o *appOptions) { o.strict = true }
}

func NewApp(cfg BookConfig, opts ...Option) *App {
	o := appOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	accounts := account.NewManager()
	accounts.Restore(o.restore)

	bookOpts := []orderbook.Option{
		orderbook.WithLogger(o.logger),
		orderbook.WithTradeSeq(o.tradeSeq),
	}
	if o.strict {
		bookOpts = append(bookOpts, orderbook.WithPreTradeCheck(SolvencyCheck(accounts)))
	}

	last := o.lastID
	for _, t := range o.recent {
		last = max(last, t.BuyOrder, t.SellOrder)
	}

	a := &App{
		book:     orderbook.New(cfg.ID, cfg.Name, cfg.Ticker, bookOpts...),
		accounts: accounts,
		nextID:   last + 1,
		journal:  o.journal,
		sinks:    o.sinks,
		outbox:   newOutbox(),
		logger:   o.logger.Sugar(),
	}
	for i := len(o.recent) - 1; i >= 0; i-- {
		a.remember(o.recent[i : i+1])
	}
	return a
}

// AddSink registers a sink after construction, e.g. an API server that
// itself needs the app.
func (a *App) AddSink(s TradeSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinks = append(a.sinks, s)
}

func (a *App) Ticker() string { return a.book.Ticker() }

func (a *App) OpenAccount(id uint64, name string, balance int64, holdings map[string]int64) (account.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, err := a.accounts.Open(id, name, balance, holdings)
	if err != nil {
		return account.Snapshot{}, err
	}
	snap := acc.Snapshot()
	if a.journal != nil {
		if err := a.journal.Record([]account.Snapshot{snap}, nil); err != nil {
			return account.Snapshot{}, fmt.Errorf("journal account %d: %w", id, err)
		}
	}
	a.logger.Infow("account_opened", "account", id, "balance", balance)
	return snap, nil
}

func (a *App) Account(id uint64) (account.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, err := a.accounts.Get(id)
	if err != nil {
		return account.Snapshot{}, err
	}
	return acc.Snapshot(), nil
}

// Accounts returns every account ordered by id.
func (a *App) Accounts() []account.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accounts.List()
}

// SubmitOrder places a limit order. Ids are never reused within a book: an
// explicit req.ID must be above every id the app has already used.
func (a *App) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	res, ev, err := a.submitLocked(req)
	if err != nil {
		return OrderResult{}, err
	}
	a.deliver(ctx, ev)
	return res, nil
}

func (a *App) submitLocked(req OrderRequest) (OrderResult, event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	owner, err := a.accounts.Get(req.Account)
	if err != nil {
		return OrderResult{}, event{}, err
	}

	id := req.ID
	if id == 0 {
		id = a.nextID
	} else if id < a.nextID {
		return OrderResult{}, event{}, fmt.Errorf("%w: order id %d already used, next free id is %d",
			orderbook.ErrInvalidOrder, id, a.nextID)
	}

	trades, err := a.book.Execute(orderbook.Order{
		ID:    id,
		Side:  req.Side,
		Price: req.Price,
		Qty:   req.Qty,
		Owner: owner,
	})
	if err != nil {
		return OrderResult{}, event{}, err
	}
	a.nextID = id + 1

	res := OrderResult{OrderID: id, Trades: trades}
	if o, ok := a.book.Order(id); ok {
		res.Resting = o.Qty
	}

	if len(trades) > 0 {
		a.remember(trades)
		if a.journal != nil {
			if err := a.journal.Record(a.touched(owner.ID(), trades), trades); err != nil {
				// The book has already moved on; the journal is behind, not the book.
				a.logger.Errorw("journal_failed", "order", id, "trades", len(trades), "err", err)
			}
		}
	}
	return res, a.eventLocked(trades, res.Resting > 0), nil
}

func (a *App) CancelOrder(ctx context.Context, id orderbook.OrderID) error {
	ev, err := a.cancelLocked(id)
	if err != nil {
		return err
	}
	a.deliver(ctx, ev)
	return nil
}

func (a *App) cancelLocked(id orderbook.OrderID) (event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.book.Cancel(id); err != nil {
		return event{}, err
	}
	return a.eventLocked(nil, true), nil
}

// touched returns snapshots of the owner and every counterparty in trades.
func (a *App) touched(owner uint64, trades []orderbook.Trade) []account.Snapshot {
	seen := map[uint64]bool{owner: true}
	ids := []uint64{owner}
	for _, t := range trades {
		for _, id := range []uint64{t.Buyer, t.Seller} {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	out := make([]account.Snapshot, 0, len(ids))
	for _, id := range ids {
		acc, err := a.accounts.Get(id)
		if err != nil {
			continue
		}
		if err := acc.Validate(); err != nil {
			a.logger.Warnw("account_overdrawn", "err", err)
		}
		out = append(out, acc.Snapshot())
	}
	return out
}

func (a *App) remember(trades []orderbook.Trade) {
	a.recent = append(a.recent, trades...)
	if n := len(a.recent) - recentTradesCap; n > 0 {
		a.recent = append(a.recent[:0:0], a.recent[n:]...)
	}
}

// event is what sinks learn about one state transition.
type event struct {
	ticket      uint64
	sinks       []TradeSink
	trades      []orderbook.Trade
	bookChanged bool
}

// eventLocked takes the next outbox ticket. Callers hold a.mu, so tickets
// follow execution order.
func (a *App) eventLocked(trades []orderbook.Trade, bookChanged bool) event {
	return event{
		ticket:      a.outbox.ticket(),
		sinks:       append([]TradeSink(nil), a.sinks...),
		trades:      trades,
		bookChanged: bookChanged,
	}
}

// deliver runs outside a.mu; sinks may read the app.
func (a *App) deliver(ctx context.Context, ev event) {
	a.outbox.deliver(ev.ticket, func() {
		for _, s := range ev.sinks {
			if len(ev.trades) > 0 {
				if err := s.PublishTrades(ctx, ev.trades); err != nil {
					a.logger.Warnw("publish_failed", "sink", fmt.Sprintf("%T", s), "trades", len(ev.trades), "err", err)
				}
				continue
			}
			if w, ok := s.(BookWatcher); ok && ev.bookChanged {
				w.BookChanged(ctx)
			}
		}
	})
}

// RecentTrades returns up to limit trades, newest first.
func (a *App) RecentTrades(limit int) []orderbook.Trade {
	a.mu.Lock()
	defer a.mu.Unlock()

	if limit <= 0 || limit > len(a.recent) {
		limit = len(a.recent)
	}
	out := make([]orderbook.Trade, 0, limit)
	for i := len(a.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, a.recent[i])
	}
	return out
}

// BookSnapshot is a consistent read of the book.
type BookSnapshot struct {
	ID        orderbook.BookID       `json:"id"`
	Name      string                 `json:"name"`
	Ticker    string                 `json:"ticker"`
	LastPrice *int64                 `json:"lastPrice"`
	BestBid   *int64                 `json:"bestBid"`
	BestAsk   *int64                 `json:"bestAsk"`
	Bids      []orderbook.PriceLevel `json:"bids"`
	Asks      []orderbook.PriceLevel `json:"asks"`
	Orders    int                    `json:"orders"`
}

func (a *App) Book(depth int) BookSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := BookSnapshot{
		ID:     a.book.ID(),
		Name:   a.book.Name(),
		Ticker: a.book.Ticker(),
		Bids:   a.book.BidLevels(depth),
		Asks:   a.book.AskLevels(depth),
		Orders: a.book.Len(),
	}
	if p, ok := a.book.LastTradedPrice(); ok {
		snap.LastPrice = &p
	}
	if p, ok := a.book.BestBid(); ok {
		snap.BestBid = &p
	}
	if p, ok := a.book.BestAsk(); ok {
		snap.BestAsk = &p
	}
	return snap
}

// Order returns a resting order's side, price and remaining quantity.
func (a *App) Order(id orderbook.OrderID) (orderbook.Order, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.book.Order(id)
}
