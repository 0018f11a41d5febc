package spot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/spotbook/pkg/app/core/account"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
)

const ticker = "VOC"

type recordingJournal struct {
	mu       sync.Mutex
	accounts [][]account.Snapshot
	trades   [][]orderbook.Trade
	err      error
}

func (j *recordingJournal) Record(accounts []account.Snapshot, trades []orderbook.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.accounts = append(j.accounts, accounts)
	j.trades = append(j.trades, trades)
	return nil
}

type recordingSink struct {
	mu          sync.Mutex
	batches     [][]orderbook.Trade
	bookChanges int
	err         error
}

func (s *recordingSink) BookChanged(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookChanges++
}

func (s *recordingSink) PublishTrades(_ context.Context, trades []orderbook.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, trades)
	return s.err
}

func newApp(t *testing.T, opts ...Option) *App {
	t.Helper()
	app := NewApp(BookConfig{ID: 1, Name: "test", Ticker: ticker}, opts...)
	_, err := app.OpenAccount(1, "seller", 0, map[string]int64{ticker: 100})
	require.NoError(t, err)
	_, err = app.OpenAccount(2, "buyer", 100_000, nil)
	require.NoError(t, err)
	return app
}

func TestSubmitAssignsIDs(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	res, err := app.SubmitOrder(ctx, OrderRequest{Account: 1, Side: orderbook.Ask, Price: 120, Qty: 5})
	require.NoError(t, err)
	assert.Equal(t, orderbook.OrderID(1), res.OrderID)
	assert.Equal(t, int64(5), res.Resting)

	res, err = app.SubmitOrder(ctx, OrderRequest{ID: 40, Account: 1, Side: orderbook.Ask, Price: 121, Qty: 5})
	require.NoError(t, err)
	assert.Equal(t, orderbook.OrderID(40), res.OrderID)

	res, err = app.SubmitOrder(ctx, OrderRequest{Account: 1, Side: orderbook.Ask, Price: 122, Qty: 5})
	require.NoError(t, err)
	assert.Equal(t, orderbook.OrderID(41), res.OrderID, "assigned ids skip past caller ids")
}

func TestSubmitCrossSettlesAndReports(t *testing.T) {
	journal := &recordingJournal{}
	sink := &recordingSink{}
	app := newApp(t, WithJournal(journal), WithSinks(sink))
	ctx := context.Background()

	_, err := app.SubmitOrder(ctx, OrderRequest{Account: 1, Side: orderbook.Ask, Price: 125, Qty: 20})
	require.NoError(t, err)
	res, err := app.SubmitOrder(ctx, OrderRequest{Account: 2, Side: orderbook.Bid, Price: 130, Qty: 30})
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(125), res.Trades[0].Price)
	assert.Equal(t, int64(20), res.Trades[0].Qty)
	assert.Equal(t, int64(10), res.Resting)

	seller, err := app.Account(1)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), seller.Balance)
	assert.Equal(t, int64(80), seller.Holdings[ticker])

	buyer, err := app.Account(2)
	require.NoError(t, err)
	assert.Equal(t, int64(97_500), buyer.Balance)
	assert.Equal(t, int64(20), buyer.Holdings[ticker])

	// two account opens plus one trade batch
	require.Len(t, journal.trades, 3)
	assert.Len(t, journal.trades[2], 1)
	assert.ElementsMatch(t, []uint64{1, 2}, []uint64{journal.accounts[2][0].ID, journal.accounts[2][1].ID})

	require.Len(t, sink.batches, 1)
	assert.Equal(t, res.Trades, sink.batches[0])

	book := app.Book(10)
	require.NotNil(t, book.LastPrice)
	assert.Equal(t, int64(125), *book.LastPrice)
	require.NotNil(t, book.BestBid)
	assert.Equal(t, int64(130), *book.BestBid)
	assert.Nil(t, book.BestAsk)
	assert.Equal(t, 1, book.Orders)
}

func TestNonCrossingSubmitSkipsJournalAndSinks(t *testing.T) {
	journal := &recordingJournal{}
	sink := &recordingSink{}
	app := newApp(t, WithJournal(journal), WithSinks(sink))

	_, err := app.SubmitOrder(context.Background(), OrderRequest{Account: 2, Side: orderbook.Bid, Price: 100, Qty: 1})
	require.NoError(t, err)

	assert.Len(t, journal.trades, 2, "only the account opens")
	assert.Empty(t, sink.batches)
	assert.Equal(t, 1, sink.bookChanges)
}

func TestSinksHearAboutRestsAndCancels(t *testing.T) {
	sink := &recordingSink{}
	app := newApp(t, WithSinks(sink))
	ctx := context.Background()

	res, err := app.SubmitOrder(ctx, OrderRequest{Account: 1, Side: orderbook.Ask, Price: 120, Qty: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, sink.bookChanges)

	require.NoError(t, app.CancelOrder(ctx, res.OrderID))
	assert.Equal(t, 2, sink.bookChanges)

	assert.Error(t, app.CancelOrder(ctx, res.OrderID))
	assert.Equal(t, 2, sink.bookChanges, "failed cancel changes nothing")

	_, err = app.SubmitOrder(ctx, OrderRequest{Account: 1, Side: orderbook.Ask, Price: 120, Qty: 1})
	require.NoError(t, err)
	_, err = app.SubmitOrder(ctx, OrderRequest{Account: 2, Side: orderbook.Bid, Price: 120, Qty: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, sink.bookChanges, "a trade is reported as trades only")
	assert.Len(t, sink.batches, 1)
}

func TestSinksSeeTradesInExecutionOrder(t *testing.T) {
	sink := &recordingSink{}
	app := newApp(t, WithSinks(sink))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = app.SubmitOrder(ctx, OrderRequest{Account: 1, Side: orderbook.Ask, Price: 100, Qty: 1})
		}()
		go func() {
			defer wg.Done()
			_, _ = app.SubmitOrder(ctx, OrderRequest{Account: 2, Side: orderbook.Bid, Price: 100, Qty: 1})
		}()
	}
	wg.Wait()

	var seqs []uint64
	for _, batch := range sink.batches {
		for _, tr := range batch {
			seqs = append(seqs, tr.Seq)
		}
	}
	require.Len(t, seqs, 50)
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq)
	}
}

func TestJournalFailureDoesNotFailSubmit(t *testing.T) {
	journal := &recordingJournal{}
	app := newApp(t, WithJournal(journal))
	ctx := context.Background()

	_, err := app.SubmitOrder(ctx, OrderRequest{Account: 1, Side: orderbook.Ask, Price: 125, Qty: 1})
	require.NoError(t, err)

	journal.err = errors.New("disk full")
	res, err := app.SubmitOrder(ctx, OrderRequest{Account: 2, Side: orderbook.Bid, Price: 125, Qty: 1})
	require.NoError(t, err)
	assert.Len(t, res.Trades, 1)
}

func TestSinkFailureIsNotReturned(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	app := newApp(t, WithSinks(sink))
	ctx := context.Background()

	_, err := app.SubmitOrder(ctx, OrderRequest{Account: 1, Side: orderbook.Ask, Price: 125, Qty: 1})
	require.NoError(t, err)
	_, err = app.SubmitOrder(ctx, OrderRequest{Account: 2, Side: orderbook.Bid, Price: 125, Qty: 1})
	require.NoError(t, err)
	assert.Len(t, sink.batches, 1)
}

func TestSubmitErrors(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	_, err := app.SubmitOrder(ctx, OrderRequest{Account: 99, Side: orderbook.Bid, Price: 1, Qty: 1})
	assert.ErrorIs(t, err, account.ErrAccountNotFound)

	_, err = app.SubmitOrder(ctx, OrderRequest{Account: 2, Side: orderbook.Bid, Price: 0, Qty: 1})
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrder)

	_, err = app.SubmitOrder(ctx, OrderRequest{ID: 7, Account: 2, Side: orderbook.Bid, Price: 10, Qty: 1})
	require.NoError(t, err)
	_, err = app.SubmitOrder(ctx, OrderRequest{ID: 7, Account: 2, Side: orderbook.Bid, Price: 11, Qty: 1})
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrder)
}

func TestFilledOrderIDIsNotReissued(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	_, err := app.SubmitOrder(ctx, OrderRequest{ID: 10, Account: 1, Side: orderbook.Ask, Price: 100, Qty: 1})
	require.NoError(t, err)
	res, err := app.SubmitOrder(ctx, OrderRequest{ID: 11, Account: 2, Side: orderbook.Bid, Price: 100, Qty: 1})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	_, live := app.Order(10)
	require.False(t, live)

	_, err = app.SubmitOrder(ctx, OrderRequest{ID: 10, Account: 1, Side: orderbook.Ask, Price: 100, Qty: 1})
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrder)

	res, err = app.SubmitOrder(ctx, OrderRequest{Account: 1, Side: orderbook.Ask, Price: 100, Qty: 1})
	require.NoError(t, err)
	assert.Equal(t, orderbook.OrderID(12), res.OrderID)
}

func TestCancelOrder(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	res, err := app.SubmitOrder(ctx, OrderRequest{Account: 2, Side: orderbook.Bid, Price: 100, Qty: 3})
	require.NoError(t, err)

	o, ok := app.Order(res.OrderID)
	require.True(t, ok)
	assert.Equal(t, int64(3), o.Qty)

	require.NoError(t, app.CancelOrder(ctx, res.OrderID))
	_, ok = app.Order(res.OrderID)
	assert.False(t, ok)
	assert.ErrorIs(t, app.CancelOrder(ctx, res.OrderID), orderbook.ErrOrderNotFound)
	assert.Equal(t, 0, app.Book(5).Orders)
}

func TestStrictSolvencyRejectsOverdraw(t *testing.T) {
	app := NewApp(BookConfig{ID: 1, Ticker: ticker}, WithStrictSolvency())
	_, err := app.OpenAccount(1, "seller", 0, map[string]int64{ticker: 5})
	require.NoError(t, err)
	_, err = app.OpenAccount(2, "buyer", 1_000, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// The seller may rest more than they hold; only the fill is checked.
	_, err = app.SubmitOrder(ctx, OrderRequest{Account: 1, Side: orderbook.Ask, Price: 100, Qty: 10})
	require.NoError(t, err)

	_, err = app.SubmitOrder(ctx, OrderRequest{Account: 2, Side: orderbook.Bid, Price: 100, Qty: 10})
	assert.ErrorIs(t, err, orderbook.ErrTradeRejected)

	res, err := app.SubmitOrder(ctx, OrderRequest{Account: 2, Side: orderbook.Bid, Price: 100, Qty: 5})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	buyer, err := app.Account(2)
	require.NoError(t, err)
	assert.Equal(t, int64(500), buyer.Balance)
	assert.Equal(t, int64(5), buyer.Holdings[ticker])
}

func TestRecentTradesNewestFirst(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		_, err := app.SubmitOrder(ctx, OrderRequest{Account: 1, Side: orderbook.Ask, Price: 100 + i, Qty: 1})
		require.NoError(t, err)
	}
	res, err := app.SubmitOrder(ctx, OrderRequest{Account: 2, Side: orderbook.Bid, Price: 200, Qty: 3})
	require.NoError(t, err)
	require.Len(t, res.Trades, 3)

	recent := app.RecentTrades(2)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(102), recent[0].Price)
	assert.Equal(t, int64(101), recent[1].Price)
	assert.Len(t, app.RecentTrades(0), 3)
}

func TestRestoreFromJournalState(t *testing.T) {
	snaps := []account.Snapshot{
		{ID: 1, Name: "seller", Balance: 0, Holdings: map[string]int64{ticker: 10}},
		{ID: 2, Name: "buyer", Balance: 1_000, Holdings: map[string]int64{}},
	}
	old := []orderbook.Trade{
		{Seq: 41, Price: 90, SellOrder: 1, BuyOrder: 2},
		{Seq: 40, Price: 80, SellOrder: 3, BuyOrder: 1},
	}
	app := NewApp(BookConfig{ID: 1, Ticker: ticker},
		WithRestoredAccounts(snaps, 41),
		WithRecentTrades(old))

	assert.Len(t, app.Accounts(), 2)
	assert.Equal(t, old, app.RecentTrades(10))

	ctx := context.Background()
	ask, err := app.SubmitOrder(ctx, OrderRequest{Account: 1, Side: orderbook.Ask, Price: 100, Qty: 1})
	require.NoError(t, err)
	res, err := app.SubmitOrder(ctx, OrderRequest{Account: 2, Side: orderbook.Bid, Price: 100, Qty: 1})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, uint64(42), res.Trades[0].Seq)
	assert.Equal(t, uint64(42), app.RecentTrades(1)[0].Seq)

	assert.Equal(t, orderbook.OrderID(4), ask.OrderID, "ids continue above the restored tape")
	assert.Equal(t, orderbook.OrderID(5), res.OrderID)

	_, err = app.SubmitOrder(ctx, OrderRequest{ID: 2, Account: 2, Side: orderbook.Bid, Price: 1, Qty: 1})
	assert.ErrorIs(t, err, orderbook.ErrInvalidOrder)
}

func TestLastOrderIDBeyondTape(t *testing.T) {
	app := NewApp(BookConfig{ID: 1, Ticker: ticker},
		WithRestoredAccounts([]account.Snapshot{{ID: 1, Balance: 10, Holdings: map[string]int64{}}}, 7),
		WithRecentTrades([]orderbook.Trade{{Seq: 7, SellOrder: 3, BuyOrder: 4}}),
		WithLastOrderID(90))

	res, err := app.SubmitOrder(context.Background(), OrderRequest{Account: 1, Side: orderbook.Bid, Price: 1, Qty: 1})
	require.NoError(t, err)
	assert.Equal(t, orderbook.OrderID(91), res.OrderID)
}

func TestOpenAccountErrors(t *testing.T) {
	journal := &recordingJournal{}
	app := newApp(t, WithJournal(journal))

	_, err := app.OpenAccount(1, "again", 0, nil)
	assert.ErrorIs(t, err, account.ErrAccountExists)

	_, err = app.OpenAccount(3, "neg", -1, nil)
	assert.ErrorIs(t, err, account.ErrInvalidAccount)

	journal.err = errors.New("disk full")
	_, err = app.OpenAccount(4, "lost", 0, nil)
	assert.Error(t, err)
}

func TestConcurrentSubmitsKeepAccountsConsistent(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = app.SubmitOrder(ctx, OrderRequest{Account: 1, Side: orderbook.Ask, Price: 100, Qty: 1})
		}()
		go func() {
			defer wg.Done()
			_, _ = app.SubmitOrder(ctx, OrderRequest{Account: 2, Side: orderbook.Bid, Price: 100, Qty: 1})
		}()
	}
	wg.Wait()

	seller, err := app.Account(1)
	require.NoError(t, err)
	buyer, err := app.Account(2)
	require.NoError(t, err)
	assert.Equal(t, int64(100), seller.Holdings[ticker]+buyer.Holdings[ticker])
	assert.Equal(t, int64(100_000), seller.Balance+buyer.Balance)
	assert.Len(t, app.RecentTrades(0), 20)
}
