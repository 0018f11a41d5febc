package spot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/spotbook/pkg/app/core/account"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
)

// FeederConfig controls synthetic order flow.
type FeederConfig struct {
	BatchSize   int           // orders per tick
	Interval    time.Duration // tick period
	NumAccounts int           // simulated traders
	FirstID     uint64        // id of the first simulated trader
	BasePrice   int64         // prices are drawn from BasePrice ± Spread
	Spread      int64
	MaxQty      int64
	Funding     int64 // starting balance and holding of every trader
}

func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		BatchSize:   10,
		Interval:    100 * time.Millisecond,
		NumAccounts: 50,
		FirstID:     1_000_000,
		BasePrice:   10_000,
		Spread:      250,
		MaxQty:      100,
		Funding:     1 << 40,
	}
}

// OrderGenerator produces random order and cancel requests for a fixed set
// of traders. Roughly one request in ten is a cancel of a recently placed
// order.
type OrderGenerator struct {
	cfg    FeederConfig
	rng    *rand.Rand
	placed []orderbook.OrderID
}

func NewOrderGenerator(cfg FeederConfig, seed int64) *OrderGenerator {
	return &OrderGenerator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (g *OrderGenerator) Order() OrderRequest {
	side := orderbook.Bid
	if g.rng.Intn(2) == 1 {
		side = orderbook.Ask
	}
	price := g.cfg.BasePrice + g.rng.Int63n(2*g.cfg.Spread+1) - g.cfg.Spread
	if price < 1 {
		price = 1
	}
	return OrderRequest{
		Account: g.cfg.FirstID + uint64(g.rng.Intn(g.cfg.NumAccounts)),
		Side:    side,
		Price:   price,
		Qty:     g.rng.Int63n(g.cfg.MaxQty) + 1,
	}
}

// Cancel picks one of the last 100 placed orders. It returns false when
// nothing has been placed yet.
func (g *OrderGenerator) Cancel() (orderbook.OrderID, bool) {
	if len(g.placed) == 0 {
		return 0, false
	}
	lo := max(0, len(g.placed)-100)
	return g.placed[lo+g.rng.Intn(len(g.placed)-lo)], true
}

// Placed records an order id the app accepted so later cancels can target it.
func (g *OrderGenerator) Placed(id orderbook.OrderID) {
	g.placed = append(g.placed, id)
	if len(g.placed) > 1000 {
		g.placed = append(g.placed[:0:0], g.placed[len(g.placed)-100:]...)
	}
}

func (g *OrderGenerator) wantCancel() bool {
	return g.rng.Intn(100) < 10
}

type FeederStats struct {
	Orders  int
	Cancels int
	Trades  int
}

// FundTraders opens the simulated accounts, leaving existing ones as they are.
func FundTraders(app *App, cfg FeederConfig) error {
	for i := 0; i < cfg.NumAccounts; i++ {
		id := cfg.FirstID + uint64(i)
		_, err := app.OpenAccount(id, fmt.Sprintf("trader_%d", i+1), cfg.Funding,
			map[string]int64{app.Ticker(): cfg.Funding})
		if err != nil && !errors.Is(err, account.ErrAccountExists) {
			return err
		}
	}
	return nil
}

// RunFeeder submits synthetic order flow to app until ctx is done.
func RunFeeder(ctx context.Context, app *App, cfg FeederConfig, logger *zap.Logger) (FeederStats, error) {
	if err := FundTraders(app, cfg); err != nil {
		return FeederStats{}, fmt.Errorf("fund traders: %w", err)
	}

	gen := NewOrderGenerator(cfg, time.Now().UnixNano())
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	var stats FeederStats
	start := time.Now()
	logger.Info("feeder_started",
		zap.Int("batch", cfg.BatchSize),
		zap.Duration("interval", cfg.Interval),
		zap.Int("accounts", cfg.NumAccounts))

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(start)
			logger.Info("feeder_stopped",
				zap.Int("orders", stats.Orders),
				zap.Int("cancels", stats.Cancels),
				zap.Int("trades", stats.Trades),
				zap.Duration("elapsed", elapsed.Round(time.Second)))
			return stats, nil

		case <-ticker.C:
			for i := 0; i < cfg.BatchSize; i++ {
				stepFeeder(ctx, app, gen, &stats, logger)
			}
		}
	}
}

func stepFeeder(ctx context.Context, app *App, gen *OrderGenerator, stats *FeederStats, logger *zap.Logger) {
	if gen.wantCancel() {
		if id, ok := gen.Cancel(); ok {
			// Most picks have already filled; not-found is expected.
			if err := app.CancelOrder(ctx, id); err == nil {
				stats.Cancels++
			}
			return
		}
	}

	res, err := app.SubmitOrder(ctx, gen.Order())
	if err != nil {
		logger.Debug("feeder_order_rejected", zap.Error(err))
		return
	}
	stats.Orders++
	stats.Trades += len(res.Trades)
	if res.Resting > 0 {
		gen.Placed(res.OrderID)
	}
}
