package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/spotbook/params"
	"github.com/uhyunpark/spotbook/pkg/api"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotbook/pkg/app/spot"
	"github.com/uhyunpark/spotbook/pkg/storage"
	"github.com/uhyunpark/spotbook/pkg/stream"
	"github.com/uhyunpark/spotbook/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := newLogger(cfg.Node)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel.String())

	if err := run(cfg, logger); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

// newLogger logs to stdout, teeing to LogFile when one is set.
func newLogger(node params.Node) (*zap.Logger, error) {
	if node.LogFile == "" {
		return util.NewLogger(node.LogLevel)
	}
	return util.NewLoggerWithFile(node.LogFile, node.LogLevel)
}

func run(cfg params.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()
	opts := []spot.Option{spot.WithLogger(logger)}

	// ---- Journal (optional) ----
	if cfg.Node.DataDir != "" {
		store, err := storage.Open(cfg.Node.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		accounts, err := store.LoadAccounts()
		if err != nil {
			return err
		}
		seq, err := store.LastTradeSeq(cfg.Book.Ticker)
		if err != nil {
			return err
		}
		lastID, err := store.LastOrderID(cfg.Book.Ticker)
		if err != nil {
			return err
		}
		recent, err := store.LoadRecentTrades(cfg.Book.Ticker, 1000)
		if err != nil {
			return err
		}
		opts = append(opts,
			spot.WithJournal(store),
			spot.WithRestoredAccounts(accounts, seq),
			spot.WithLastOrderID(orderbook.OrderID(lastID)),
			spot.WithRecentTrades(recent))
		sugar.Infow("journal_opened",
			"dir", cfg.Node.DataDir,
			"accounts", len(accounts),
			"last_trade_seq", seq,
			"last_order_id", lastID)
	}

	// ---- Kafka trade feed (optional) ----
	if len(cfg.Stream.Brokers) > 0 {
		pub, err := stream.NewPublisher(cfg.Stream.Brokers, cfg.Stream.Topic, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		opts = append(opts, spot.WithSinks(pub))
		sugar.Infow("kafka_enabled", "brokers", cfg.Stream.Brokers, "topic", cfg.Stream.Topic)
	}

	if cfg.Node.StrictSolvency {
		opts = append(opts, spot.WithStrictSolvency())
	}

	app := spot.NewApp(spot.BookConfig{
		ID:     orderbook.BookID(cfg.Book.ID),
		Name:   cfg.Book.Name,
		Ticker: cfg.Book.Ticker,
	}, opts...)

	apiServer := api.NewServer(app, logger)
	app.AddSink(apiServer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("node_starting",
		"book", cfg.Book.ID,
		"name", cfg.Book.Name,
		"ticker", cfg.Book.Ticker,
		"strict_solvency", cfg.Node.StrictSolvency)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiServer.Start(cfg.Node.APIAddr)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Node.ShutdownTimeout)
		defer cancel()
		sugar.Info("api_server_stopping")
		return apiServer.Shutdown(shutdownCtx)
	})

	// Enable with: ENABLE_TXGEN=true
	if cfg.Node.EnableFeeder {
		g.Go(func() error {
			_, err := spot.RunFeeder(ctx, app, spot.DefaultFeederConfig(), logger)
			return err
		})
	} else {
		sugar.Info("txgen_disabled")
	}

	return g.Wait()
}
