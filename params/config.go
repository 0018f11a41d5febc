package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

type Node struct {
	APIAddr  string
	LogFile  string
	LogLevel zapcore.Level
	// DataDir holds the pebble journal. Empty runs the node in memory only.
	DataDir         string
	ShutdownTimeout time.Duration
	// StrictSolvency rejects submissions that would overdraw an account.
	StrictSolvency bool
	// EnableFeeder turns on synthetic order flow against the book.
	EnableFeeder bool
}

type Book struct {
	ID     uint64
	Name   string
	Ticker string
}

// Stream is the optional Kafka trade feed. No brokers disables it.
type Stream struct {
	Brokers []string
	Topic   string
}

type Config struct {
	Node   Node
	Book   Book
	Stream Stream
}

func Default() Config {
	return Config{
		Node: Node{
			APIAddr:         ":8080",
			LogFile:         "data/node.log",
			LogLevel:        zapcore.InfoLevel,
			ShutdownTimeout: 5 * time.Second,
		},
		Book: Book{
			ID:     1,
			Name:   "Vereenigde Oostindische Compagnie",
			Ticker: "VOC",
		},
		Stream: Stream{
			Topic: "trades",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	// LOG_FILE set to empty logs to stdout only
	if f, ok := os.LookupEnv("LOG_FILE"); ok {
		cfg.Node.LogFile = f
	}
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if l, err := zapcore.ParseLevel(lvl); err == nil {
			cfg.Node.LogLevel = l
		}
	}
	if ms := os.Getenv("SHUTDOWN_TIMEOUT_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			cfg.Node.ShutdownTimeout = time.Duration(n) * time.Millisecond
		}
	}
	cfg.Node.StrictSolvency = os.Getenv("STRICT_SOLVENCY") == "true"
	cfg.Node.EnableFeeder = os.Getenv("ENABLE_TXGEN") == "true"

	if id := os.Getenv("BOOK_ID"); id != "" {
		if n, err := strconv.ParseUint(id, 10, 64); err == nil {
			cfg.Book.ID = n
		}
	}
	cfg.Book.Name = getEnv("BOOK_NAME", cfg.Book.Name)
	cfg.Book.Ticker = getEnv("BOOK_TICKER", cfg.Book.Ticker)

	// Example: "kafka-1:9092,kafka-2:9092"
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Stream.Brokers = append(cfg.Stream.Brokers, b)
			}
		}
	}
	cfg.Stream.Topic = getEnv("KAFKA_TOPIC", cfg.Stream.Topic)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
