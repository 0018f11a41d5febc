package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/spotbook/pkg/app/core/account"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
)

// PebbleStore journals account balances and executed trades.
// Resting orders are not stored; the book is rebuilt empty on restart.
type PebbleStore struct {
	db *pebble.DB
}

func Open(path string) (*PebbleStore, error) {
	cache := pebble.NewCache(64 << 20)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:        cache,
		MemTableSize: 32 << 20,
		MaxOpenFiles: 1000,
		BytesPerSync: 512 << 10,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) SaveAccount(acc account.Snapshot) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	if err := s.db.Set(accountKey(acc.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// LoadAccount returns false if the account was never saved.
func (s *PebbleStore) LoadAccount(id uint64) (account.Snapshot, bool, error) {
	data, closer, err := s.db.Get(accountKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return account.Snapshot{}, false, nil
	}
	if err != nil {
		return account.Snapshot{}, false, fmt.Errorf("failed to get account: %w", err)
	}
	defer closer.Close()

	var acc account.Snapshot
	if err := json.Unmarshal(data, &acc); err != nil {
		return account.Snapshot{}, false, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return acc, true, nil
}

// LoadAccounts returns every saved account ordered by id.
func (s *PebbleStore) LoadAccounts() ([]account.Snapshot, error) {
	prefix := accountPrefix()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open account iterator: %w", err)
	}
	defer iter.Close()

	var out []account.Snapshot
	for iter.First(); iter.Valid(); iter.Next() {
		var acc account.Snapshot
		if err := json.Unmarshal(iter.Value(), &acc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal account at %q: %w", iter.Key(), err)
		}
		out = append(out, acc)
	}
	return out, iter.Error()
}

func (s *PebbleStore) SaveTrade(t orderbook.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	if err := s.db.Set(tradeKey(t.Ticker, t.Seq), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// LoadRecentTrades returns up to limit trades of ticker, newest first.
func (s *PebbleStore) LoadRecentTrades(ticker string, limit int) ([]orderbook.Trade, error) {
	prefix := tradePrefix(ticker)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	var out []orderbook.Trade
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var t orderbook.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade at %q: %w", iter.Key(), err)
		}
		out = append(out, t)
	}
	return out, iter.Error()
}

// LastTradeSeq returns the highest journaled trade sequence for ticker, 0 if
// none. The sequence is read from the key, so a damaged value cannot make it
// go backwards.
func (s *PebbleStore) LastTradeSeq(ticker string) (uint64, error) {
	prefix := tradePrefix(ticker)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to open trade iterator: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return tradeSeqFromKey(iter.Key(), prefix)
}

// LastOrderID returns the highest order id that appears in a journaled trade
// of ticker, 0 if none.
func (s *PebbleStore) LastOrderID(ticker string) (uint64, error) {
	data, closer, err := s.db.Get(orderIDKey(ticker))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get last order id: %w", err)
	}
	defer closer.Close()

	if len(data) != 8 {
		return 0, fmt.Errorf("malformed last order id for %s: %d bytes", ticker, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// Record writes the accounts touched by one submission and its trades in a
// single atomic batch, raising each ticker's last order id as needed.
func (s *PebbleStore) Record(accounts []account.Snapshot, trades []orderbook.Trade) error {
	b := s.NewBatch()
	defer b.Close()

	for _, acc := range accounts {
		if err := b.SaveAccount(acc); err != nil {
			return err
		}
	}
	high := make(map[string]uint64)
	for _, t := range trades {
		if err := b.SaveTrade(t); err != nil {
			return err
		}
		high[t.Ticker] = max(high[t.Ticker], uint64(t.BuyOrder), uint64(t.SellOrder))
	}
	for ticker, id := range high {
		last, err := s.LastOrderID(ticker)
		if err != nil {
			return err
		}
		if id > last {
			if err := b.setLastOrderID(ticker, id); err != nil {
				return err
			}
		}
	}
	return b.Commit()
}

type Batch struct {
	batch *pebble.Batch
}

func (s *PebbleStore) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

func (b *Batch) SaveAccount(acc account.Snapshot) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	return b.batch.Set(accountKey(acc.ID), data, nil)
}

func (b *Batch) SaveTrade(t orderbook.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	return b.batch.Set(tradeKey(t.Ticker, t.Seq), data, nil)
}

func (b *Batch) setLastOrderID(ticker string, id uint64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], id)
	return b.batch.Set(orderIDKey(ticker), v[:], nil)
}

func (b *Batch) Commit() error {
	if err := b.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Close releases the batch. Safe to call after Commit.
func (b *Batch) Close() error {
	return b.batch.Close()
}
