package account

import (
	"fmt"
	"maps"
)

// Account is a cash balance plus per-ticker holdings.
// Balances are integer quote units; holdings are integer lots.
//
// Take* methods subtract without checking: keeping balances non-negative
// is the job of whoever admits orders, not of settlement.
type Account struct {
	id       uint64
	name     string
	balance  int64
	holdings map[string]int64
}

// Snapshot is the serialisable state of an Account.
type Snapshot struct {
	ID       uint64           `json:"id"`
	Name     string           `json:"name"`
	Balance  int64            `json:"balance"`
	Holdings map[string]int64 `json:"holdings"`
}

func New(id uint64, name string, balance int64, holdings map[string]int64) *Account {
	h := make(map[string]int64, len(holdings))
	maps.Copy(h, holdings)
	return &Account{
		id:       id,
		name:     name,
		balance:  balance,
		holdings: h,
	}
}

func FromSnapshot(s Snapshot) *Account {
	return New(s.ID, s.Name, s.Balance, s.Holdings)
}

func (a *Account) ID() uint64     { return a.id }
func (a *Account) Name() string   { return a.name }
func (a *Account) Balance() int64 { return a.balance }

// Holding returns the quantity held of ticker, 0 if none.
func (a *Account) Holding(ticker string) int64 {
	return a.holdings[ticker]
}

func (a *Account) AddBalance(amount int64)  { a.balance += amount }
func (a *Account) TakeBalance(amount int64) { a.balance -= amount }

func (a *Account) AddHolding(ticker string, qty int64) {
	a.holdings[ticker] += qty
}

func (a *Account) TakeHolding(ticker string, qty int64) {
	a.holdings[ticker] -= qty
}

func (a *Account) Snapshot() Snapshot {
	h := make(map[string]int64, len(a.holdings))
	maps.Copy(h, a.holdings)
	return Snapshot{
		ID:       a.id,
		Name:     a.name,
		Balance:  a.balance,
		Holdings: h,
	}
}

// Validate checks that nothing went negative.
func (a *Account) Validate() error {
	if a.balance < 0 {
		return fmt.Errorf("account %d: negative balance: %d", a.id, a.balance)
	}
	for ticker, qty := range a.holdings {
		if qty < 0 {
			return fmt.Errorf("account %d: negative holding of %s: %d", a.id, ticker, qty)
		}
	}
	return nil
}
