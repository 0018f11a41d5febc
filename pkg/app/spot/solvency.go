package spot

import (
	"fmt"

	"github.com/uhyunpark/spotbook/pkg/app/core/account"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
)

// SolvencyCheck returns a pre-trade check that rejects a planned set of
// trades if applying all of them would drive any participant's balance or
// holding below zero.
func SolvencyCheck(accounts *account.Manager) func([]orderbook.Trade) error {
	return func(trades []orderbook.Trade) error {
		balance := make(map[uint64]int64)
		holding := make(map[uint64]int64)
		for _, t := range trades {
			balance[t.Buyer] -= t.Notional()
			holding[t.Buyer] += t.Qty
			balance[t.Seller] += t.Notional()
			holding[t.Seller] -= t.Qty
		}

		ticker := trades[0].Ticker
		for id, delta := range balance {
			acc, err := accounts.Get(id)
			if err != nil {
				return err
			}
			if acc.Balance()+delta < 0 {
				return fmt.Errorf("account %d: insufficient balance: have %d, need %d", id, acc.Balance(), -delta)
			}
			if h := acc.Holding(ticker); h+holding[id] < 0 {
				return fmt.Errorf("account %d: insufficient %s holding: have %d, need %d", id, ticker, h, -holding[id])
			}
		}
		return nil
	}
}
