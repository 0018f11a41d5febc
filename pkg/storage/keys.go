package storage

import (
	"bytes"
	"fmt"
	"strconv"
)

// Key schema:
//   acc:{id}              account snapshot, id zero-padded to 20 digits
//   trade:{ticker}:{seq}  trade, seq zero-padded so keys sort by execution order
//   orderid:{ticker}      highest order id seen in a journaled trade
const (
	prefixAccount = "acc:"
	prefixTrade   = "trade:"
	prefixOrderID = "orderid:"
)

func accountKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixAccount, id))
}

func accountPrefix() []byte {
	return []byte(prefixAccount)
}

func tradeKey(ticker string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, ticker, seq))
}

func tradeSeqFromKey(key, prefix []byte) (uint64, error) {
	seq, err := strconv.ParseUint(string(bytes.TrimPrefix(key, prefix)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed trade key %q: %w", key, err)
	}
	return seq, nil
}

func tradePrefix(ticker string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, ticker))
}

func orderIDKey(ticker string) []byte {
	return []byte(prefixOrderID + ticker)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan,
// e.g. "acc:" -> "acc;".
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
