package orderbook

import "sort"

// bookSide holds the price levels for one direction.
// prices is kept in priority order: highest first for bids, lowest first for asks.
type bookSide struct {
	kind   Side
	prices []int64
	levels map[int64]*level
}

func newBookSide(kind Side) *bookSide {
	return &bookSide{
		kind:   kind,
		levels: make(map[int64]*level),
	}
}

// better reports whether price a has priority over price b on this side.
func (s *bookSide) better(a, b int64) bool {
	if s.kind == Bid {
		return a > b
	}
	return a < b
}

// crosses reports whether a resting level at price p can trade with an
// incoming order limited at limit.
func (s *bookSide) crosses(p, limit int64) bool {
	if s.kind == Ask {
		return p <= limit
	}
	return p >= limit
}

// search returns the index where price is, or would be inserted.
func (s *bookSide) search(price int64) int {
	return sort.Search(len(s.prices), func(i int) bool {
		return !s.better(s.prices[i], price)
	})
}

func (s *bookSide) best() (*level, bool) {
	if len(s.prices) == 0 {
		return nil, false
	}
	return s.levels[s.prices[0]], true
}

func (s *bookSide) levelAt(price int64) (*level, bool) {
	l, ok := s.levels[price]
	return l, ok
}

func (s *bookSide) getOrCreate(price int64) *level {
	if l, ok := s.levels[price]; ok {
		return l
	}
	l := &level{price: price}
	s.levels[price] = l

	i := s.search(price)
	s.prices = append(s.prices, 0)
	copy(s.prices[i+1:], s.prices[i:])
	s.prices[i] = price
	return l
}

// drop removes the level at price.
func (s *bookSide) drop(price int64) {
	if _, ok := s.levels[price]; !ok {
		return
	}
	delete(s.levels, price)

	i := s.search(price)
	if i < len(s.prices) && s.prices[i] == price {
		s.prices = append(s.prices[:i], s.prices[i+1:]...)
	}
}

func (s *bookSide) depth() int {
	return len(s.prices)
}
