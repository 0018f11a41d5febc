package orderbook

// level is the FIFO queue of resting order ids at one price.
// Orders only ever leave a level; they are never reordered.
type level struct {
	price int64
	ids   []OrderID
}

func (l *level) push(id OrderID) {
	l.ids = append(l.ids, id)
}

func (l *level) empty() bool {
	return len(l.ids) == 0
}

// remove deletes exactly id from the queue, keeping the order of the rest.
// Fills always consume the head, so that case is O(1).
func (l *level) remove(id OrderID) bool {
	if len(l.ids) > 0 && l.ids[0] == id {
		l.ids[0] = 0
		l.ids = l.ids[1:]
		return true
	}
	for i, cur := range l.ids {
		if cur == id {
			l.ids = append(l.ids[:i], l.ids[i+1:]...)
			return true
		}
	}
	return false
}
