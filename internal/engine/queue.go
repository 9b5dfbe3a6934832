package engine

import "fencewatch/internal/alert"

// fifo is the presentation queue: strict arrival order, no priorities.
// Owned by the engine run loop.
type fifo struct {
	items []alert.Event
}

func (q *fifo) push(e alert.Event) { q.items = append(q.items, e) }

func (q *fifo) pop() (alert.Event, bool) {
	if len(q.items) == 0 {
		return alert.Event{}, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

func (q *fifo) len() int { return len(q.items) }

func (q *fifo) clear() { q.items = nil }
