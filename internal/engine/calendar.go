package engine

import "container/heap"

// Visit is a pending customer arrival on the calendar.
type Visit struct {
	Time     float64
	Customer int
	seq      uint64
}

// Calendar is a min-priority queue of visits keyed by time. Visits with equal
// times pop in insertion order.
type Calendar struct {
	q       visitQueue
	nextSeq uint64
}

// NewCalendar returns an empty calendar with room for n visits.
func NewCalendar(n int) *Calendar {
	return &Calendar{q: make(visitQueue, 0, n)}
}

// Push schedules a visit.
func (c *Calendar) Push(v Visit) {
	v.seq = c.nextSeq
	c.nextSeq++
	heap.Push(&c.q, v)
}

// Pop removes and returns the earliest visit.
func (c *Calendar) Pop() (Visit, bool) {
	if len(c.q) == 0 {
		return Visit{}, false
	}
	return heap.Pop(&c.q).(Visit), true
}

// Peek returns the earliest visit without removing it.
func (c *Calendar) Peek() (Visit, bool) {
	if len(c.q) == 0 {
		return Visit{}, false
	}
	return c.q[0], true
}

// Len returns the number of pending visits.
func (c *Calendar) Len() int {
	return len(c.q)
}

type visitQueue []Visit

func (q visitQueue) Len() int { return len(q) }

func (q visitQueue) Less(i, j int) bool {
	if q[i].Time != q[j].Time {
		return q[i].Time < q[j].Time
	}
	return q[i].seq < q[j].seq
}

func (q visitQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *visitQueue) Push(x any) { *q = append(*q, x.(Visit)) }

func (q *visitQueue) Pop() any {
	old := *q
	n := len(old)
	v := old[n-1]
	*q = old[:n-1]
	return v
}
