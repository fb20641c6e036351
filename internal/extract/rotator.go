package extract

import "sync/atomic"

// Rotator hands out items round-robin. Concurrent callers may occasionally get
// the same item; the cursor only spreads load.
type Rotator struct {
	items []string
	next  atomic.Uint64
}

func NewRotator(items []string) *Rotator {
	return &Rotator{items: append([]string(nil), items...)}
}

func (r *Rotator) Next() string {
	if len(r.items) == 0 {
		return ""
	}
	n := r.next.Add(1) - 1
	return r.items[n%uint64(len(r.items))]
}

func (r *Rotator) Len() int { return len(r.items) }
