package status

import "forex-trading-bot/internal/strategy"

// ring is a fixed-capacity buffer of evaluation results. Writes
// overwrite the oldest entry once full.
type ring struct {
	buf  []strategy.Result
	next int
	full bool
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &ring{buf: make([]strategy.Result, capacity)}
}

func (r *ring) add(res strategy.Result) {
	r.buf[r.next] = res
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// newestFirst returns up to limit results, most recent first.
func (r *ring) newestFirst(limit int) []strategy.Result {
	n := r.len()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]strategy.Result, 0, limit)
	idx := r.next - 1
	for i := 0; i < limit; i++ {
		if idx < 0 {
			idx = len(r.buf) - 1
		}
		out = append(out, r.buf[idx])
		idx--
	}
	return out
}
