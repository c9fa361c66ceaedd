package history

import "sync"

// Pager tracks which history pages have been fetched for one conversation.
// Pages advance monotonically and are never re-requested; TotalPages comes
// from the server's pagination metadata after the first response.
type Pager struct {
	mu    sync.Mutex
	next  int
	total int // -1 until the first page lands
}

// NewPager starts at page zero with unknown total.
func NewPager() *Pager {
	return &Pager{total: -1}
}

// Next returns the next page index to request, or false when every page has
// been fetched already.
func (p *Pager) Next() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total >= 0 && p.next >= p.total {
		return 0, false
	}
	return p.next, true
}

// Advance records a successfully fetched page and its total-page metadata.
func (p *Pager) Advance(totalPages int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.total = totalPages
}

// Exhausted reports whether all pages have been fetched.
func (p *Pager) Exhausted() bool {
	_, ok := p.Next()
	return !ok
}
