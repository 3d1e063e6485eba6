package enrich

import "sync"

// leasePolicy tracks browser session usage and decides when the shared
// session must be recycled. The session behaves like a pool of size one
// with a max-lease-count: after maxLeases fetches the next acquirer tears
// the browser down and starts fresh, which both bounds memory growth and
// presents a new session to the source.
type leasePolicy struct {
	mu        sync.Mutex
	maxLeases int
	uses      int
	inflight  int
}

func newLeasePolicy(maxLeases int) *leasePolicy {
	return &leasePolicy{maxLeases: maxLeases}
}

// noteAcquire registers a new lease and reports whether the session is due
// for recycling first. Recycling only happens when no other lease is
// outstanding; otherwise the expired session serves one more fetch and the
// next idle acquirer recycles it.
func (p *leasePolicy) noteAcquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	recycle := p.maxLeases > 0 && p.uses >= p.maxLeases && p.inflight == 0
	if recycle {
		p.uses = 0
	}
	p.inflight++
	p.uses++
	return recycle
}

// noteRelease ends a lease.
func (p *leasePolicy) noteRelease() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
}

// reset clears the usage counter, used when the owner recycles the session
// out of band (between batches).
func (p *leasePolicy) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uses = 0
}
