// Package tier implements a byte-budgeted LRU that governs residency of
// pages across one of the vertex memory manager's storage tiers.
//
// Unlike a conventional cache, a Tier never discards its pages outright:
// eviction is delegated to the page itself, which may comply (and move
// itself to a lower tier), refuse, or defer by re-queuing at the MRU
// position. This mirrors the teacher's SizedLRU, but replaces unconditional
// removal with a capability the caller controls.
package tier

import (
	"container/list"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Verdict is the outcome a Page reports from Evict.
type Verdict int

const (
	// Comply means the page demoted itself and withdrew from this tier.
	Comply Verdict = iota
	// Refuse means the page stays enrolled, unchanged, to be retried
	// next epoch.
	Refuse
	// Requeue means the page stays enrolled but should be treated as
	// freshly touched, deferring its eviction far into the future.
	Requeue
)

// Page is the eviction capability a Tier invokes when it is over budget.
// It is a capability of the owning object (e.g. a vertex buffer), not a
// virtual method on the tier itself.
type Page interface {
	// Evict is called with this tier over budget and this page chosen
	// as the least-recently-used candidate.
	Evict() Verdict
	// CurrentSize reports the page's present contribution to the tier's
	// byte budget.
	CurrentSize() int64
}

// Unlimited disables eviction for a tier entirely.
const Unlimited int64 = -1

type entry struct {
	page Page
	size int64
}

// Tier is a byte-budgeted LRU list of pages. A Tier is internally
// synchronized: membership changes and size updates are atomic with
// respect to one another, so an epoch on one goroutine (BeginEpoch) may
// run concurrently with buffer creation or access on others (Enroll,
// Touch, Resize, Withdraw).
type Tier struct {
	mu sync.Mutex

	name string

	ll    *list.List
	index map[Page]*list.Element

	currentSize int64
	budget      int64

	gaugeSize   prometheus.Gauge
	gaugeBudget prometheus.Gauge
	evictions   prometheus.Counter
}

// New returns a Tier with the given byte budget. A budget of Unlimited (-1)
// disables eviction. A budget of 0 causes any enrolled page to be
// immediately eligible for eviction on the next epoch, which installations
// use to bypass a tier (e.g. skip the compressed tier and spill straight
// to disk).
func New(name string, budget int64) *Tier {
	t := &Tier{
		name:   name,
		budget: budget,
		ll:     list.New(),
		index:  make(map[Page]*list.Element),

		gaugeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "vertexmem_tier_bytes",
			Help:        "Current number of bytes enrolled in the tier.",
			ConstLabels: prometheus.Labels{"tier": name},
		}),
		gaugeBudget: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "vertexmem_tier_budget_bytes",
			Help:        "Configured byte budget of the tier (-1 means unlimited).",
			ConstLabels: prometheus.Labels{"tier": name},
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vertexmem_tier_evictions_total",
			Help:        "Number of pages that complied with an eviction request.",
			ConstLabels: prometheus.Labels{"tier": name},
		}),
	}
	t.gaugeBudget.Set(float64(budget))
	return t
}

// RegisterMetrics registers this tier's Prometheus collectors.
func (t *Tier) RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(t.gaugeSize, t.gaugeBudget, t.evictions)
}

// Name returns the tier's diagnostic name (e.g. "ram", "compressed", "disk").
func (t *Tier) Name() string { return t.name }

// Budget returns the tier's configured byte budget.
func (t *Tier) Budget() int64 { return t.budget }

// CurrentSize returns the tier's current total byte size.
func (t *Tier) CurrentSize() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentSize
}

// Len returns the number of pages enrolled in the tier.
func (t *Tier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ll.Len()
}

// Enroll adds a page to the tier at the MRU position. It is a no-op if the
// page is already enrolled (use Resize to update its size in that case).
func (t *Tier) Enroll(page Page, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.index[page]; ok {
		return
	}
	ele := t.ll.PushFront(&entry{page: page, size: size})
	t.index[page] = ele
	t.currentSize += size
	t.gaugeSize.Set(float64(t.currentSize))
}

// Withdraw removes a page from the tier.
func (t *Tier) Withdraw(page Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ele, ok := t.index[page]
	if !ok {
		return
	}
	t.removeElementLocked(ele)
}

// Touch moves a page to the MRU position. It is called on every read or
// write access to the page.
func (t *Tier) Touch(page Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ele, ok := t.index[page]; ok {
		t.ll.MoveToFront(ele)
	}
}

// Resize updates a page's contribution to the tier's byte budget, without
// changing its recency.
func (t *Tier) Resize(page Page, newSize int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ele, ok := t.index[page]
	if !ok {
		return
	}
	e := ele.Value.(*entry)
	t.currentSize += newSize - e.size
	e.size = newSize
	t.gaugeSize.Set(float64(t.currentSize))
}

// BeginEpoch evicts pages, oldest first, until the tier's total size is at
// or below budget. Tie-break: among pages of equal recency the one enrolled
// earliest is tried first -- this falls out naturally from list order,
// since Enroll always pushes to the front and only Touch/Requeue move a
// page out of FIFO order.
//
// The hook may comply (withdraw itself, demoting to another tier), refuse
// (stays put, retried next epoch), or requeue (treated as freshly touched).
// The loop terminates when the budget is met, or when one full pass over
// the tier produces no progress (every remaining page refused).
//
// The tier's lock is released for the duration of each Evict call: a
// complying page is expected to call back into this same tier (Withdraw)
// from within Evict, which would deadlock against a held, non-reentrant
// lock.
func (t *Tier) BeginEpoch() {
	t.mu.Lock()
	if t.budget < 0 {
		t.mu.Unlock()
		return
	}

	tried := make(map[Page]bool)
	for {
		if t.currentSize <= t.budget {
			t.mu.Unlock()
			return
		}
		ele := t.oldestUntriedLocked(tried)
		if ele == nil {
			t.mu.Unlock()
			return // one full pass produced no progress
		}
		page := ele.Value.(*entry).page

		t.mu.Unlock()
		verdict := page.Evict()
		t.mu.Lock()

		switch verdict {
		case Comply:
			// The hook is expected to have called Withdraw (directly,
			// or indirectly by enrolling into a different tier after
			// withdrawing from this one) as part of complying.
			t.evictions.Inc()
		case Requeue:
			// Moves to MRU, deferring this page far into the future; it
			// must not be retried again within this same epoch. Re-look
			// up the page rather than reuse ele, which may have been
			// invalidated if another goroutine withdrew it meanwhile.
			if cur, ok := t.index[page]; ok {
				t.ll.MoveToFront(cur)
			}
			tried[page] = true
		case Refuse:
			tried[page] = true
		}
	}
}

// oldestUntriedLocked requires t.mu to be held.
func (t *Tier) oldestUntriedLocked(tried map[Page]bool) *list.Element {
	for ele := t.ll.Back(); ele != nil; ele = ele.Prev() {
		if !tried[ele.Value.(*entry).page] {
			return ele
		}
	}
	return nil
}

// removeElementLocked requires t.mu to be held.
func (t *Tier) removeElementLocked(e *list.Element) {
	t.ll.Remove(e)
	kv := e.Value.(*entry)
	delete(t.index, kv.page)
	t.currentSize -= kv.size
	t.gaugeSize.Set(float64(t.currentSize))
}
