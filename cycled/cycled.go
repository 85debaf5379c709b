// Package cycled implements copy-on-write, per-pipeline-stage snapshots of
// a vertex buffer's bytes. A fixed number of stages advance in lockstep
// via Cycle; a writer at stage k obtains a private copy when the current
// snapshot is shared, and mutates in place when it already holds the only
// reference.
package cycled

import (
	"sync"
	"sync/atomic"
)

// UsageHint is an advisory tag describing how a buffer's contents are
// expected to be used. It is consumed by device collaborators, not by
// this package.
type UsageHint int

const (
	Static UsageHint = iota
	Dynamic
	Stream
	Client
)

// Snapshot is an immutable-to-readers view of a buffer's bytes at one
// pipeline stage. Callers that obtained it via Read must not mutate
// Bytes; callers that obtained it via Write have exclusive access for the
// lifetime of their lock.
type Snapshot struct {
	Bytes        []byte
	DataFullSize int // uncompressed length, even when Bytes holds compressed data
	Usage        UsageHint
	Modified     uint64

	// refs counts how many stage slots currently alias this snapshot.
	// A value of 1 means the holder of the corresponding stage lock may
	// mutate Bytes in place without violating another stage's view.
	refs int32
}

// Cycled is a bounded ring of per-stage snapshots with copy-on-write
// semantics. It is safe for concurrent use: each stage has its own lock,
// and Cycle acquires all of them (in stage order, to avoid deadlock with
// itself) before shifting snapshots down the pipeline.
type Cycled struct {
	locks  []sync.RWMutex
	stages []*Snapshot
}

// New returns a Cycled with numStages stages, all initially aliasing one
// empty snapshot.
func New(numStages int) *Cycled {
	initial := &Snapshot{refs: int32(numStages)}
	stages := make([]*Snapshot, numStages)
	for i := range stages {
		stages[i] = initial
	}
	return &Cycled{
		locks:  make([]sync.RWMutex, numStages),
		stages: stages,
	}
}

// NumStages returns the number of pipeline stages this ring tracks.
func (c *Cycled) NumStages() int { return len(c.stages) }

// Read returns the shared snapshot at stage, along with a function the
// caller must invoke when done reading. The returned lock function holds
// off any Cycle() from reshuffling this stage's slot until released.
func (c *Cycled) Read(stage int) (snap *Snapshot, release func()) {
	l := &c.locks[stage]
	l.RLock()
	return c.stages[stage], l.RUnlock
}

// Write returns an exclusive snapshot at stage that the caller may mutate
// in place, along with a function the caller must invoke when done. If
// forceCopy is true, or if the current snapshot is aliased by another
// stage, a private copy is made first; otherwise the unique snapshot is
// returned as-is.
func (c *Cycled) Write(stage int, forceCopy bool) (snap *Snapshot, release func()) {
	l := &c.locks[stage]
	l.Lock()

	cur := c.stages[stage]
	if !forceCopy && atomic.LoadInt32(&cur.refs) == 1 {
		return cur, l.Unlock
	}

	clone := &Snapshot{
		Bytes:        append([]byte(nil), cur.Bytes...),
		DataFullSize: cur.DataFullSize,
		Usage:        cur.Usage,
		Modified:     cur.Modified,
		refs:         1,
	}
	atomic.AddInt32(&cur.refs, -1)
	c.stages[stage] = clone
	return clone, l.Unlock
}

// Cycle advances every stage by one step: stage k's snapshot is retired
// into stage k+1, and the oldest (final) stage's snapshot is dropped.
// Stage 0 keeps its current snapshot, now aliased by stage 1 as well,
// until the next write to either stage triggers a copy.
func (c *Cycled) Cycle() {
	for i := range c.locks {
		c.locks[i].Lock()
	}
	defer func() {
		for i := range c.locks {
			c.locks[i].Unlock()
		}
	}()

	for i := len(c.stages) - 1; i >= 1; i-- {
		atomic.AddInt32(&c.stages[i].refs, -1)
		c.stages[i] = c.stages[i-1]
		atomic.AddInt32(&c.stages[i].refs, 1)
	}
}
