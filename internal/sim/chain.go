// Package sim is an in-memory, deterministic rendition of the protocols the
// strategy talks to: a token bank, a lending market, a constant-product AMM,
// two farm flavours and a yield vault. All of them share one Chain whose undo
// journal gives nested snapshot and rollback, so a failed strategy operation
// leaves no trace.
//
// The world is not safe for concurrent use. Callers serialize access, which
// the strategy does with its own mutex and the daemon with its executor.
package sim

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Chain owns the undo journal and the simulated clock.
type Chain struct {
	journal   []func()
	revisions []revision
	nextRevID int
	now       time.Time
}

type revision struct {
	id           int
	journalIndex int
}

func NewChain(start time.Time) *Chain {
	return &Chain{now: start}
}

// Address derives a stable address from a label.
func Address(label string) common.Address {
	sum := sha256.Sum256([]byte(label))
	return common.BytesToAddress(sum[:20])
}

func (c *Chain) Now() time.Time { return c.now }

// Advance moves the clock forward. Time is not journaled.
func (c *Chain) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// Snapshot marks the current journal position and returns its id.
func (c *Chain) Snapshot() int {
	id := c.nextRevID
	c.nextRevID++
	c.revisions = append(c.revisions, revision{id: id, journalIndex: len(c.journal)})
	return id
}

// RevertToSnapshot undoes every change made after the snapshot was taken and
// drops it together with any later snapshots.
func (c *Chain) RevertToSnapshot(id int) {
	idx := c.revisionIndex(id)
	if idx < 0 {
		panic(fmt.Sprintf("revision id %d cannot be reverted", id))
	}
	target := c.revisions[idx].journalIndex
	for i := len(c.journal) - 1; i >= target; i-- {
		c.journal[i]()
	}
	c.journal = c.journal[:target]
	c.revisions = c.revisions[:idx]
}

// Commit discards the snapshot and any later ones. The journal is cleared
// once no snapshot is outstanding.
func (c *Chain) Commit(id int) {
	idx := c.revisionIndex(id)
	if idx < 0 {
		return
	}
	c.revisions = c.revisions[:idx]
	if len(c.revisions) == 0 {
		c.journal = c.journal[:0]
	}
}

func (c *Chain) revisionIndex(id int) int {
	for i := len(c.revisions) - 1; i >= 0; i-- {
		if c.revisions[i].id == id {
			return i
		}
	}
	return -1
}

func (c *Chain) record(undo func()) {
	if len(c.revisions) == 0 {
		return
	}
	c.journal = append(c.journal, undo)
}

// setAmount writes m[k] = v and journals the previous value.
func setAmount[K comparable](c *Chain, m map[K]*uint256.Int, k K, v *uint256.Int) {
	prev, existed := m[k]
	c.record(func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = new(uint256.Int).Set(v)
}

func amountOf[K comparable](m map[K]*uint256.Int, k K) *uint256.Int {
	if v, ok := m[k]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// setValue journals a plain field write.
func setValue[T any](c *Chain, field *T, v T) {
	prev := *field
	c.record(func() { *field = prev })
	*field = v
}
