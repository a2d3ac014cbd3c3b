package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Tx is one ledger transaction. It is only valid inside the Transact
// callback that received it.
type Tx struct {
	chain   *Chain
	now     uint64
	block   uint64
	journal []func()
	logs    []Log
	commits []func()
}

type savepoint struct {
	journal int
	logs    int
	commits int
}

// Now is the block timestamp in unix seconds, read once at admission.
func (tx *Tx) Now() uint64 {
	return tx.now
}

func (tx *Tx) Time() time.Time {
	return time.Unix(int64(tx.now), 0).UTC()
}

func (tx *Tx) Block() uint64 {
	return tx.block
}

// OnRevert records undo to run if this transaction, or the sub-transaction
// that recorded it, fails.
func (tx *Tx) OnRevert(undo func()) {
	tx.journal = append(tx.journal, undo)
}

// OnCommit records fn to run after the outermost transaction commits and its
// events are published. It is dropped if the enclosing sub-transaction
// reverts.
func (tx *Tx) OnCommit(fn func()) {
	tx.commits = append(tx.commits, fn)
}

// Emit queues ev from the contract at addr. Queued events are discarded on
// revert.
func (tx *Tx) Emit(addr common.Address, ev Event) {
	tx.logs = append(tx.logs, Log{
		Block:     tx.block,
		Timestamp: tx.now,
		Address:   addr,
		Event:     ev,
	})
}

func (tx *Tx) savepoint() savepoint {
	return savepoint{journal: len(tx.journal), logs: len(tx.logs), commits: len(tx.commits)}
}

func (tx *Tx) revertTo(sp savepoint) {
	for i := len(tx.journal) - 1; i >= sp.journal; i-- {
		tx.journal[i]()
	}
	tx.journal = tx.journal[:sp.journal]
	tx.logs = tx.logs[:sp.logs]
	tx.commits = tx.commits[:sp.commits]
}

// run converts a panic in fn into an error so the caller can revert.
func (tx *Tx) run(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transaction panicked: %v", r)
		}
	}()
	return fn(ctx, tx)
}

// Set assigns v to *ptr and journals the previous value.
func Set[T any](tx *Tx, ptr *T, v T) {
	old := *ptr
	tx.OnRevert(func() { *ptr = old })
	*ptr = v
}

// SetKey assigns m[k] = v and journals the previous entry.
func SetKey[K comparable, V any](tx *Tx, m map[K]V, k K, v V) {
	old, had := m[k]
	tx.OnRevert(func() {
		if had {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

// AppendKey appends v to the slice at m[k] without touching the backing
// array other readers may hold.
func AppendKey[K comparable, V any](tx *Tx, m map[K][]V, k K, v V) {
	cur := m[k]
	SetKey(tx, m, k, append(cur[:len(cur):len(cur)], v))
}
