package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/vorpalengineering/usdc-market/types"
)

// Ownable gates administrative entry points to a single owner account.
type Ownable struct {
	owner common.Address
}

func NewOwnable(owner common.Address) Ownable {
	return Ownable{owner: owner}
}

func (o *Ownable) OwnerAddress() common.Address {
	return o.owner
}

func (o *Ownable) CheckOwner(caller common.Address) error {
	if caller != o.owner {
		return types.ErrNotOwner
	}
	return nil
}

func (o *Ownable) TransferOwnership(tx *Tx, self, caller, newOwner common.Address) error {
	if err := o.CheckOwner(caller); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return types.ErrZeroAddress
	}
	previous := o.owner
	Set(tx, &o.owner, newOwner)
	tx.Emit(self, types.OwnershipTransferred{PreviousOwner: previous, NewOwner: newOwner})
	return nil
}

// Pausable is an owner-controlled circuit breaker.
type Pausable struct {
	paused bool
}

func (p *Pausable) IsPaused() bool {
	return p.paused
}

func (p *Pausable) WhenNotPaused() error {
	if p.paused {
		return types.ErrPaused
	}
	return nil
}

func (p *Pausable) Pause(tx *Tx, self, caller common.Address) error {
	if p.paused {
		return types.ErrPaused
	}
	Set(tx, &p.paused, true)
	tx.Emit(self, types.Paused{Account: caller})
	return nil
}

func (p *Pausable) Unpause(tx *Tx, self, caller common.Address) error {
	if !p.paused {
		return types.ErrNotPaused
	}
	Set(tx, &p.paused, false)
	tx.Emit(self, types.Unpaused{Account: caller})
	return nil
}

// Guard rejects re-entry into a contract while one of its mutating entry
// points is still on the stack.
type Guard struct {
	entered bool
}

// Enter must be called inside a transaction, before any state is read.
// The returned func releases the guard.
func (g *Guard) Enter() (func(), error) {
	if g.entered {
		return nil, types.ErrReentrantCall
	}
	g.entered = true
	return func() { g.entered = false }, nil
}
