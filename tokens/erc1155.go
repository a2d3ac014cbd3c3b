package tokens

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/types"
)

// ERC1155Receiver is implemented by contracts that accept ERC1155
// transfers. Returning an error rejects the transfer.
type ERC1155Receiver interface {
	OnERC1155Received(ctx context.Context, operator, from common.Address, id, value *big.Int) error
}

type balanceKey struct {
	id    common.Hash
	owner common.Address
}

type ERC1155 struct {
	chain   *chain.Chain
	address common.Address
	minter  common.Address
	uri     string

	balances          map[balanceKey]*big.Int
	operatorApprovals map[operatorKey]bool
}

func DeployERC1155(c *chain.Chain, deployer common.Address, uri string) (*ERC1155, error) {
	t := &ERC1155{
		chain:             c,
		address:           c.NewContractAddress(deployer),
		minter:            deployer,
		uri:               uri,
		balances:          make(map[balanceKey]*big.Int),
		operatorApprovals: make(map[operatorKey]bool),
	}
	if err := c.Register(t.address, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ERC1155) Address() common.Address { return t.address }
func (t *ERC1155) URI() string { return t.uri }

func (t *ERC1155) BalanceOf(ctx context.Context, owner common.Address, id *big.Int) *big.Int {
	var out *big.Int
	t.chain.Read(ctx, func() { out = t.balanceOf(owner, id) })
	return out
}

func (t *ERC1155) IsApprovedForAll(ctx context.Context, owner, operator common.Address) bool {
	var out bool
	t.chain.Read(ctx, func() { out = t.operatorApprovals[operatorKey{owner, operator}] })
	return out
}

func (t *ERC1155) balanceOf(owner common.Address, id *big.Int) *big.Int {
	if bal, ok := t.balances[balanceKey{tokenKey(id), owner}]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (t *ERC1155) SetApprovalForAll(ctx context.Context, owner, operator common.Address, approved bool) error {
	if owner == operator {
		return types.ErrSelfApproval
	}
	return t.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		chain.SetKey(tx, t.operatorApprovals, operatorKey{owner, operator}, approved)
		tx.Emit(t.address, types.ApprovalForAll{Owner: owner, Operator: operator, Approved: approved})
		return nil
	})
}

// SafeTransferFrom moves value units of id from from to to. operator must be
// from or one of its approved operators.
func (t *ERC1155) SafeTransferFrom(ctx context.Context, operator, from, to common.Address, id, value *big.Int) error {
	if id == nil || value == nil || value.Sign() < 0 {
		return types.ErrInvalidAmount
	}
	return t.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		if to == (common.Address{}) {
			return types.ErrZeroAddress
		}
		if operator != from && !t.operatorApprovals[operatorKey{from, operator}] {
			return types.ErrERC1155NotApproved
		}
		fromBal := t.balanceOf(from, id)
		if fromBal.Cmp(value) < 0 {
			return types.ErrERC1155InsufficientBal
		}
		chain.SetKey(tx, t.balances, balanceKey{tokenKey(id), from}, fromBal.Sub(fromBal, value))
		toBal := t.balanceOf(to, id)
		chain.SetKey(tx, t.balances, balanceKey{tokenKey(id), to}, toBal.Add(toBal, value))
		tx.Emit(t.address, types.TransferSingle{
			Operator: operator,
			From:     from,
			To:       to,
			ID:       new(big.Int).Set(id),
			Value:    new(big.Int).Set(value),
		})

		contract, ok := chain.Lookup[any](ctx, t.chain, to)
		if !ok {
			return nil
		}
		receiver, ok := contract.(ERC1155Receiver)
		if !ok {
			return types.ErrInvalidReceiver
		}
		if err := receiver.OnERC1155Received(ctx, operator, from, new(big.Int).Set(id), new(big.Int).Set(value)); err != nil {
			return fmt.Errorf("%w: %w", types.ErrInvalidReceiver, err)
		}
		return nil
	})
}

// Mint creates value units of id for to. Only the minter may call it.
func (t *ERC1155) Mint(ctx context.Context, caller, to common.Address, id, value *big.Int) error {
	if caller != t.minter {
		return types.ErrNotMinter
	}
	if to == (common.Address{}) {
		return types.ErrZeroAddress
	}
	if id == nil || id.Sign() < 0 || value == nil || value.Sign() <= 0 {
		return types.ErrInvalidAmount
	}
	return t.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		bal := t.balanceOf(to, id)
		chain.SetKey(tx, t.balances, balanceKey{tokenKey(id), to}, bal.Add(bal, value))
		tx.Emit(t.address, types.TransferSingle{
			Operator: caller,
			From:     common.Address{},
			To:       to,
			ID:       new(big.Int).Set(id),
			Value:    new(big.Int).Set(value),
		})
		return nil
	})
}
