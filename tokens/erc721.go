package tokens

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/types"
)

// ERC721Receiver is implemented by contracts that accept safe ERC721
// transfers. Returning an error rejects the transfer.
type ERC721Receiver interface {
	OnERC721Received(ctx context.Context, operator, from common.Address, tokenID *big.Int) error
}

type operatorKey struct {
	owner    common.Address
	operator common.Address
}

type ERC721 struct {
	chain   *chain.Chain
	address common.Address
	minter  common.Address
	name    string
	symbol  string

	owners            map[common.Hash]common.Address
	balances          map[common.Address]uint64
	tokenApprovals    map[common.Hash]common.Address
	operatorApprovals map[operatorKey]bool
}

func DeployERC721(c *chain.Chain, deployer common.Address, name, symbol string) (*ERC721, error) {
	t := &ERC721{
		chain:             c,
		address:           c.NewContractAddress(deployer),
		minter:            deployer,
		name:              name,
		symbol:            symbol,
		owners:            make(map[common.Hash]common.Address),
		balances:          make(map[common.Address]uint64),
		tokenApprovals:    make(map[common.Hash]common.Address),
		operatorApprovals: make(map[operatorKey]bool),
	}
	if err := c.Register(t.address, t); err != nil {
		return nil, err
	}
	return t, nil
}

func tokenKey(id *big.Int) common.Hash {
	if id == nil {
		return common.Hash{}
	}
	return common.BigToHash(id)
}

func (t *ERC721) Address() common.Address { return t.address }
func (t *ERC721) Name() string { return t.name }
func (t *ERC721) Symbol() string { return t.symbol }

func (t *ERC721) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	var (
		owner common.Address
		err   error
	)
	t.chain.Read(ctx, func() { owner, err = t.ownerOf(tokenID) })
	return owner, err
}

func (t *ERC721) BalanceOf(ctx context.Context, owner common.Address) uint64 {
	var out uint64
	t.chain.Read(ctx, func() { out = t.balances[owner] })
	return out
}

func (t *ERC721) GetApproved(ctx context.Context, tokenID *big.Int) common.Address {
	var out common.Address
	t.chain.Read(ctx, func() { out = t.tokenApprovals[tokenKey(tokenID)] })
	return out
}

func (t *ERC721) IsApprovedForAll(ctx context.Context, owner, operator common.Address) bool {
	var out bool
	t.chain.Read(ctx, func() { out = t.operatorApprovals[operatorKey{owner, operator}] })
	return out
}

func (t *ERC721) ownerOf(tokenID *big.Int) (common.Address, error) {
	if tokenID == nil {
		return common.Address{}, types.ErrNonexistentToken
	}
	owner, ok := t.owners[tokenKey(tokenID)]
	if !ok {
		return common.Address{}, types.ErrNonexistentToken
	}
	return owner, nil
}

// Approve lets to transfer tokenID. Zero address clears the approval.
func (t *ERC721) Approve(ctx context.Context, caller, to common.Address, tokenID *big.Int) error {
	return t.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		owner, err := t.ownerOf(tokenID)
		if err != nil {
			return err
		}
		if to == owner {
			return types.ErrSelfApproval
		}
		if caller != owner && !t.operatorApprovals[operatorKey{owner, caller}] {
			return types.ErrERC721NotApproved
		}
		chain.SetKey(tx, t.tokenApprovals, tokenKey(tokenID), to)
		tx.Emit(t.address, types.Approval{Owner: owner, Spender: to, Value: new(big.Int).Set(tokenID)})
		return nil
	})
}

func (t *ERC721) SetApprovalForAll(ctx context.Context, owner, operator common.Address, approved bool) error {
	if owner == operator {
		return types.ErrSelfApproval
	}
	return t.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		chain.SetKey(tx, t.operatorApprovals, operatorKey{owner, operator}, approved)
		tx.Emit(t.address, types.ApprovalForAll{Owner: owner, Operator: operator, Approved: approved})
		return nil
	})
}

// TransferFrom moves tokenID from from to to. operator must be the owner,
// the approved address for the token, or an approved operator of the owner.
func (t *ERC721) TransferFrom(ctx context.Context, operator, from, to common.Address, tokenID *big.Int) error {
	return t.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		return t.transfer(tx, operator, from, to, tokenID)
	})
}

// SafeTransferFrom is TransferFrom plus the receiver check when to is a
// contract.
func (t *ERC721) SafeTransferFrom(ctx context.Context, operator, from, to common.Address, tokenID *big.Int) error {
	return t.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		if err := t.transfer(tx, operator, from, to, tokenID); err != nil {
			return err
		}
		contract, ok := chain.Lookup[any](ctx, t.chain, to)
		if !ok {
			return nil
		}
		receiver, ok := contract.(ERC721Receiver)
		if !ok {
			return types.ErrInvalidReceiver
		}
		if err := receiver.OnERC721Received(ctx, operator, from, new(big.Int).Set(tokenID)); err != nil {
			return fmt.Errorf("%w: %w", types.ErrInvalidReceiver, err)
		}
		return nil
	})
}

// Mint creates tokenID for to. Only the minter may call it.
func (t *ERC721) Mint(ctx context.Context, caller, to common.Address, tokenID *big.Int) error {
	if caller != t.minter {
		return types.ErrNotMinter
	}
	if to == (common.Address{}) {
		return types.ErrZeroAddress
	}
	if tokenID == nil || tokenID.Sign() < 0 {
		return types.ErrNonexistentToken
	}
	return t.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		key := tokenKey(tokenID)
		if _, exists := t.owners[key]; exists {
			return types.ErrTokenAlreadyMinted
		}
		chain.SetKey(tx, t.owners, key, to)
		chain.SetKey(tx, t.balances, to, t.balances[to]+1)
		tx.Emit(t.address, types.Transfer{From: common.Address{}, To: to, Value: new(big.Int).Set(tokenID)})
		return nil
	})
}

func (t *ERC721) transfer(tx *chain.Tx, operator, from, to common.Address, tokenID *big.Int) error {
	owner, err := t.ownerOf(tokenID)
	if err != nil {
		return err
	}
	if owner != from {
		return types.ErrIncorrectTokenOwner
	}
	if to == (common.Address{}) {
		return types.ErrZeroAddress
	}
	key := tokenKey(tokenID)
	if operator != owner && t.tokenApprovals[key] != operator && !t.operatorApprovals[operatorKey{owner, operator}] {
		return types.ErrERC721NotApproved
	}

	// Clear the single-token approval
	if _, ok := t.tokenApprovals[key]; ok {
		chain.SetKey(tx, t.tokenApprovals, key, common.Address{})
	}
	chain.SetKey(tx, t.balances, from, t.balances[from]-1)
	chain.SetKey(tx, t.balances, to, t.balances[to]+1)
	chain.SetKey(tx, t.owners, key, to)
	tx.Emit(t.address, types.Transfer{From: from, To: to, Value: new(big.Int).Set(tokenID)})
	return nil
}
