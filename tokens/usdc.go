// Package tokens implements the token contracts hosted on the ledger: a
// six-decimal USDC ERC20 and minimal ERC721 and ERC1155 collections.
package tokens

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/types"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// USDC is an ERC20 with a single minter.
type USDC struct {
	chain   *chain.Chain
	address common.Address
	minter  common.Address

	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[allowanceKey]*big.Int
}

// DeployUSDC deploys the token with deployer as minter.
func DeployUSDC(c *chain.Chain, deployer common.Address) (*USDC, error) {
	t := &USDC{
		chain:       c,
		address:     c.NewContractAddress(deployer),
		minter:      deployer,
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[allowanceKey]*big.Int),
	}
	if err := c.Register(t.address, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *USDC) Address() common.Address { return t.address }
func (t *USDC) Name() string { return "USD Coin" }
func (t *USDC) Symbol() string { return "USDC" }
func (t *USDC) Decimals() uint8 { return 6 }

func (t *USDC) TotalSupply(ctx context.Context) *big.Int {
	var out *big.Int
	t.chain.Read(ctx, func() { out = new(big.Int).Set(t.totalSupply) })
	return out
}

func (t *USDC) BalanceOf(ctx context.Context, owner common.Address) *big.Int {
	var out *big.Int
	t.chain.Read(ctx, func() { out = t.balanceOf(owner) })
	return out
}

func (t *USDC) Allowance(ctx context.Context, owner, spender common.Address) *big.Int {
	var out *big.Int
	t.chain.Read(ctx, func() { out = t.allowance(owner, spender) })
	return out
}

func (t *USDC) balanceOf(owner common.Address) *big.Int {
	if bal, ok := t.balances[owner]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (t *USDC) allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Transfer moves amount from the caller to to.
func (t *USDC) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	return t.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		return t.transfer(tx, from, to, amount)
	})
}

func (t *USDC) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if spender == (common.Address{}) {
		return types.ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return types.ErrInvalidAmount
	}
	return t.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		chain.SetKey(tx, t.allowances, allowanceKey{owner, spender}, new(big.Int).Set(amount))
		tx.Emit(t.address, types.Approval{Owner: owner, Spender: spender, Value: new(big.Int).Set(amount)})
		return nil
	})
}

// TransferFrom moves amount from from to to on the strength of spender's
// allowance.
func (t *USDC) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	return t.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		if amount == nil || amount.Sign() < 0 {
			return types.ErrInvalidAmount
		}
		allowed := t.allowance(from, spender)
		if allowed.Cmp(amount) < 0 {
			return types.ErrInsufficientAllowance
		}
		chain.SetKey(tx, t.allowances, allowanceKey{from, spender}, allowed.Sub(allowed, amount))
		return t.transfer(tx, from, to, amount)
	})
}

// Mint creates amount new tokens for to. Only the minter may call it.
func (t *USDC) Mint(ctx context.Context, caller, to common.Address, amount *big.Int) error {
	if caller != t.minter {
		return types.ErrNotMinter
	}
	if to == (common.Address{}) {
		return types.ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return types.ErrInvalidAmount
	}
	return t.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		chain.Set(tx, &t.totalSupply, new(big.Int).Add(t.totalSupply, amount))
		chain.SetKey(tx, t.balances, to, t.balanceOf(to).Add(t.balanceOf(to), amount))
		tx.Emit(t.address, types.Transfer{From: common.Address{}, To: to, Value: new(big.Int).Set(amount)})
		return nil
	})
}

func (t *USDC) transfer(tx *chain.Tx, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return types.ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return types.ErrZeroAddress
	}
	fromBal := t.balanceOf(from)
	if fromBal.Cmp(amount) < 0 {
		return types.ErrInsufficientBalance
	}
	chain.SetKey(tx, t.balances, from, fromBal.Sub(fromBal, amount))
	toBal := t.balanceOf(to)
	chain.SetKey(tx, t.balances, to, toBal.Add(toBal, amount))
	tx.Emit(t.address, types.Transfer{From: from, To: to, Value: new(big.Int).Set(amount)})
	return nil
}
