// Package marketplace lists physical goods, ERC721 and ERC1155 items for
// sale and sells them for USDC through the payment protocol. A purchase's
// payment, asset transfer and record keeping commit together or not at all.
package marketplace

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/types"
)

// PaymentProcessor is the payment protocol surface the marketplace uses.
type PaymentProcessor interface {
	Address() common.Address
	USDC() common.Address
	CalculateProtocolFee(amount *big.Int) *big.Int
	ProcessPreApproved(ctx context.Context, intent *types.PaymentIntent) error
	ProcessWithDelegatedTransfer(ctx context.Context, intent *types.PaymentIntent, auth *types.DelegatedTransferAuthorization) error
}

// Token is the USDC surface used to pay out sellers and fees.
type Token interface {
	Address() common.Address
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// ERC721 and ERC1155 are resolved from the ledger by token contract address.
type ERC721 interface {
	OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error)
	SafeTransferFrom(ctx context.Context, operator, from, to common.Address, tokenID *big.Int) error
}

type ERC1155 interface {
	BalanceOf(ctx context.Context, owner common.Address, id *big.Int) *big.Int
	SafeTransferFrom(ctx context.Context, operator, from, to common.Address, id, value *big.Int) error
}

type Config struct {
	Owner        common.Address
	FeeRecipient common.Address
	Payments     PaymentProcessor
	USDC         Token
	Logger       zerolog.Logger
}

type Marketplace struct {
	chain    *chain.Chain
	address  common.Address
	payments PaymentProcessor
	usdc     Token
	logger   zerolog.Logger

	owner chain.Ownable
	pause chain.Pausable
	guard chain.Guard

	feeRecipient     common.Address
	listingCounter   uint64
	purchaseCounter  uint64
	listings         map[common.Hash]*types.Listing
	purchases        map[common.Hash]*types.Purchase
	sellerListings   map[common.Address][]common.Hash
	buyerPurchases   map[common.Address][]common.Hash
	listingPurchases map[common.Hash][]common.Hash
}

func Deploy(c *chain.Chain, cfg Config) (*Marketplace, error) {
	if cfg.Owner == (common.Address{}) {
		return nil, types.ErrZeroAddress
	}
	if cfg.FeeRecipient == (common.Address{}) {
		return nil, types.ErrInvalidFeeRecipient
	}
	if cfg.Payments == nil || cfg.USDC == nil {
		return nil, fmt.Errorf("marketplace requires a payment protocol and a USDC token")
	}
	if cfg.Payments.USDC() != cfg.USDC.Address() {
		return nil, fmt.Errorf("payment protocol settles %s, not %s", cfg.Payments.USDC().Hex(), cfg.USDC.Address().Hex())
	}

	m := &Marketplace{
		chain:            c,
		address:          c.NewContractAddress(cfg.Owner),
		payments:         cfg.Payments,
		usdc:             cfg.USDC,
		logger:           cfg.Logger.With().Str("component", "marketplace").Logger(),
		owner:            chain.NewOwnable(cfg.Owner),
		feeRecipient:     cfg.FeeRecipient,
		listings:         make(map[common.Hash]*types.Listing),
		purchases:        make(map[common.Hash]*types.Purchase),
		sellerListings:   make(map[common.Address][]common.Hash),
		buyerPurchases:   make(map[common.Address][]common.Hash),
		listingPurchases: make(map[common.Hash][]common.Hash),
	}
	if err := c.Register(m.address, m); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("address", m.address.Hex()).
		Str("payments", cfg.Payments.Address().Hex()).
		Str("fee_recipient", cfg.FeeRecipient.Hex()).
		Msg("marketplace deployed")

	return m, nil
}

func (m *Marketplace) Address() common.Address {
	return m.address
}

func (m *Marketplace) FeeRecipient(ctx context.Context) common.Address {
	var out common.Address
	m.chain.Read(ctx, func() { out = m.feeRecipient })
	return out
}

func (m *Marketplace) Owner(ctx context.Context) common.Address {
	var out common.Address
	m.chain.Read(ctx, func() { out = m.owner.OwnerAddress() })
	return out
}

func (m *Marketplace) Paused(ctx context.Context) bool {
	var out bool
	m.chain.Read(ctx, func() { out = m.pause.IsPaused() })
	return out
}

// enter takes the reentrancy guard and checks the pause flag.
func (m *Marketplace) enter() (func(), error) {
	release, err := m.guard.Enter()
	if err != nil {
		return nil, err
	}
	if err := m.pause.WhenNotPaused(); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// Owner-gated administration.

func (m *Marketplace) UpdateFeeRecipient(ctx context.Context, caller, newRecipient common.Address) error {
	return m.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		if err := m.owner.CheckOwner(caller); err != nil {
			return err
		}
		if newRecipient == (common.Address{}) {
			return types.ErrInvalidFeeRecipient
		}
		old := m.feeRecipient
		chain.Set(tx, &m.feeRecipient, newRecipient)
		tx.Emit(m.address, types.MarketplaceFeeRecipientUpdated{OldRecipient: old, NewRecipient: newRecipient})
		return nil
	})
}

func (m *Marketplace) Pause(ctx context.Context, caller common.Address) error {
	return m.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		if err := m.owner.CheckOwner(caller); err != nil {
			return err
		}
		return m.pause.Pause(tx, m.address, caller)
	})
}

func (m *Marketplace) Unpause(ctx context.Context, caller common.Address) error {
	return m.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		if err := m.owner.CheckOwner(caller); err != nil {
			return err
		}
		return m.pause.Unpause(tx, m.address, caller)
	})
}

func (m *Marketplace) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	return m.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		return m.owner.TransferOwnership(tx, m.address, caller, newOwner)
	})
}
