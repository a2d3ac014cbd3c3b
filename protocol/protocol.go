// Package protocol is the USDC payment protocol: it executes signed
// PaymentIntents by pulling funds either from a standing allowance or through
// a Permit2 signature transfer, then splits them between the recipient and
// the fee collector. Every intent executes at most once and advances its
// sender's nonce by one.
package protocol

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/fees"
	"github.com/vorpalengineering/usdc-market/types"
	"github.com/vorpalengineering/usdc-market/utils"
)

// Token is the ERC20 surface the protocol needs from USDC.
type Token interface {
	Address() common.Address
	BalanceOf(ctx context.Context, owner common.Address) *big.Int
	Allowance(ctx context.Context, owner, spender common.Address) *big.Int
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
}

// DelegatedTransfer is the Permit2 signature-transfer surface.
type DelegatedTransfer interface {
	Address() common.Address
	PermitTransferFrom(ctx context.Context, spender common.Address, auth *types.DelegatedTransferAuthorization, details types.SignatureTransferDetails, owner common.Address) error
}

type Config struct {
	Owner        common.Address
	FeeCollector common.Address
	USDC         Token
	Permit2      DelegatedTransfer
	Logger       zerolog.Logger
}

type PaymentProtocol struct {
	chain    *chain.Chain
	address  common.Address
	usdc     Token
	permit2  DelegatedTransfer
	verifier *Verifier
	logger   zerolog.Logger

	owner chain.Ownable
	pause chain.Pausable
	guard chain.Guard

	feeCollector common.Address
	processed    map[common.Hash]bool
	nonces       map[common.Address]*big.Int
}

// Deploy creates the protocol contract on c. Permit2 may be nil, in which
// case delegated transfers are rejected.
func Deploy(c *chain.Chain, cfg Config) (*PaymentProtocol, error) {
	if cfg.Owner == (common.Address{}) {
		return nil, types.ErrZeroAddress
	}
	if cfg.FeeCollector == (common.Address{}) {
		return nil, types.ErrInvalidFeeCollector
	}
	if cfg.USDC == nil {
		return nil, fmt.Errorf("payment protocol requires a USDC token")
	}

	address := c.NewContractAddress(cfg.Owner)
	p := &PaymentProtocol{
		chain:        c,
		address:      address,
		usdc:         cfg.USDC,
		permit2:      cfg.Permit2,
		verifier:     NewVerifier(utils.PaymentProtocolDomain(c.ChainID(), address)),
		logger:       cfg.Logger.With().Str("component", "protocol").Logger(),
		owner:        chain.NewOwnable(cfg.Owner),
		feeCollector: cfg.FeeCollector,
		processed:    make(map[common.Hash]bool),
		nonces:       make(map[common.Address]*big.Int),
	}
	if err := c.Register(address, p); err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("address", address.Hex()).
		Str("usdc", cfg.USDC.Address().Hex()).
		Str("fee_collector", cfg.FeeCollector.Hex()).
		Msg("payment protocol deployed")

	return p, nil
}

func (p *PaymentProtocol) Address() common.Address {
	return p.address
}

func (p *PaymentProtocol) USDC() common.Address {
	return p.usdc.Address()
}

// Domain is the EIP-712 domain intents must be signed under.
func (p *PaymentProtocol) Domain() utils.Domain {
	return p.verifier.Domain()
}

// CalculateProtocolFee returns floor(amount * 25 / 10000).
func (p *PaymentProtocol) CalculateProtocolFee(amount *big.Int) *big.Int {
	return fees.ProtocolFee(amount)
}

// HashPaymentIntent returns the digest a sender signs for intent.
func (p *PaymentProtocol) HashPaymentIntent(intent *types.PaymentIntent) (common.Hash, error) {
	return p.verifier.Hash(intent)
}

func (p *PaymentProtocol) GetCurrentNonce(ctx context.Context, sender common.Address) *big.Int {
	var out *big.Int
	p.chain.Read(ctx, func() { out = p.nonceOf(sender) })
	return out
}

func (p *PaymentProtocol) IsPaymentProcessed(ctx context.Context, id common.Hash) bool {
	var out bool
	p.chain.Read(ctx, func() { out = p.processed[id] })
	return out
}

func (p *PaymentProtocol) FeeCollector(ctx context.Context) common.Address {
	var out common.Address
	p.chain.Read(ctx, func() { out = p.feeCollector })
	return out
}

func (p *PaymentProtocol) Owner(ctx context.Context) common.Address {
	var out common.Address
	p.chain.Read(ctx, func() { out = p.owner.OwnerAddress() })
	return out
}

func (p *PaymentProtocol) Paused(ctx context.Context) bool {
	var out bool
	p.chain.Read(ctx, func() { out = p.pause.IsPaused() })
	return out
}

func (p *PaymentProtocol) nonceOf(sender common.Address) *big.Int {
	if n, ok := p.nonces[sender]; ok {
		return new(big.Int).Set(n)
	}
	return new(big.Int)
}

// VerifyPaymentIntent runs the intent checks against current state without
// executing anything.
func (p *PaymentProtocol) VerifyPaymentIntent(ctx context.Context, intent *types.PaymentIntent) error {
	var err error
	p.chain.Read(ctx, func() {
		err = p.verifier.Verify(intent, p.chain.Now(ctx), p.processed[intent.ID], p.nonceOf(intent.Sender))
	})
	return err
}

func (p *PaymentProtocol) verify(tx *chain.Tx, intent *types.PaymentIntent) error {
	err := p.verifier.Verify(intent, tx.Now(), p.processed[intent.ID], p.nonceOf(intent.Sender))
	if err != nil {
		p.logger.Debug().
			Str("payment_id", intent.ID.Hex()).
			Str("sender", intent.Sender.Hex()).
			Err(err).
			Msg("payment intent rejected")
	}
	return err
}

// enter takes the reentrancy guard and checks the pause flag. The returned
// func releases the guard.
func (p *PaymentProtocol) enter() (func(), error) {
	release, err := p.guard.Enter()
	if err != nil {
		return nil, err
	}
	if err := p.pause.WhenNotPaused(); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// ProcessPreApproved executes intent by pulling Amount + ProtocolFee from the
// sender's USDC allowance to this contract.
func (p *PaymentProtocol) ProcessPreApproved(ctx context.Context, intent *types.PaymentIntent) error {
	return p.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		release, err := p.enter()
		if err != nil {
			return err
		}
		defer release()

		// Step 1: Verify the intent against current state
		if err := p.verify(tx, intent); err != nil {
			return err
		}

		// Step 2: Check funds
		total := intent.Total()
		if p.usdc.BalanceOf(ctx, intent.Sender).Cmp(total) < 0 {
			return types.ErrInsufficientBalance
		}
		if p.usdc.Allowance(ctx, intent.Sender, p.address).Cmp(total) < 0 {
			return types.ErrInsufficientAllowance
		}

		// Step 3: Pull the total
		if err := p.usdc.TransferFrom(ctx, p.address, intent.Sender, p.address, total); err != nil {
			return err
		}

		// Step 4: Split and record
		return p.settle(ctx, tx, intent, types.FundingPreApproved)
	})
}

// ProcessWithDelegatedTransfer executes intent by pulling Amount +
// ProtocolFee through a Permit2 signature transfer signed by the sender.
func (p *PaymentProtocol) ProcessWithDelegatedTransfer(ctx context.Context, intent *types.PaymentIntent, auth *types.DelegatedTransferAuthorization) error {
	return p.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		release, err := p.enter()
		if err != nil {
			return err
		}
		defer release()

		if p.permit2 == nil {
			return types.ErrDelegatedTransferOff
		}

		// Step 1: Verify the intent against current state
		if err := p.verify(tx, intent); err != nil {
			return err
		}

		// Step 2: Only USDC may be permitted
		if auth == nil || auth.Permitted.Token != p.usdc.Address() {
			return types.ErrInvalidToken
		}

		// Step 3: Pull the total through Permit2, which checks its own
		// signature, nonce and deadline against the sender
		details := types.SignatureTransferDetails{To: p.address, RequestedAmount: intent.Total()}
		if err := p.permit2.PermitTransferFrom(ctx, p.address, auth, details, intent.Sender); err != nil {
			return err
		}

		// Step 4: Split and record
		return p.settle(ctx, tx, intent, types.FundingDelegated)
	})
}

// settle forwards the pulled funds and consumes the intent.
func (p *PaymentProtocol) settle(ctx context.Context, tx *chain.Tx, intent *types.PaymentIntent, mode types.FundingMode) error {
	if err := p.usdc.Transfer(ctx, p.address, intent.Recipient, intent.Amount); err != nil {
		return err
	}
	if intent.ProtocolFee.Sign() > 0 {
		if err := p.usdc.Transfer(ctx, p.address, p.feeCollector, intent.ProtocolFee); err != nil {
			return err
		}
	}

	chain.SetKey(tx, p.processed, intent.ID, true)
	nonce := p.nonceOf(intent.Sender)
	chain.SetKey(tx, p.nonces, intent.Sender, nonce.Add(nonce, big.NewInt(1)))

	tx.Emit(p.address, types.PaymentProcessed{
		PaymentID:   intent.ID,
		Sender:      intent.Sender,
		Recipient:   intent.Recipient,
		Amount:      new(big.Int).Set(intent.Amount),
		ProtocolFee: new(big.Int).Set(intent.ProtocolFee),
	})

	id, sender, recipient := intent.ID, intent.Sender, intent.Recipient
	amount, fee := intent.Amount.String(), intent.ProtocolFee.String()
	tx.OnCommit(func() {
		p.logger.Info().
			Str("payment_id", id.Hex()).
			Str("sender", sender.Hex()).
			Str("recipient", recipient.Hex()).
			Str("amount", amount).
			Str("protocol_fee", fee).
			Str("funding", string(mode)).
			Msg("payment processed")
	})

	return nil
}
