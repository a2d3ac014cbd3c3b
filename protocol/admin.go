package protocol

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/types"
)

// Owner-gated administration. caller is the account invoking the call.

func (p *PaymentProtocol) UpdateFeeCollector(ctx context.Context, caller, newCollector common.Address) error {
	return p.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		if err := p.owner.CheckOwner(caller); err != nil {
			return err
		}
		if newCollector == (common.Address{}) {
			return types.ErrInvalidFeeCollector
		}
		old := p.feeCollector
		chain.Set(tx, &p.feeCollector, newCollector)
		tx.Emit(p.address, types.FeeCollectorUpdated{OldCollector: old, NewCollector: newCollector})
		return nil
	})
}

func (p *PaymentProtocol) Pause(ctx context.Context, caller common.Address) error {
	return p.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		if err := p.owner.CheckOwner(caller); err != nil {
			return err
		}
		return p.pause.Pause(tx, p.address, caller)
	})
}

func (p *PaymentProtocol) Unpause(ctx context.Context, caller common.Address) error {
	return p.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		if err := p.owner.CheckOwner(caller); err != nil {
			return err
		}
		return p.pause.Unpause(tx, p.address, caller)
	})
}

// EmergencyWithdraw sends amount of token held by the protocol to the owner.
// Processed intents and nonces are left as they are.
func (p *PaymentProtocol) EmergencyWithdraw(ctx context.Context, caller, token common.Address, amount *big.Int) error {
	return p.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		release, err := p.guard.Enter()
		if err != nil {
			return err
		}
		defer release()

		if err := p.owner.CheckOwner(caller); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return types.ErrInvalidAmount
		}
		erc20, ok := chain.Lookup[Token](ctx, p.chain, token)
		if !ok {
			return types.ErrInvalidToken
		}
		owner := p.owner.OwnerAddress()
		if err := erc20.Transfer(ctx, p.address, owner, amount); err != nil {
			return err
		}
		tx.Emit(p.address, types.EmergencyWithdrawal{Token: token, To: owner, Amount: new(big.Int).Set(amount)})
		tx.OnCommit(func() {
			p.logger.Warn().
				Str("token", token.Hex()).
				Str("to", owner.Hex()).
				Str("amount", amount.String()).
				Msg("emergency withdrawal")
		})
		return nil
	})
}

func (p *PaymentProtocol) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	return p.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		return p.owner.TransferOwnership(tx, p.address, caller, newOwner)
	})
}
