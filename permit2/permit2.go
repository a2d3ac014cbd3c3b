// Package permit2 implements the signature-transfer half of Uniswap's
// Permit2: a token owner signs a one-off PermitTransferFrom for a named
// spender instead of granting that spender a standing allowance. The owner
// approves this contract once on the token.
package permit2

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/types"
	"github.com/vorpalengineering/usdc-market/utils"
)

// Token is the part of an ERC20 Permit2 pulls through.
type Token interface {
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
}

type bitmapKey struct {
	owner common.Address
	word  common.Hash
}

type Permit2 struct {
	chain   *chain.Chain
	address common.Address
	logger  zerolog.Logger

	nonceBitmap map[bitmapKey]*big.Int
}

func Deploy(c *chain.Chain, deployer common.Address, logger zerolog.Logger) (*Permit2, error) {
	p := &Permit2{
		chain:       c,
		address:     c.NewContractAddress(deployer),
		logger:      logger.With().Str("component", "permit2").Logger(),
		nonceBitmap: make(map[bitmapKey]*big.Int),
	}
	if err := c.Register(p.address, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Permit2) Address() common.Address {
	return p.address
}

func (p *Permit2) Domain() utils.Domain {
	return utils.Permit2Domain(p.chain.ChainID(), p.address)
}

// bitmapPositions splits a nonce into its word and bit positions: the high
// 248 bits pick the word, the low 8 bits pick the bit inside it.
func bitmapPositions(nonce *big.Int) (common.Hash, uint) {
	word := new(big.Int).Rsh(nonce, 8)
	bit := uint(new(big.Int).And(nonce, big.NewInt(0xff)).Uint64())
	return common.BigToHash(word), bit
}

func (p *Permit2) bitmap(owner common.Address, word common.Hash) *big.Int {
	if bm, ok := p.nonceBitmap[bitmapKey{owner, word}]; ok {
		return new(big.Int).Set(bm)
	}
	return new(big.Int)
}

// NonceBitmap returns the used-nonce bitmap of owner at wordPos.
func (p *Permit2) NonceBitmap(ctx context.Context, owner common.Address, wordPos *big.Int) *big.Int {
	var out *big.Int
	p.chain.Read(ctx, func() { out = p.bitmap(owner, common.BigToHash(wordPos)) })
	return out
}

// IsNonceUsed reports whether nonce has been spent or invalidated by owner.
func (p *Permit2) IsNonceUsed(ctx context.Context, owner common.Address, nonce *big.Int) bool {
	word, bit := bitmapPositions(nonce)
	var used bool
	p.chain.Read(ctx, func() { used = p.bitmap(owner, word).Bit(int(bit)) == 1 })
	return used
}

// PermitTransferFrom transfers details.RequestedAmount of the permitted token
// from owner to details.To. spender is the calling contract and must be the
// spender the owner signed for.
func (p *Permit2) PermitTransferFrom(ctx context.Context, spender common.Address, auth *types.DelegatedTransferAuthorization, details types.SignatureTransferDetails, owner common.Address) error {
	return p.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		// Step 1: Deadline
		if auth.Deadline == nil || new(big.Int).SetUint64(tx.Now()).Cmp(auth.Deadline) > 0 {
			return types.ErrSignatureExpired
		}

		// Step 2: Requested amount within the permitted amount
		if details.RequestedAmount == nil || auth.Permitted.Amount == nil ||
			details.RequestedAmount.Sign() < 0 || details.RequestedAmount.Cmp(auth.Permitted.Amount) > 0 {
			return types.ErrPermitAmount
		}

		// Step 3: Spend the nonce
		if err := p.useUnorderedNonce(tx, owner, auth.Nonce); err != nil {
			return err
		}

		// Step 4: Signature
		digest, err := utils.HashPermit(p.Domain(), auth, spender)
		if err != nil {
			return err
		}
		signer, err := utils.RecoverSigner(digest, auth.Signature)
		if err != nil || signer != owner {
			p.logger.Debug().Str("owner", owner.Hex()).Str("signer", signer.Hex()).Msg("permit signer mismatch")
			return types.ErrInvalidSigner
		}

		// Step 5: Pull the tokens with this contract as the spender
		token, ok := chain.Lookup[Token](ctx, p.chain, auth.Permitted.Token)
		if !ok {
			return types.ErrInvalidToken
		}
		return token.TransferFrom(ctx, p.address, owner, details.To, details.RequestedAmount)
	})
}

// InvalidateUnorderedNonces marks every bit of mask in owner's bitmap at
// wordPos as used.
func (p *Permit2) InvalidateUnorderedNonces(ctx context.Context, owner common.Address, wordPos, mask *big.Int) error {
	if wordPos == nil || wordPos.Sign() < 0 || mask == nil || mask.Sign() < 0 {
		return types.ErrInvalidNonce
	}
	return p.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		word := common.BigToHash(wordPos)
		bm := p.bitmap(owner, word)
		chain.SetKey(tx, p.nonceBitmap, bitmapKey{owner, word}, bm.Or(bm, mask))
		tx.Emit(p.address, types.UnorderedNonceInvalidation{
			Owner: owner,
			Word:  new(big.Int).Set(wordPos),
			Mask:  new(big.Int).Set(mask),
		})
		return nil
	})
}

func (p *Permit2) useUnorderedNonce(tx *chain.Tx, owner common.Address, nonce *big.Int) error {
	if nonce == nil || nonce.Sign() < 0 || nonce.BitLen() > 256 {
		return types.ErrInvalidNonce
	}
	word, bit := bitmapPositions(nonce)
	bm := p.bitmap(owner, word)
	if bm.Bit(int(bit)) == 1 {
		return types.ErrInvalidNonce
	}
	chain.SetKey(tx, p.nonceBitmap, bitmapKey{owner, word}, bm.SetBit(bm, int(bit), 1))
	return nil
}
