package protocol

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vorpalengineering/usdc-market/types"
	"github.com/vorpalengineering/usdc-market/utils"
)

// Verifier decides whether a PaymentIntent may execute. It holds no state:
// the caller supplies the clock reading, whether the id has already been
// processed, and the sender's current nonce.
type Verifier struct {
	domain utils.Domain
}

func NewVerifier(domain utils.Domain) *Verifier {
	return &Verifier{domain: domain}
}

func (v *Verifier) Domain() utils.Domain {
	return v.domain
}

// Hash returns the EIP-712 digest the sender must sign.
func (v *Verifier) Hash(intent *types.PaymentIntent) (common.Hash, error) {
	return utils.HashPaymentIntent(v.domain, intent)
}

// Verify runs the checks in order and returns the first failure. A nonce
// mismatch is reported as an invalid signature.
func (v *Verifier) Verify(intent *types.PaymentIntent, now uint64, processed bool, currentNonce *big.Int) error {
	// Step 1: Non-zero id
	if intent.ID == (common.Hash{}) {
		return types.ErrInvalidPaymentID
	}

	// Step 2: Not already executed
	if processed {
		return types.ErrPaymentAlreadyProcessed
	}

	// Step 3: Deadline
	if now > intent.Deadline {
		return types.ErrPaymentExpired
	}

	// Step 4: Recipient
	if intent.Recipient == (common.Address{}) {
		return types.ErrInvalidRecipient
	}

	// Step 5: Amount
	if intent.Amount == nil || intent.Amount.Sign() <= 0 ||
		intent.ProtocolFee == nil || intent.ProtocolFee.Sign() < 0 {
		return types.ErrInvalidAmount
	}

	// Step 6: Nonce
	if intent.Nonce == nil || currentNonce == nil || intent.Nonce.Cmp(currentNonce) != 0 {
		return types.ErrInvalidSignature
	}

	// Step 7: Signature shape
	if len(intent.Signature) != 65 {
		return types.ErrInvalidSignature
	}

	// Step 8: Signer
	digest, err := v.Hash(intent)
	if err != nil {
		return types.ErrInvalidSignature
	}
	signer, err := utils.RecoverSigner(digest, intent.Signature)
	if err != nil || signer != intent.Sender {
		return types.ErrInvalidSignature
	}

	return nil
}
