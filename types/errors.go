package types

import "errors"

// ErrorClass groups rejections by what the caller should do next.
type ErrorClass string

const (
	// ClassMalformed is a request the caller built wrongly. Never retried.
	ClassMalformed ErrorClass = "malformed"

	// ClassAuthorization covers bad signatures, nonce mismatches and callers
	// acting on resources they do not own. A fresh, correctly signed request
	// is required.
	ClassAuthorization ErrorClass = "authorization"

	// ClassTemporal covers expired intents and listings. Re-quote and re-sign.
	ClassTemporal ErrorClass = "temporal"

	// ClassStateConflict means the caller acted on stale state. Re-fetch.
	ClassStateConflict ErrorClass = "state_conflict"

	// ClassFunds means balance or allowance is short. Top up or approve.
	ClassFunds ErrorClass = "funds"

	// ClassAssetTransfer means the asset could not be delivered and the whole
	// purchase, payment included, was rolled back.
	ClassAssetTransfer ErrorClass = "asset_transfer"

	// ClassPaused means the contract is administratively paused.
	ClassPaused ErrorClass = "paused"

	// ClassInternal is anything unclassified.
	ClassInternal ErrorClass = "internal"
)

// RevertError is a contract-level rejection. Code is stable for programmatic
// handling, Reason is the human readable revert string.
type RevertError struct {
	Code   string
	Reason string
	Class  ErrorClass
}

func (e *RevertError) Error() string {
	return e.Reason
}

func newRevert(code, reason string, class ErrorClass) *RevertError {
	return &RevertError{Code: code, Reason: reason, Class: class}
}

// ClassOf returns the class of the first RevertError in err's chain.
func ClassOf(err error) ErrorClass {
	var revert *RevertError
	if errors.As(err, &revert) {
		return revert.Class
	}
	return ClassInternal
}

// CodeOf returns the code of the first RevertError in err's chain.
func CodeOf(err error) string {
	var revert *RevertError
	if errors.As(err, &revert) {
		return revert.Code
	}
	return "Internal"
}

// Payment protocol
var (
	ErrInvalidPaymentID        = newRevert("InvalidPaymentId", "Invalid payment ID", ClassMalformed)
	ErrPaymentAlreadyProcessed = newRevert("PaymentAlreadyProcessed", "Payment already processed", ClassStateConflict)
	ErrPaymentExpired          = newRevert("PaymentExpired", "Payment expired", ClassTemporal)
	ErrInvalidRecipient        = newRevert("InvalidRecipient", "Invalid recipient", ClassMalformed)
	ErrInvalidAmount           = newRevert("InvalidAmount", "Invalid amount", ClassMalformed)
	ErrInvalidSignature        = newRevert("InvalidSignature", "Invalid signature", ClassAuthorization)
	ErrInsufficientBalance     = newRevert("InsufficientBalance", "Insufficient balance", ClassFunds)
	ErrInsufficientAllowance   = newRevert("InsufficientAllowance", "Insufficient allowance", ClassFunds)
	ErrInvalidToken            = newRevert("InvalidToken", "Invalid token", ClassMalformed)
	ErrInvalidFeeCollector     = newRevert("InvalidFeeCollector", "Invalid fee collector", ClassMalformed)
	ErrDelegatedTransferOff    = newRevert("DelegatedTransferUnavailable", "Delegated transfer not configured", ClassInternal)
)

// Access control and execution guards
var (
	ErrNotOwner      = newRevert("OwnableUnauthorizedAccount", "Ownable: caller is not the owner", ClassAuthorization)
	ErrPaused        = newRevert("EnforcedPause", "Pausable: paused", ClassPaused)
	ErrNotPaused     = newRevert("ExpectedPause", "Pausable: not paused", ClassStateConflict)
	ErrReentrantCall = newRevert("ReentrancyGuardReentrantCall", "ReentrancyGuard: reentrant call", ClassStateConflict)
	ErrZeroAddress   = newRevert("ZeroAddress", "Zero address", ClassMalformed)
)

// Marketplace
var (
	ErrInvalidListing           = newRevert("InvalidListing", "Invalid listing", ClassStateConflict)
	ErrListingNotActive         = newRevert("ListingNotActive", "Listing not active", ClassStateConflict)
	ErrListingExpired           = newRevert("ListingExpired", "Listing expired", ClassTemporal)
	ErrInvalidQuantity          = newRevert("InvalidQuantity", "Invalid quantity", ClassMalformed)
	ErrInsufficientQuantity     = newRevert("InsufficientQuantity", "Invalid quantity: exceeds available units", ClassStateConflict)
	ErrInvalidPrice             = newRevert("InvalidPrice", "Invalid price", ClassMalformed)
	ErrInvalidDuration          = newRevert("InvalidDuration", "Invalid duration", ClassMalformed)
	ErrInvalidTokenContract     = newRevert("InvalidTokenContract", "Invalid token contract", ClassMalformed)
	ErrERC721QuantityMustBeOne  = newRevert("ERC721QuantityMustBeOne", "ERC721 quantity must be 1", ClassMalformed)
	ErrNotTokenOwner            = newRevert("NotTokenOwner", "Not token owner", ClassAuthorization)
	ErrInsufficientTokenBalance = newRevert("InsufficientTokenBalance", "Insufficient token balance", ClassAuthorization)
	ErrNotSeller                = newRevert("NotSeller", "Not the seller", ClassAuthorization)
	ErrInvalidPaymentAmount     = newRevert("InvalidPaymentAmount", "Invalid payment amount", ClassMalformed)
	ErrInvalidProtocolFee       = newRevert("InvalidProtocolFee", "Invalid protocol fee", ClassMalformed)
	ErrInvalidPaymentSender     = newRevert("InvalidPaymentSender", "Invalid payment sender", ClassAuthorization)
	ErrInvalidPaymentRecipient  = newRevert("InvalidPaymentRecipient", "Invalid payment recipient", ClassMalformed)
	ErrInvalidFundingMode       = newRevert("InvalidFundingMode", "Invalid funding mode", ClassMalformed)
	ErrInvalidFeeRecipient      = newRevert("InvalidFeeRecipient", "Invalid fee recipient", ClassMalformed)
	ErrNFTTransferFailed        = newRevert("NFTTransferFailed", "NFT transfer failed", ClassAssetTransfer)
	ErrEmptyBatch               = newRevert("EmptyBatch", "Empty batch", ClassMalformed)
	ErrInvalidItemType          = newRevert("InvalidItemType", "Invalid item type", ClassMalformed)
	ErrPurchaseNotFound         = newRevert("PurchaseNotFound", "Purchase not found", ClassStateConflict)
)

// Token contracts
var (
	ErrNonexistentToken       = newRevert("ERC721NonexistentToken", "ERC721: invalid token ID", ClassMalformed)
	ErrTokenAlreadyMinted     = newRevert("ERC721InvalidSender", "ERC721: token already minted", ClassStateConflict)
	ErrIncorrectTokenOwner    = newRevert("ERC721IncorrectOwner", "ERC721: transfer from incorrect owner", ClassAssetTransfer)
	ErrERC721NotApproved      = newRevert("ERC721InsufficientApproval", "ERC721: caller is not token owner or approved", ClassAssetTransfer)
	ErrERC1155NotApproved     = newRevert("ERC1155MissingApprovalForAll", "ERC1155: caller is not token owner or approved", ClassAssetTransfer)
	ErrERC1155InsufficientBal = newRevert("ERC1155InsufficientBalance", "ERC1155: insufficient balance for transfer", ClassAssetTransfer)
	ErrNotMinter              = newRevert("NotMinter", "Caller is not the minter", ClassAuthorization)
	ErrInvalidReceiver        = newRevert("InvalidReceiver", "Transfer to non token receiver implementer", ClassAssetTransfer)
	ErrSelfApproval           = newRevert("InvalidOperator", "Approval to current owner", ClassMalformed)
)

// Permit2
var (
	ErrSignatureExpired = newRevert("SignatureExpired", "Permit2: signature expired", ClassTemporal)
	ErrInvalidNonce     = newRevert("InvalidNonce", "Permit2: invalid nonce", ClassStateConflict)
	ErrInvalidSigner    = newRevert("InvalidSigner", "Permit2: invalid signer", ClassAuthorization)
	ErrPermitAmount     = newRevert("InvalidPermitAmount", "Permit2: requested amount exceeds permitted", ClassMalformed)
)
