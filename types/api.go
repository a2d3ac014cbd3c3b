package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Node/client types

type ErrorResponse struct {
	Error   string     `json:"error"`
	Message string     `json:"message"`
	Class   ErrorClass `json:"class,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Height uint64 `json:"height"`
}

type ContractAddresses struct {
	USDC            common.Address `json:"usdc"`
	Permit2         common.Address `json:"permit2"`
	PaymentProtocol common.Address `json:"paymentProtocol"`
	Marketplace     common.Address `json:"marketplace"`
	ERC721          common.Address `json:"erc721"`
	ERC1155         common.Address `json:"erc1155"`
}

type ChainInfoResponse struct {
	ChainID   string            `json:"chainId"`
	Network   string            `json:"network"`
	Height    uint64            `json:"height"`
	Timestamp uint64            `json:"timestamp"`
	Owner     common.Address    `json:"owner"`
	Contracts ContractAddresses `json:"contracts"`
}

// Tokens

type BalanceResponse struct {
	Address   common.Address `json:"address"`
	Balance   *big.Int       `json:"balance"`
	Formatted string         `json:"formatted"`
}

type AllowanceResponse struct {
	Owner     common.Address `json:"owner"`
	Spender   common.Address `json:"spender"`
	Allowance *big.Int       `json:"allowance"`
}

type TransferRequest struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

type ApproveRequest struct {
	From    common.Address `json:"from"`
	Spender common.Address `json:"spender"`
	Amount  *big.Int       `json:"amount"`
}

type MintRequest struct {
	To      common.Address `json:"to"`
	Amount  *big.Int       `json:"amount,omitempty"`
	TokenID *big.Int       `json:"tokenId,omitempty"`
}

type ApprovalForAllRequest struct {
	From     common.Address `json:"from"`
	Operator common.Address `json:"operator"`
	Approved bool           `json:"approved"`
}

type TokenOwnerResponse struct {
	TokenID *big.Int       `json:"tokenId"`
	Owner   common.Address `json:"owner"`
}

type NonceBitmapResponse struct {
	Owner   common.Address `json:"owner"`
	WordPos *big.Int       `json:"wordPos"`
	Bitmap  *big.Int       `json:"bitmap"`
}

// Protocol

type PaymentIntentRequest struct {
	Intent PaymentIntent `json:"intent"`
}

type HashResponse struct {
	Hash common.Hash `json:"hash"`
}

type VerifyResponse struct {
	IsValid       bool       `json:"isValid"`
	InvalidReason string     `json:"invalidReason,omitempty"`
	Code          string     `json:"code,omitempty"`
	Class         ErrorClass `json:"class,omitempty"`
}

type NonceResponse struct {
	Address common.Address `json:"address"`
	Nonce   *big.Int       `json:"nonce"`
}

type PaymentStatusResponse struct {
	PaymentID common.Hash `json:"paymentId"`
	Processed bool        `json:"processed"`
}

type FeeResponse struct {
	Amount      *big.Int `json:"amount"`
	ProtocolFee *big.Int `json:"protocolFee"`
}

type ProcessPaymentRequest struct {
	Intent        PaymentIntent                   `json:"intent"`
	Funding       FundingMode                     `json:"funding"`
	Authorization *DelegatedTransferAuthorization `json:"authorization,omitempty"`
}

type ProcessPaymentResponse struct {
	PaymentID common.Hash    `json:"paymentId"`
	Sender    common.Address `json:"sender"`
	NextNonce *big.Int       `json:"nextNonce"`
}

type ProtocolStatusResponse struct {
	Address      common.Address `json:"address"`
	Owner        common.Address `json:"owner"`
	FeeCollector common.Address `json:"feeCollector"`
	Paused       bool           `json:"paused"`
	FeeBps       int64          `json:"feeBps"`
}

// Marketplace

type CreateListingCall struct {
	From common.Address `json:"from"`
	CreateListingRequest
}

type CreateListingResponse struct {
	ListingID common.Hash `json:"listingId"`
}

type UpdateListingCall struct {
	From common.Address `json:"from"`
	UpdateListingRequest
}

type CancelListingCall struct {
	From common.Address `json:"from"`
}

type ListingsResponse struct {
	Listings []*Listing `json:"listings"`
}

type PurchaseCall struct {
	Buyer common.Address `json:"buyer"`
	PurchaseRequest
}

type BatchPurchaseCall struct {
	Buyer    common.Address    `json:"buyer"`
	Requests []PurchaseRequest `json:"requests"`
}

type PurchasesResponse struct {
	Purchases []*Purchase `json:"purchases"`
}

type GasEstimateResponse struct {
	ItemType ItemType    `json:"itemType"`
	Funding  FundingMode `json:"funding"`
	Items    uint64      `json:"items"`
	Gas      uint64      `json:"gas"`
}

type MarketplaceStatusResponse struct {
	Address      common.Address `json:"address"`
	Owner        common.Address `json:"owner"`
	FeeRecipient common.Address `json:"feeRecipient"`
	Paused       bool           `json:"paused"`
	FeeBps       int64          `json:"feeBps"`
}

// Admin

type AddressRequest struct {
	Address common.Address `json:"address"`
}

type WithdrawRequest struct {
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

type ExpireListingsRequest struct {
	ListingIDs []common.Hash `json:"listingIds"`
}

type ExpireListingsResponse struct {
	Expired int `json:"expired"`
}

// Account calls

const (
	AccountSignatureHeader = "X-Account-Signature"
	AccountDeadlineHeader  = "X-Account-Deadline"
)

// AccountCall is what an account signs to authorize one HTTP request that
// names it as "from". BodyHash is keccak256 of the exact request body.
type AccountCall struct {
	From     common.Address
	Method   string
	Path     string
	BodyHash common.Hash
	Deadline uint64
}
