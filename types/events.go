package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Events are delivered to ledger subscribers only after the transaction that
// emitted them commits.

type PaymentProcessed struct {
	PaymentID   common.Hash    `json:"paymentId"`
	Sender      common.Address `json:"sender"`
	Recipient   common.Address `json:"recipient"`
	Amount      *big.Int       `json:"amount"`
	ProtocolFee *big.Int       `json:"protocolFee"`
}

func (PaymentProcessed) EventName() string { return "PaymentProcessed" }

type FeeCollectorUpdated struct {
	OldCollector common.Address `json:"oldCollector"`
	NewCollector common.Address `json:"newCollector"`
}

func (FeeCollectorUpdated) EventName() string { return "FeeCollectorUpdated" }

type MarketplaceFeeRecipientUpdated struct {
	OldRecipient common.Address `json:"oldRecipient"`
	NewRecipient common.Address `json:"newRecipient"`
}

func (MarketplaceFeeRecipientUpdated) EventName() string { return "MarketplaceFeeRecipientUpdated" }

type Paused struct {
	Account common.Address `json:"account"`
}

func (Paused) EventName() string { return "Paused" }

type Unpaused struct {
	Account common.Address `json:"account"`
}

func (Unpaused) EventName() string { return "Unpaused" }

type OwnershipTransferred struct {
	PreviousOwner common.Address `json:"previousOwner"`
	NewOwner      common.Address `json:"newOwner"`
}

func (OwnershipTransferred) EventName() string { return "OwnershipTransferred" }

type EmergencyWithdrawal struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func (EmergencyWithdrawal) EventName() string { return "EmergencyWithdrawal" }

type ListingCreated struct {
	ListingID      common.Hash    `json:"listingId"`
	Seller         common.Address `json:"seller"`
	ItemType       ItemType       `json:"itemType"`
	TokenContract  common.Address `json:"tokenContract"`
	TokenID        *big.Int       `json:"tokenId"`
	Quantity       uint64         `json:"quantity"`
	PricePerUnit   *big.Int       `json:"pricePerUnit"`
	ExpirationTime uint64         `json:"expirationTime"`
}

func (ListingCreated) EventName() string { return "ListingCreated" }

type ListingUpdated struct {
	ListingID    common.Hash `json:"listingId"`
	PricePerUnit *big.Int    `json:"pricePerUnit"`
	Quantity     uint64      `json:"quantity"`
}

func (ListingUpdated) EventName() string { return "ListingUpdated" }

type ListingCancelledEvent struct {
	ListingID common.Hash `json:"listingId"`
}

func (ListingCancelledEvent) EventName() string { return "ListingCancelled" }

type ListingExpiredEvent struct {
	ListingID common.Hash `json:"listingId"`
}

func (ListingExpiredEvent) EventName() string { return "ListingExpired" }

type PurchaseCompleted struct {
	ListingID  common.Hash    `json:"listingId"`
	PurchaseID common.Hash    `json:"purchaseId"`
	Buyer      common.Address `json:"buyer"`
	Quantity   uint64         `json:"quantity"`
	TotalPrice *big.Int       `json:"totalPrice"`
	PaymentID  common.Hash    `json:"paymentId"`
}

func (PurchaseCompleted) EventName() string { return "PurchaseCompleted" }

// Token events

type Transfer struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
}

func (Transfer) EventName() string { return "Transfer" }

type Approval struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Value   *big.Int       `json:"value"`
}

func (Approval) EventName() string { return "Approval" }

type TransferSingle struct {
	Operator common.Address `json:"operator"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	ID       *big.Int       `json:"id"`
	Value    *big.Int       `json:"value"`
}

func (TransferSingle) EventName() string { return "TransferSingle" }

type ApprovalForAll struct {
	Owner    common.Address `json:"owner"`
	Operator common.Address `json:"operator"`
	Approved bool           `json:"approved"`
}

func (ApprovalForAll) EventName() string { return "ApprovalForAll" }

type UnorderedNonceInvalidation struct {
	Owner common.Address `json:"owner"`
	Word  *big.Int       `json:"word"`
	Mask  *big.Int       `json:"mask"`
}

func (UnorderedNonceInvalidation) EventName() string { return "UnorderedNonceInvalidation" }
