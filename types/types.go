package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Payment types

// PaymentIntent is a signed, single-use authorization for a USDC transfer from
// Sender to Recipient. Signature covers every other field through EIP-712.
type PaymentIntent struct {
	ID          common.Hash    `json:"id"`
	Sender      common.Address `json:"sender"`
	Recipient   common.Address `json:"recipient"`
	Amount      *big.Int       `json:"amount"`
	ProtocolFee *big.Int       `json:"protocolFee"`
	Deadline    uint64         `json:"deadline"`
	Nonce       *big.Int       `json:"nonce"`
	Signature   hexutil.Bytes  `json:"signature"`
}

// Total returns Amount + ProtocolFee.
func (p *PaymentIntent) Total() *big.Int {
	total := new(big.Int)
	if p.Amount != nil {
		total.Add(total, p.Amount)
	}
	if p.ProtocolFee != nil {
		total.Add(total, p.ProtocolFee)
	}
	return total
}

type TokenPermissions struct {
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// DelegatedTransferAuthorization is a Permit2 signature transfer. Its nonce
// space belongs to the Permit2 contract, not to the payment protocol.
type DelegatedTransferAuthorization struct {
	Permitted TokenPermissions `json:"permitted"`
	Nonce     *big.Int         `json:"nonce"`
	Deadline  *big.Int         `json:"deadline"`
	Signature hexutil.Bytes    `json:"signature"`
}

type SignatureTransferDetails struct {
	To              common.Address `json:"to"`
	RequestedAmount *big.Int       `json:"requestedAmount"`
}

type FundingMode string

const (
	FundingPreApproved FundingMode = "PRE_APPROVED"
	FundingDelegated   FundingMode = "DELEGATED"
)

func (m FundingMode) Valid() bool {
	return m == FundingPreApproved || m == FundingDelegated
}

// Marketplace types

type ItemType uint8

const (
	ItemPhysical ItemType = iota
	ItemERC721
	ItemERC1155
)

var itemTypeNames = map[ItemType]string{
	ItemPhysical: "PHYSICAL",
	ItemERC721:   "ERC721",
	ItemERC1155:  "ERC1155",
}

func (t ItemType) String() string {
	if name, ok := itemTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ItemType(%d)", uint8(t))
}

func (t ItemType) IsToken() bool {
	return t == ItemERC721 || t == ItemERC1155
}

func (t ItemType) MarshalText() ([]byte, error) {
	name, ok := itemTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown item type %d", uint8(t))
	}
	return []byte(name), nil
}

func (t *ItemType) UnmarshalText(text []byte) error {
	parsed, err := ParseItemType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseItemType(s string) (ItemType, error) {
	for t, name := range itemTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown item type %q", s)
}

type ListingStatus uint8

const (
	ListingActive ListingStatus = iota
	ListingSold
	ListingCancelled
	ListingExpired
)

var listingStatusNames = map[ListingStatus]string{
	ListingActive:    "ACTIVE",
	ListingSold:      "SOLD",
	ListingCancelled: "CANCELLED",
	ListingExpired:   "EXPIRED",
}

func (s ListingStatus) String() string {
	if name, ok := listingStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ListingStatus(%d)", uint8(s))
}

func (s ListingStatus) MarshalText() ([]byte, error) {
	name, ok := listingStatusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown listing status %d", uint8(s))
	}
	return []byte(name), nil
}

func (s *ListingStatus) UnmarshalText(text []byte) error {
	for status, name := range listingStatusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown listing status %q", string(text))
}

// Listing is a seller's offer. TokenContract and TokenID are zero for
// physical goods.
type Listing struct {
	ID             common.Hash    `json:"id"`
	Seller         common.Address `json:"seller"`
	ItemType       ItemType       `json:"itemType"`
	TokenContract  common.Address `json:"tokenContract"`
	TokenID        *big.Int       `json:"tokenId"`
	Quantity       uint64         `json:"quantity"`
	PricePerUnit   *big.Int       `json:"pricePerUnit"`
	CreatedAt      uint64         `json:"createdAt"`
	ExpirationTime uint64         `json:"expirationTime"`
	Status         ListingStatus  `json:"status"`
	MetadataURI    string         `json:"metadataURI"`
	Tags           []string       `json:"tags"`
}

// Copy returns a deep copy safe to hand outside the ledger lock.
func (l *Listing) Copy() *Listing {
	cp := *l
	if l.TokenID != nil {
		cp.TokenID = new(big.Int).Set(l.TokenID)
	}
	if l.PricePerUnit != nil {
		cp.PricePerUnit = new(big.Int).Set(l.PricePerUnit)
	}
	cp.Tags = append([]string(nil), l.Tags...)
	return &cp
}

type Purchase struct {
	ID             common.Hash    `json:"id"`
	ListingID      common.Hash    `json:"listingId"`
	Buyer          common.Address `json:"buyer"`
	Seller         common.Address `json:"seller"`
	Quantity       uint64         `json:"quantity"`
	TotalPrice     *big.Int       `json:"totalPrice"`
	MarketplaceFee *big.Int       `json:"marketplaceFee"`
	ProtocolFee    *big.Int       `json:"protocolFee"`
	Timestamp      uint64         `json:"timestamp"`
	PaymentID      common.Hash    `json:"paymentId"`
}

// Copy returns a deep copy safe to hand outside the ledger lock.
func (p *Purchase) Copy() *Purchase {
	cp := *p
	for _, v := range []**big.Int{&cp.TotalPrice, &cp.MarketplaceFee, &cp.ProtocolFee} {
		if *v != nil {
			*v = new(big.Int).Set(*v)
		}
	}
	return &cp
}

// CostBreakdown is what a buyer pays for BaseAmount worth of goods.
// TotalCost == BaseAmount + MarketplaceFee + ProtocolFee.
type CostBreakdown struct {
	BaseAmount     *big.Int `json:"baseAmount"`
	MarketplaceFee *big.Int `json:"marketplaceFee"`
	ProtocolFee    *big.Int `json:"protocolFee"`
	TotalCost      *big.Int `json:"totalCost"`
}

// IntentAmount is the value a PaymentIntent must carry in its Amount field.
func (c CostBreakdown) IntentAmount() *big.Int {
	return new(big.Int).Add(c.BaseAmount, c.MarketplaceFee)
}

type ListingQuote struct {
	Listing  *Listing      `json:"listing"`
	Quantity uint64        `json:"quantity"`
	Cost     CostBreakdown `json:"cost"`
}

type CreateListingRequest struct {
	ItemType      ItemType       `json:"itemType"`
	TokenContract common.Address `json:"tokenContract"`
	TokenID       *big.Int       `json:"tokenId"`
	Quantity      uint64         `json:"quantity"`
	PricePerUnit  *big.Int       `json:"pricePerUnit"`
	Duration      uint64         `json:"duration"`
	MetadataURI   string         `json:"metadataURI"`
	Tags          []string       `json:"tags"`
}

type UpdateListingRequest struct {
	PricePerUnit *big.Int `json:"pricePerUnit"`
	Quantity     uint64   `json:"quantity"`
}

type PurchaseRequest struct {
	ListingID     common.Hash                     `json:"listingId"`
	Quantity      uint64                          `json:"quantity"`
	Intent        PaymentIntent                   `json:"intent"`
	Funding       FundingMode                     `json:"funding"`
	Authorization *DelegatedTransferAuthorization `json:"authorization,omitempty"`
}
