package marketplace

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/fees"
	"github.com/vorpalengineering/usdc-market/types"
)

// CalculateTotalCost splits what a buyer pays for base worth of goods. The
// intent amount is base plus the marketplace fee; the protocol fee is charged
// on that amount.
func (m *Marketplace) CalculateTotalCost(base *big.Int) types.CostBreakdown {
	if base == nil {
		base = new(big.Int)
	}
	marketplaceFee := fees.MarketplaceFee(base)
	intentAmount := new(big.Int).Add(base, marketplaceFee)
	protocolFee := m.payments.CalculateProtocolFee(intentAmount)
	return types.CostBreakdown{
		BaseAmount:     new(big.Int).Set(base),
		MarketplaceFee: marketplaceFee,
		ProtocolFee:    protocolFee,
		TotalCost:      new(big.Int).Add(intentAmount, protocolFee),
	}
}

// Purchase buys req.Quantity units of a listing for buyer. The signed intent
// must pay the listing cost to this marketplace; the marketplace pays the
// seller and its fee recipient out of it. Payment, asset transfer and record
// keeping commit together or not at all.
func (m *Marketplace) Purchase(ctx context.Context, buyer common.Address, req types.PurchaseRequest) (*types.Purchase, error) {
	var purchase *types.Purchase
	err := m.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		release, err := m.enter()
		if err != nil {
			return err
		}
		defer release()

		purchase, err = m.purchase(ctx, tx, buyer, req)
		return err
	})
	if err != nil {
		m.logger.Debug().
			Str("listing_id", req.ListingID.Hex()).
			Str("buyer", buyer.Hex()).
			Err(err).
			Msg("purchase rejected")
		return nil, err
	}
	return purchase, nil
}

// purchase runs one purchase inside tx. The caller holds the guard.
func (m *Marketplace) purchase(ctx context.Context, tx *chain.Tx, buyer common.Address, req types.PurchaseRequest) (*types.Purchase, error) {
	// Step 1: Listing state
	listing, ok := m.listings[req.ListingID]
	if !ok {
		return nil, types.ErrInvalidListing
	}
	if listing.Status != types.ListingActive {
		return nil, types.ErrListingNotActive
	}
	if tx.Now() > listing.ExpirationTime {
		return nil, types.ErrListingExpired
	}
	if req.Quantity == 0 {
		return nil, types.ErrInvalidQuantity
	}
	if req.Quantity > listing.Quantity {
		return nil, types.ErrInsufficientQuantity
	}

	// Step 2: Price and fees
	totalPrice := new(big.Int).Mul(listing.PricePerUnit, new(big.Int).SetUint64(req.Quantity))
	cost := m.CalculateTotalCost(totalPrice)

	// Step 3: Intent must match the quote before any funds move
	intent := &req.Intent
	if intent.Amount == nil || intent.Amount.Cmp(cost.IntentAmount()) != 0 {
		return nil, types.ErrInvalidPaymentAmount
	}
	if intent.ProtocolFee == nil || intent.ProtocolFee.Cmp(cost.ProtocolFee) != 0 {
		return nil, types.ErrInvalidProtocolFee
	}
	if intent.Sender != buyer {
		return nil, types.ErrInvalidPaymentSender
	}
	if intent.Recipient != m.address {
		return nil, types.ErrInvalidPaymentRecipient
	}

	// Step 4: Settle the payment to this contract, then pay out
	if err := m.settle(ctx, req); err != nil {
		return nil, err
	}
	if err := m.usdc.Transfer(ctx, m.address, listing.Seller, totalPrice); err != nil {
		return nil, err
	}
	if cost.MarketplaceFee.Sign() > 0 {
		if err := m.usdc.Transfer(ctx, m.address, m.feeRecipient, cost.MarketplaceFee); err != nil {
			return nil, err
		}
	}

	// Step 5: Deliver the asset
	if err := m.transferAsset(ctx, listing, buyer, req.Quantity); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrNFTTransferFailed, err)
	}

	// Step 6: Sell down the listing
	updated := listing.Copy()
	updated.Quantity -= req.Quantity
	if updated.Quantity == 0 {
		updated.Status = types.ListingSold
	}
	chain.SetKey(tx, m.listings, listing.ID, updated)

	// Step 7: Record
	chain.Set(tx, &m.purchaseCounter, m.purchaseCounter+1)
	id, err := purchaseID(listing.ID, buyer, tx.Now(), m.purchaseCounter)
	if err != nil {
		return nil, err
	}
	purchase := &types.Purchase{
		ID:             id,
		ListingID:      listing.ID,
		Buyer:          buyer,
		Seller:         listing.Seller,
		Quantity:       req.Quantity,
		TotalPrice:     totalPrice,
		MarketplaceFee: cost.MarketplaceFee,
		ProtocolFee:    cost.ProtocolFee,
		Timestamp:      tx.Now(),
		PaymentID:      intent.ID,
	}
	chain.SetKey(tx, m.purchases, id, purchase)
	chain.AppendKey(tx, m.buyerPurchases, buyer, id)
	chain.AppendKey(tx, m.listingPurchases, listing.ID, id)

	tx.Emit(m.address, types.PurchaseCompleted{
		ListingID:  listing.ID,
		PurchaseID: id,
		Buyer:      buyer,
		Quantity:   req.Quantity,
		TotalPrice: new(big.Int).Set(totalPrice),
		PaymentID:  intent.ID,
	})
	tx.OnCommit(func() {
		m.logger.Info().
			Str("purchase_id", id.Hex()).
			Str("listing_id", listing.ID.Hex()).
			Str("buyer", buyer.Hex()).
			Uint64("quantity", purchase.Quantity).
			Str("total_price", fees.FormatUSDC(totalPrice)).
			Msg("purchase completed")
	})

	return purchase.Copy(), nil
}

func (m *Marketplace) settle(ctx context.Context, req types.PurchaseRequest) error {
	switch req.Funding {
	case types.FundingPreApproved, "":
		return m.payments.ProcessPreApproved(ctx, &req.Intent)
	case types.FundingDelegated:
		if req.Authorization == nil {
			return types.ErrInvalidFundingMode
		}
		return m.payments.ProcessWithDelegatedTransfer(ctx, &req.Intent, req.Authorization)
	default:
		return types.ErrInvalidFundingMode
	}
}

// transferAsset moves the purchased units from the seller to buyer with this
// contract as operator. Physical goods have nothing to move.
func (m *Marketplace) transferAsset(ctx context.Context, listing *types.Listing, buyer common.Address, quantity uint64) error {
	switch listing.ItemType {
	case types.ItemPhysical:
		return nil
	case types.ItemERC721:
		token, ok := chain.Lookup[ERC721](ctx, m.chain, listing.TokenContract)
		if !ok {
			return types.ErrInvalidTokenContract
		}
		return token.SafeTransferFrom(ctx, m.address, listing.Seller, buyer, listing.TokenID)
	case types.ItemERC1155:
		token, ok := chain.Lookup[ERC1155](ctx, m.chain, listing.TokenContract)
		if !ok {
			return types.ErrInvalidTokenContract
		}
		return token.SafeTransferFrom(ctx, m.address, listing.Seller, buyer, listing.TokenID, new(big.Int).SetUint64(quantity))
	default:
		return types.ErrInvalidItemType
	}
}

func (m *Marketplace) GetPurchase(ctx context.Context, id common.Hash) (*types.Purchase, error) {
	var out *types.Purchase
	m.chain.Read(ctx, func() {
		if p, ok := m.purchases[id]; ok {
			out = p.Copy()
		}
	})
	if out == nil {
		return nil, types.ErrPurchaseNotFound
	}
	return out, nil
}

func (m *Marketplace) GetPurchasesByBuyer(ctx context.Context, buyer common.Address) []*types.Purchase {
	var out []*types.Purchase
	m.chain.Read(ctx, func() { out = m.collectPurchases(m.buyerPurchases[buyer]) })
	return out
}

func (m *Marketplace) GetListingPurchases(ctx context.Context, listingID common.Hash) []*types.Purchase {
	var out []*types.Purchase
	m.chain.Read(ctx, func() { out = m.collectPurchases(m.listingPurchases[listingID]) })
	return out
}

func (m *Marketplace) collectPurchases(ids []common.Hash) []*types.Purchase {
	out := make([]*types.Purchase, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.purchases[id].Copy())
	}
	return out
}
