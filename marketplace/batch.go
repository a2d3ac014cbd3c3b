package marketplace

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/types"
)

// BatchPurchase runs every request as one ledger transaction: if any item
// fails, no item's effects persist. Intents from the same buyer must carry
// consecutive nonces in request order.
func (m *Marketplace) BatchPurchase(ctx context.Context, buyer common.Address, reqs []types.PurchaseRequest) ([]*types.Purchase, error) {
	if len(reqs) == 0 {
		return nil, types.ErrEmptyBatch
	}

	var purchases []*types.Purchase
	err := m.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		release, err := m.enter()
		if err != nil {
			return err
		}
		defer release()

		purchases = make([]*types.Purchase, 0, len(reqs))
		for i, req := range reqs {
			purchase, err := m.purchase(ctx, tx, buyer, req)
			if err != nil {
				return fmt.Errorf("batch item %d: %w", i, err)
			}
			purchases = append(purchases, purchase)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

// GetListingWithCost quotes quantity units of a listing. Zero quantity quotes
// whatever remains.
func (m *Marketplace) GetListingWithCost(ctx context.Context, id common.Hash, quantity uint64) (*types.ListingQuote, error) {
	listing, err := m.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if quantity == 0 {
		quantity = listing.Quantity
	}
	if quantity > listing.Quantity {
		return nil, types.ErrInsufficientQuantity
	}
	base := new(big.Int).Mul(listing.PricePerUnit, new(big.Int).SetUint64(quantity))
	return &types.ListingQuote{
		Listing:  listing,
		Quantity: quantity,
		Cost:     m.CalculateTotalCost(base),
	}, nil
}

// GetActiveListingsBySeller pages through seller's ACTIVE listings in
// creation order. It returns min(limit, total-offset) listings, and an empty
// slice once offset reaches the total.
func (m *Marketplace) GetActiveListingsBySeller(ctx context.Context, seller common.Address, offset, limit uint64) []*types.Listing {
	out := []*types.Listing{}
	m.chain.Read(ctx, func() {
		var active []common.Hash
		for _, id := range m.sellerListings[seller] {
			if m.listings[id].Status == types.ListingActive {
				active = append(active, id)
			}
		}
		total := uint64(len(active))
		if offset >= total {
			return
		}
		end := total
		if limit < total-offset {
			end = offset + limit
		}
		for _, id := range active[offset:end] {
			out = append(out, m.listings[id].Copy())
		}
	})
	return out
}

// Gas figures for EstimatePurchaseGas, measured against the reference
// contracts. They are UX hints only.
const (
	gasBatchBase    = 21_000
	gasPurchaseBase = 145_000
	gasDelegated    = 38_000
	gasERC721       = 52_000
	gasERC1155      = 48_000
)

// EstimatePurchaseGas is a non-authoritative estimate of what a batch of
// items purchases of itemType would cost on chain.
func (m *Marketplace) EstimatePurchaseGas(itemType types.ItemType, funding types.FundingMode, items uint64) uint64 {
	if items == 0 {
		return 0
	}
	perItem := uint64(gasPurchaseBase)
	if funding == types.FundingDelegated {
		perItem += gasDelegated
	}
	switch itemType {
	case types.ItemERC721:
		perItem += gasERC721
	case types.ItemERC1155:
		perItem += gasERC1155
	}
	return gasBatchBase + perItem*items
}
