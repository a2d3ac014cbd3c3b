package marketplace

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/types"
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	addressType = mustType("address")
	uint256Type = mustType("uint256")
	bytes32Type = mustType("bytes32")

	// abi.encode(seller, tokenContract, tokenId, timestamp, counter)
	listingIDArgs = abi.Arguments{
		{Type: addressType}, {Type: addressType}, {Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type},
	}

	// abi.encode(listingId, buyer, timestamp, counter)
	purchaseIDArgs = abi.Arguments{
		{Type: bytes32Type}, {Type: addressType}, {Type: uint256Type}, {Type: uint256Type},
	}
)

func listingID(seller, tokenContract common.Address, tokenID *big.Int, now, counter uint64) (common.Hash, error) {
	packed, err := listingIDArgs.Pack(seller, tokenContract, tokenID, new(big.Int).SetUint64(now), new(big.Int).SetUint64(counter))
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

func purchaseID(listing common.Hash, buyer common.Address, now, counter uint64) (common.Hash, error) {
	packed, err := purchaseIDArgs.Pack([32]byte(listing), buyer, new(big.Int).SetUint64(now), new(big.Int).SetUint64(counter))
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// CreateListing lists an item for seller and returns the listing id. NFT
// ownership is checked here only; the asset stays with the seller until a
// purchase transfers it.
func (m *Marketplace) CreateListing(ctx context.Context, seller common.Address, req types.CreateListingRequest) (common.Hash, error) {
	var id common.Hash
	err := m.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		release, err := m.enter()
		if err != nil {
			return err
		}
		defer release()

		// Step 1: Shape
		if req.Quantity == 0 {
			return types.ErrInvalidQuantity
		}
		if req.PricePerUnit == nil || req.PricePerUnit.Sign() <= 0 {
			return types.ErrInvalidPrice
		}
		if req.Duration == 0 || req.Duration > math.MaxUint64-tx.Now() {
			return types.ErrInvalidDuration
		}

		// Step 2: Item specific checks
		tokenContract, tokenID := req.TokenContract, req.TokenID
		if tokenID == nil {
			tokenID = new(big.Int)
		}
		switch req.ItemType {
		case types.ItemPhysical:
			tokenContract, tokenID = common.Address{}, new(big.Int)
		case types.ItemERC721:
			if err := m.checkERC721(ctx, seller, tokenContract, tokenID, req.Quantity); err != nil {
				return err
			}
		case types.ItemERC1155:
			if err := m.checkERC1155(ctx, seller, tokenContract, tokenID, req.Quantity); err != nil {
				return err
			}
		default:
			return types.ErrInvalidItemType
		}

		// Step 3: Store
		chain.Set(tx, &m.listingCounter, m.listingCounter+1)
		id, err = listingID(seller, tokenContract, tokenID, tx.Now(), m.listingCounter)
		if err != nil {
			return err
		}
		listing := &types.Listing{
			ID:             id,
			Seller:         seller,
			ItemType:       req.ItemType,
			TokenContract:  tokenContract,
			TokenID:        new(big.Int).Set(tokenID),
			Quantity:       req.Quantity,
			PricePerUnit:   new(big.Int).Set(req.PricePerUnit),
			CreatedAt:      tx.Now(),
			ExpirationTime: tx.Now() + req.Duration,
			Status:         types.ListingActive,
			MetadataURI:    req.MetadataURI,
			Tags:           append([]string(nil), req.Tags...),
		}
		chain.SetKey(tx, m.listings, id, listing)
		chain.AppendKey(tx, m.sellerListings, seller, id)

		tx.Emit(m.address, types.ListingCreated{
			ListingID:      id,
			Seller:         seller,
			ItemType:       listing.ItemType,
			TokenContract:  tokenContract,
			TokenID:        new(big.Int).Set(tokenID),
			Quantity:       listing.Quantity,
			PricePerUnit:   new(big.Int).Set(listing.PricePerUnit),
			ExpirationTime: listing.ExpirationTime,
		})
		tx.OnCommit(func() {
			m.logger.Info().
				Str("listing_id", id.Hex()).
				Str("seller", seller.Hex()).
				Str("item_type", req.ItemType.String()).
				Uint64("quantity", req.Quantity).
				Msg("listing created")
		})
		return nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	return id, nil
}

func (m *Marketplace) checkERC721(ctx context.Context, seller, tokenContract common.Address, tokenID *big.Int, quantity uint64) error {
	if tokenContract == (common.Address{}) {
		return types.ErrInvalidTokenContract
	}
	token, ok := chain.Lookup[ERC721](ctx, m.chain, tokenContract)
	if !ok {
		return types.ErrInvalidTokenContract
	}
	if quantity != 1 {
		return types.ErrERC721QuantityMustBeOne
	}
	owner, err := token.OwnerOf(ctx, tokenID)
	if err != nil || owner != seller {
		return types.ErrNotTokenOwner
	}
	return nil
}

func (m *Marketplace) checkERC1155(ctx context.Context, seller, tokenContract common.Address, tokenID *big.Int, quantity uint64) error {
	if tokenContract == (common.Address{}) {
		return types.ErrInvalidTokenContract
	}
	token, ok := chain.Lookup[ERC1155](ctx, m.chain, tokenContract)
	if !ok {
		return types.ErrInvalidTokenContract
	}
	if token.BalanceOf(ctx, seller, tokenID).Cmp(new(big.Int).SetUint64(quantity)) < 0 {
		return types.ErrInsufficientTokenBalance
	}
	return nil
}

// sellerListing loads id for a seller-restricted mutation.
func (m *Marketplace) sellerListing(caller common.Address, id common.Hash) (*types.Listing, error) {
	listing, ok := m.listings[id]
	if !ok {
		return nil, types.ErrInvalidListing
	}
	if listing.Seller != caller {
		return nil, types.ErrNotSeller
	}
	if listing.Status != types.ListingActive {
		return nil, types.ErrListingNotActive
	}
	return listing, nil
}

// UpdateListing overwrites price and quantity of an active listing.
func (m *Marketplace) UpdateListing(ctx context.Context, caller common.Address, id common.Hash, req types.UpdateListingRequest) error {
	return m.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		release, err := m.enter()
		if err != nil {
			return err
		}
		defer release()

		listing, err := m.sellerListing(caller, id)
		if err != nil {
			return err
		}
		if req.PricePerUnit == nil || req.PricePerUnit.Sign() <= 0 {
			return types.ErrInvalidPrice
		}
		if req.Quantity == 0 {
			return types.ErrInvalidQuantity
		}
		switch listing.ItemType {
		case types.ItemERC721:
			if req.Quantity != 1 {
				return types.ErrERC721QuantityMustBeOne
			}
		case types.ItemERC1155:
			if err := m.checkERC1155(ctx, caller, listing.TokenContract, listing.TokenID, req.Quantity); err != nil {
				return err
			}
		}

		updated := listing.Copy()
		updated.PricePerUnit = new(big.Int).Set(req.PricePerUnit)
		updated.Quantity = req.Quantity
		chain.SetKey(tx, m.listings, id, updated)

		tx.Emit(m.address, types.ListingUpdated{
			ListingID:    id,
			PricePerUnit: new(big.Int).Set(req.PricePerUnit),
			Quantity:     req.Quantity,
		})
		return nil
	})
}

// CancelListing withdraws an active listing. It is allowed while paused.
func (m *Marketplace) CancelListing(ctx context.Context, caller common.Address, id common.Hash) error {
	return m.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		release, err := m.guard.Enter()
		if err != nil {
			return err
		}
		defer release()

		listing, err := m.sellerListing(caller, id)
		if err != nil {
			return err
		}
		updated := listing.Copy()
		updated.Status = types.ListingCancelled
		chain.SetKey(tx, m.listings, id, updated)

		tx.Emit(m.address, types.ListingCancelledEvent{ListingID: id})
		return nil
	})
}

// ExpireListings moves every listed id that is still active to EXPIRED and
// returns how many it moved. Unknown ids and listings in any other state are
// skipped.
func (m *Marketplace) ExpireListings(ctx context.Context, caller common.Address, ids []common.Hash) (int, error) {
	expired := 0
	err := m.chain.Transact(ctx, func(ctx context.Context, tx *chain.Tx) error {
		if err := m.owner.CheckOwner(caller); err != nil {
			return err
		}
		expired = 0
		for _, id := range ids {
			listing, ok := m.listings[id]
			if !ok || listing.Status != types.ListingActive {
				continue
			}
			updated := listing.Copy()
			updated.Status = types.ListingExpired
			chain.SetKey(tx, m.listings, id, updated)
			tx.Emit(m.address, types.ListingExpiredEvent{ListingID: id})
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

func (m *Marketplace) GetListing(ctx context.Context, id common.Hash) (*types.Listing, error) {
	var out *types.Listing
	m.chain.Read(ctx, func() {
		if listing, ok := m.listings[id]; ok {
			out = listing.Copy()
		}
	})
	if out == nil {
		return nil, types.ErrInvalidListing
	}
	return out, nil
}

// GetListingsBySeller returns every listing of seller in creation order,
// whatever its status.
func (m *Marketplace) GetListingsBySeller(ctx context.Context, seller common.Address) []*types.Listing {
	var out []*types.Listing
	m.chain.Read(ctx, func() {
		ids := m.sellerListings[seller]
		out = make([]*types.Listing, 0, len(ids))
		for _, id := range ids {
			out = append(out, m.listings[id].Copy())
		}
	})
	return out
}
