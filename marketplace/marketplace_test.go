package marketplace

import (
	"context"
	"crypto/ecdsa"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/permit2"
	"github.com/vorpalengineering/usdc-market/protocol"
	"github.com/vorpalengineering/usdc-market/tokens"
	"github.com/vorpalengineering/usdc-market/types"
	"github.com/vorpalengineering/usdc-market/utils"
)

const buyerKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var (
	owner        = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	seller       = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	feeCollector = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	feeRecipient = common.HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65")
	stranger     = common.HexToAddress("0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc")
	startTime    = time.Unix(1_700_000_000, 0)
)

func usdcUnits(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000))
}

type fixture struct {
	chain    *chain.Chain
	clock    *chain.ManualClock
	usdc     *tokens.USDC
	permit2  *permit2.Permit2
	protocol *protocol.PaymentProtocol
	market   *Marketplace
	nft      *tokens.ERC721
	items    *tokens.ERC1155
	key      *ecdsa.PrivateKey
	buyer    common.Address
	logs     []chain.Log
	nextID   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := chain.NewManualClock(startTime)
	c := chain.New(big.NewInt(31337), chain.WithClock(clock))

	usdc, err := tokens.DeployUSDC(c, owner)
	require.NoError(t, err)
	p2, err := permit2.Deploy(c, owner, zerolog.Nop())
	require.NoError(t, err)
	payments, err := protocol.Deploy(c, protocol.Config{
		Owner:        owner,
		FeeCollector: feeCollector,
		USDC:         usdc,
		Permit2:      p2,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	market, err := Deploy(c, Config{
		Owner:        owner,
		FeeRecipient: feeRecipient,
		Payments:     payments,
		USDC:         usdc,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	nft, err := tokens.DeployERC721(c, owner, "Collectibles", "CLT")
	require.NoError(t, err)
	items, err := tokens.DeployERC1155(c, owner, "ipfs://items/{id}")
	require.NoError(t, err)

	key, err := crypto.HexToECDSA(buyerKeyHex)
	require.NoError(t, err)
	buyer := crypto.PubkeyToAddress(key.PublicKey)

	require.NoError(t, usdc.Mint(ctx, owner, buyer, usdcUnits(10_000)))
	require.NoError(t, usdc.Approve(ctx, buyer, payments.Address(), usdcUnits(10_000)))

	f := &fixture{
		chain:    c,
		clock:    clock,
		usdc:     usdc,
		permit2:  p2,
		protocol: payments,
		market:   market,
		nft:      nft,
		items:    items,
		key:      key,
		buyer:    buyer,
	}
	c.Subscribe(func(l chain.Log) { f.logs = append(f.logs, l) })
	return f
}

func (f *fixture) listPhysical(t *testing.T, quantity uint64, priceUSDC int64, duration uint64) common.Hash {
	t.Helper()
	id, err := f.market.CreateListing(context.Background(), seller, types.CreateListingRequest{
		ItemType:     types.ItemPhysical,
		Quantity:     quantity,
		PricePerUnit: usdcUnits(priceUSDC),
		Duration:     duration,
		MetadataURI:  "ipfs://listing",
		Tags:         []string{"physical"},
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) listERC721(t *testing.T, tokenID int64, priceUSDC int64) common.Hash {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.nft.Mint(ctx, owner, seller, big.NewInt(tokenID)))
	require.NoError(t, f.nft.SetApprovalForAll(ctx, seller, f.market.Address(), true))
	id, err := f.market.CreateListing(ctx, seller, types.CreateListingRequest{
		ItemType:      types.ItemERC721,
		TokenContract: f.nft.Address(),
		TokenID:       big.NewInt(tokenID),
		Quantity:      1,
		PricePerUnit:  usdcUnits(priceUSDC),
		Duration:      3600,
	})
	require.NoError(t, err)
	return id
}

// intentFor builds a signed intent paying for quantity units of a listing at
// the buyer's next nonce plus offset.
func (f *fixture) intentFor(t *testing.T, listingID common.Hash, quantity uint64, nonceOffset int64) types.PaymentIntent {
	t.Helper()
	ctx := context.Background()
	quote, err := f.market.GetListingWithCost(ctx, listingID, quantity)
	require.NoError(t, err)

	f.nextID++
	nonce := f.protocol.GetCurrentNonce(ctx, f.buyer)
	intent := types.PaymentIntent{
		ID:          crypto.Keccak256Hash(big.NewInt(f.nextID).Bytes()),
		Sender:      f.buyer,
		Recipient:   f.market.Address(),
		Amount:      quote.Cost.IntentAmount(),
		ProtocolFee: quote.Cost.ProtocolFee,
		Deadline:    uint64(f.clock.Now().Add(time.Hour).Unix()),
		Nonce:       nonce.Add(nonce, big.NewInt(nonceOffset)),
	}
	f.sign(t, &intent)
	return intent
}

func (f *fixture) sign(t *testing.T, intent *types.PaymentIntent) {
	t.Helper()
	sig, err := utils.SignPaymentIntent(f.protocol.Domain(), intent, f.key)
	require.NoError(t, err)
	intent.Signature = sig
}

func (f *fixture) request(t *testing.T, listingID common.Hash, quantity uint64) types.PurchaseRequest {
	return types.PurchaseRequest{
		ListingID: listingID,
		Quantity:  quantity,
		Intent:    f.intentFor(t, listingID, quantity, 0),
		Funding:   types.FundingPreApproved,
	}
}

func (f *fixture) listing(t *testing.T, id common.Hash) *types.Listing {
	t.Helper()
	l, err := f.market.GetListing(context.Background(), id)
	require.NoError(t, err)
	return l
}

func assertBig(t *testing.T, want, got *big.Int, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, 0, want.Cmp(got), append([]interface{}{"want %v, got %v", want, got}, msgAndArgs...)...)
}

func TestDeployValidation(t *testing.T) {
	f := newFixture(t)
	_, err := Deploy(f.chain, Config{Owner: owner, Payments: f.protocol, USDC: f.usdc})
	require.ErrorIs(t, err, types.ErrInvalidFeeRecipient)

	other, err := tokens.DeployUSDC(f.chain, owner)
	require.NoError(t, err)
	_, err = Deploy(f.chain, Config{Owner: owner, FeeRecipient: feeRecipient, Payments: f.protocol, USDC: other})
	require.Error(t, err)
}

func TestCreateListing(t *testing.T) {
	f := newFixture(t)
	id := f.listPhysical(t, 5, 500, 3600)

	listing := f.listing(t, id)
	assert.Equal(t, seller, listing.Seller)
	assert.Equal(t, types.ItemPhysical, listing.ItemType)
	assert.Equal(t, common.Address{}, listing.TokenContract)
	assert.Equal(t, uint64(5), listing.Quantity)
	assert.Equal(t, types.ListingActive, listing.Status)
	assert.Equal(t, uint64(startTime.Unix())+3600, listing.ExpirationTime)
	assert.Equal(t, []string{"physical"}, listing.Tags)

	created, ok := f.logs[len(f.logs)-1].Event.(types.ListingCreated)
	require.True(t, ok)
	assert.Equal(t, id, created.ListingID)

	// Same seller, same second: still distinct ids
	other := f.listPhysical(t, 5, 500, 3600)
	assert.NotEqual(t, id, other)

	// Returned listings are copies
	listing.Quantity = 99
	assert.Equal(t, uint64(5), f.listing(t, id).Quantity)
}

func TestCreateListingValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.nft.Mint(ctx, owner, seller, big.NewInt(1)))
	require.NoError(t, f.nft.Mint(ctx, owner, stranger, big.NewInt(2)))
	require.NoError(t, f.items.Mint(ctx, owner, seller, big.NewInt(5), big.NewInt(3)))

	valid := func(mutate func(*types.CreateListingRequest)) types.CreateListingRequest {
		req := types.CreateListingRequest{
			ItemType:     types.ItemPhysical,
			Quantity:     1,
			PricePerUnit: usdcUnits(1),
			Duration:     60,
		}
		mutate(&req)
		return req
	}

	tests := []struct {
		name string
		req  types.CreateListingRequest
		want error
	}{
		{"zero quantity", valid(func(r *types.CreateListingRequest) { r.Quantity = 0 }), types.ErrInvalidQuantity},
		{"zero price", valid(func(r *types.CreateListingRequest) { r.PricePerUnit = big.NewInt(0) }), types.ErrInvalidPrice},
		{"missing price", valid(func(r *types.CreateListingRequest) { r.PricePerUnit = nil }), types.ErrInvalidPrice},
		{"zero duration", valid(func(r *types.CreateListingRequest) { r.Duration = 0 }), types.ErrInvalidDuration},
		{"duration past end of time", valid(func(r *types.CreateListingRequest) { r.Duration = math.MaxUint64 }), types.ErrInvalidDuration},
		{"duration one past end of time", valid(func(r *types.CreateListingRequest) {
			r.Duration = math.MaxUint64 - uint64(startTime.Unix()) + 1
		}), types.ErrInvalidDuration},
		{"unknown item type", valid(func(r *types.CreateListingRequest) { r.ItemType = 9 }), types.ErrInvalidItemType},
		{"ERC721 without contract", valid(func(r *types.CreateListingRequest) {
			r.ItemType = types.ItemERC721
		}), types.ErrInvalidTokenContract},
		{"ERC721 at non token address", valid(func(r *types.CreateListingRequest) {
			r.ItemType, r.TokenContract = types.ItemERC721, f.usdc.Address()
		}), types.ErrInvalidTokenContract},
		{"ERC721 quantity two", valid(func(r *types.CreateListingRequest) {
			r.ItemType, r.TokenContract, r.TokenID, r.Quantity = types.ItemERC721, f.nft.Address(), big.NewInt(1), 2
		}), types.ErrERC721QuantityMustBeOne},
		{"ERC721 not owner", valid(func(r *types.CreateListingRequest) {
			r.ItemType, r.TokenContract, r.TokenID = types.ItemERC721, f.nft.Address(), big.NewInt(2)
		}), types.ErrNotTokenOwner},
		{"ERC721 nonexistent token", valid(func(r *types.CreateListingRequest) {
			r.ItemType, r.TokenContract, r.TokenID = types.ItemERC721, f.nft.Address(), big.NewInt(3)
		}), types.ErrNotTokenOwner},
		{"ERC1155 insufficient balance", valid(func(r *types.CreateListingRequest) {
			r.ItemType, r.TokenContract, r.TokenID, r.Quantity = types.ItemERC1155, f.items.Address(), big.NewInt(5), 4
		}), types.ErrInsufficientTokenBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.market.CreateListing(ctx, seller, tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, f.market.GetListingsBySeller(ctx, seller))
}

func TestCreateListingLongestDuration(t *testing.T) {
	f := newFixture(t)
	duration := math.MaxUint64 - uint64(startTime.Unix())
	id := f.listPhysical(t, 1, 1, duration)

	listing := f.listing(t, id)
	assert.Equal(t, uint64(math.MaxUint64), listing.ExpirationTime)

	_, err := f.market.Purchase(context.Background(), f.buyer, f.request(t, id, 1))
	require.NoError(t, err)
}

func TestUpdateListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.listPhysical(t, 5, 500, 3600)

	require.NoError(t, f.market.UpdateListing(ctx, seller, id, types.UpdateListingRequest{PricePerUnit: usdcUnits(400), Quantity: 8}))
	listing := f.listing(t, id)
	assertBig(t, usdcUnits(400), listing.PricePerUnit)
	assert.Equal(t, uint64(8), listing.Quantity)

	require.ErrorIs(t, f.market.UpdateListing(ctx, seller, id, types.UpdateListingRequest{PricePerUnit: big.NewInt(0), Quantity: 1}), types.ErrInvalidPrice)
	require.ErrorIs(t, f.market.UpdateListing(ctx, seller, id, types.UpdateListingRequest{PricePerUnit: big.NewInt(1), Quantity: 0}), types.ErrInvalidQuantity)

	nftListing := f.listERC721(t, 7, 100)
	require.ErrorIs(t, f.market.UpdateListing(ctx, seller, nftListing, types.UpdateListingRequest{PricePerUnit: big.NewInt(1), Quantity: 2}), types.ErrERC721QuantityMustBeOne)
	require.NoError(t, f.market.UpdateListing(ctx, seller, nftListing, types.UpdateListingRequest{PricePerUnit: usdcUnits(90), Quantity: 1}))
}

func TestCancelListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.listPhysical(t, 5, 500, 3600)

	require.NoError(t, f.market.CancelListing(ctx, seller, id))
	assert.Equal(t, types.ListingCancelled, f.listing(t, id).Status)
	cancelled, ok := f.logs[len(f.logs)-1].Event.(types.ListingCancelledEvent)
	require.True(t, ok)
	assert.Equal(t, id, cancelled.ListingID)
	assert.Equal(t, "ListingCancelled", cancelled.EventName())

	// Terminal
	require.ErrorIs(t, f.market.CancelListing(ctx, seller, id), types.ErrListingNotActive)
	require.ErrorIs(t, f.market.UpdateListing(ctx, seller, id, types.UpdateListingRequest{PricePerUnit: big.NewInt(1), Quantity: 1}), types.ErrListingNotActive)
	_, err := f.market.Purchase(ctx, f.buyer, f.request(t, id, 1))
	require.ErrorIs(t, err, types.ErrListingNotActive)

	require.ErrorIs(t, f.market.CancelListing(ctx, seller, common.HexToHash("0xdead")), types.ErrInvalidListing)
}

func TestUnauthorizedMutationsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.listPhysical(t, 5, 500, 3600)

	require.ErrorIs(t, f.market.CancelListing(ctx, stranger, id), types.ErrNotSeller)
	require.ErrorIs(t, f.market.UpdateListing(ctx, stranger, id, types.UpdateListingRequest{PricePerUnit: big.NewInt(1), Quantity: 1}), types.ErrNotSeller)

	_, err := f.market.ExpireListings(ctx, seller, []common.Hash{id})
	require.ErrorIs(t, err, types.ErrNotOwner)
	require.ErrorIs(t, f.market.Pause(ctx, seller), types.ErrNotOwner)
	require.ErrorIs(t, f.market.Unpause(ctx, seller), types.ErrNotOwner)
	require.ErrorIs(t, f.market.UpdateFeeRecipient(ctx, seller, seller), types.ErrNotOwner)
	require.ErrorIs(t, f.market.TransferOwnership(ctx, seller, seller), types.ErrNotOwner)
	require.ErrorIs(t, f.protocol.EmergencyWithdraw(ctx, seller, f.usdc.Address(), big.NewInt(1)), types.ErrNotOwner)

	listing := f.listing(t, id)
	assert.Equal(t, types.ListingActive, listing.Status)
	assert.Equal(t, feeRecipient, f.market.FeeRecipient(ctx))
	assert.Equal(t, types.ClassAuthorization, types.ClassOf(f.market.CancelListing(ctx, stranger, id)))
}

func TestExpireListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	active := f.listPhysical(t, 5, 500, 3600)
	cancelled := f.listPhysical(t, 5, 500, 3600)
	require.NoError(t, f.market.CancelListing(ctx, seller, cancelled))

	n, err := f.market.ExpireListings(ctx, owner, []common.Hash{active, cancelled, common.HexToHash("0x01")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, types.ListingExpired, f.listing(t, active).Status)
	assert.Equal(t, types.ListingCancelled, f.listing(t, cancelled).Status)
	expired, ok := f.logs[len(f.logs)-1].Event.(types.ListingExpiredEvent)
	require.True(t, ok)
	assert.Equal(t, active, expired.ListingID)
	assert.Equal(t, "ListingExpired", expired.EventName())

	// Idempotent
	n, err = f.market.ExpireListings(ctx, owner, []common.Hash{active})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGetActiveListingsBySeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []common.Hash
	for i := 0; i < 5; i++ {
		ids = append(ids, f.listPhysical(t, 1, int64(i+1), 3600))
	}
	require.NoError(t, f.market.CancelListing(ctx, seller, ids[1]))
	active := []common.Hash{ids[0], ids[2], ids[3], ids[4]}

	tests := []struct {
		offset, limit uint64
		want          []common.Hash
	}{
		{0, 10, active},
		{0, 2, active[:2]},
		{1, 2, active[1:3]},
		{3, 5, active[3:]},
		{4, 1, nil},
		{9, 1, nil},
		{0, 0, nil},
	}

	for _, tt := range tests {
		got := f.market.GetActiveListingsBySeller(ctx, seller, tt.offset, tt.limit)
		require.NotNil(t, got)
		gotIDs := make([]common.Hash, 0, len(got))
		for _, l := range got {
			gotIDs = append(gotIDs, l.ID)
		}
		if len(tt.want) == 0 {
			assert.Empty(t, gotIDs, "offset %d limit %d", tt.offset, tt.limit)
			continue
		}
		assert.Equal(t, tt.want, gotIDs, "offset %d limit %d", tt.offset, tt.limit)
	}

	assert.Len(t, f.market.GetListingsBySeller(ctx, seller), 5)
}

func TestMarketplaceAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.market.UpdateFeeRecipient(ctx, owner, common.Address{}), types.ErrInvalidFeeRecipient)
	require.NoError(t, f.market.UpdateFeeRecipient(ctx, owner, stranger))
	assert.Equal(t, stranger, f.market.FeeRecipient(ctx))

	updated, ok := f.logs[len(f.logs)-1].Event.(types.MarketplaceFeeRecipientUpdated)
	require.True(t, ok)
	assert.Equal(t, feeRecipient, updated.OldRecipient)

	require.NoError(t, f.market.Pause(ctx, owner))
	assert.True(t, f.market.Paused(ctx))
	_, err := f.market.CreateListing(ctx, seller, types.CreateListingRequest{ItemType: types.ItemPhysical, Quantity: 1, PricePerUnit: big.NewInt(1), Duration: 1})
	require.ErrorIs(t, err, types.ErrPaused)
	require.NoError(t, f.market.Unpause(ctx, owner))

	id := f.listPhysical(t, 1, 1, 60)
	require.NoError(t, f.market.Pause(ctx, owner))
	_, err = f.market.Purchase(ctx, f.buyer, f.request(t, id, 1))
	require.ErrorIs(t, err, types.ErrPaused)
	// Sellers can still withdraw while paused
	require.NoError(t, f.market.CancelListing(ctx, seller, id))

	require.NoError(t, f.market.TransferOwnership(ctx, owner, stranger))
	assert.Equal(t, stranger, f.market.Owner(ctx))
}
