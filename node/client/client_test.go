package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/node"
	"github.com/vorpalengineering/usdc-market/types"
	"github.com/vorpalengineering/usdc-market/utils"
)

const (
	ownerKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	buyerKeyHex  = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	sellerKeyHex = "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
	adminKey     = "client-test-key"
)

var seller = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

func TestVerify(t *testing.T) {
	t.Run("successful verification", func(t *testing.T) {
		// Create mock server
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Verify request method and path
			if r.Method != http.MethodPost {
				t.Errorf("Expected POST request, got %s", r.Method)
			}
			if r.URL.Path != "/protocol/verify" {
				t.Errorf("Expected /protocol/verify path, got %s", r.URL.Path)
			}

			// Decode request body
			var req types.PaymentIntentRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("Failed to decode request: %v", err)
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(types.VerifyResponse{IsValid: true})
		}))
		defer server.Close()

		mc := NewMarketClient(server.URL)
		resp, err := mc.Verify(context.Background(), &types.PaymentIntent{Amount: big.NewInt(1)})
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if !resp.IsValid {
			t.Errorf("Expected IsValid=true, got false")
		}
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		mc := NewMarketClient(server.URL)
		_, err := mc.Verify(context.Background(), &types.PaymentIntent{})
		if err == nil {
			t.Fatal("Expected error for 500 status, got nil")
		}
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
		assert.Equal(t, "unexpected status code: 500", apiErr.Error())
	})
}

func TestAPIErrorDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(types.ErrorResponse{
			Error:   "ListingNotActive",
			Message: "Listing not active",
			Class:   types.ClassStateConflict,
		})
	}))
	defer server.Close()

	mc := NewMarketClient(server.URL)
	_, err := mc.GetPurchase(context.Background(), common.Hash{1})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "ListingNotActive", apiErr.Response.Error)
	assert.Equal(t, types.ClassStateConflict, apiErr.Response.Class)
}

func TestAPIKeyOnlySentToAdmin(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Path+" "+r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	mc := NewMarketClient(server.URL+"/", WithAPIKey("secret"))
	ctx := context.Background()
	require.NoError(t, mc.MintUSDC(ctx, seller, big.NewInt(1)))
	_, err := mc.Health(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/admin/usdc/mint Bearer secret",
		"/health ",
	}, seen)
}

func TestSignedAccountCalls(t *testing.T) {
	buyerKey, err := crypto.HexToECDSA(buyerKeyHex)
	require.NoError(t, err)
	buyer := crypto.PubkeyToAddress(buyerKey.PublicKey)

	var deadlines []uint64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chain" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(types.ChainInfoResponse{ChainID: "31337", Timestamp: 1_000})
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("Failed to read body: %v", err)
		}
		deadline, err := strconv.ParseUint(r.Header.Get(types.AccountDeadlineHeader), 10, 64)
		if err != nil {
			t.Errorf("Bad deadline header: %v", err)
		}
		sig, err := hexutil.Decode(r.Header.Get(types.AccountSignatureHeader))
		if err != nil {
			t.Errorf("Bad signature header: %v", err)
		}

		digest, err := utils.HashAccountCall(utils.NodeDomain(big.NewInt(31337)), &types.AccountCall{
			From:     buyer,
			Method:   r.Method,
			Path:     r.URL.Path,
			BodyHash: crypto.Keccak256Hash(body),
			Deadline: deadline,
		})
		assert.NoError(t, err)
		signer, err := utils.RecoverSigner(digest, sig)
		assert.NoError(t, err)
		assert.Equal(t, buyer, signer)

		deadlines = append(deadlines, deadline)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ctx := context.Background()
	transfer := &types.TransferRequest{From: buyer, To: seller, Amount: big.NewInt(1)}

	unsigned := NewMarketClient(server.URL)
	err = unsigned.Transfer(ctx, transfer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no account key")
	assert.Empty(t, deadlines)

	mc := NewMarketClient(server.URL, WithAccountKeys(buyerKey))
	require.NoError(t, mc.Transfer(ctx, transfer))
	require.NoError(t, mc.Transfer(ctx, transfer))

	// Identical calls get distinct deadlines so the node does not see a replay
	assert.Equal(t, []uint64{1_300, 1_301}, deadlines)
}

// TestAgainstNode drives a full listing and purchase through a running node.
func TestAgainstNode(t *testing.T) {
	ownerKey, err := crypto.HexToECDSA(ownerKeyHex)
	require.NoError(t, err)
	buyerKey, err := crypto.HexToECDSA(buyerKeyHex)
	require.NoError(t, err)
	buyer := crypto.PubkeyToAddress(buyerKey.PublicKey)
	sellerKey, err := crypto.HexToECDSA(sellerKeyHex)
	require.NoError(t, err)

	cfg := &node.NodeConfig{
		Server: node.ServerConfig{Host: "127.0.0.1", Port: 8545},
		Chain:  node.ChainConfig{Network: "eip155:31337"},
		Genesis: node.GenesisConfig{
			Collections: node.CollectionsConfig{ERC721Name: "Collectibles", ERC721Symbol: "CLT"},
		},
		Auth:  node.AuthConfig{APIKeys: []string{adminKey}},
		Log:   node.LogConfig{Level: "error", Format: "json"},
		Owner: node.OwnerConfig{Address: crypto.PubkeyToAddress(ownerKey.PublicKey)},
	}
	clock := chain.NewManualClock(time.Unix(1_700_000_000, 0))
	n, err := node.NewNode(cfg, node.WithClock(clock), node.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer n.Close()

	server := httptest.NewServer(n.Router())
	defer server.Close()

	ctx := context.Background()
	mc := NewMarketClient(server.URL, WithAPIKey(adminKey), WithAccountKeys(buyerKey, sellerKey))

	health, err := mc.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	info, err := mc.ChainInfo(ctx)
	require.NoError(t, err)

	// Fund and approve the buyer
	require.NoError(t, mc.MintUSDC(ctx, buyer, big.NewInt(1_000_000_000)))
	require.NoError(t, mc.Approve(ctx, &types.ApproveRequest{
		From:    buyer,
		Spender: info.Contracts.PaymentProtocol,
		Amount:  big.NewInt(1_000_000_000),
	}))

	listingID, err := mc.CreateListing(ctx, seller, types.CreateListingRequest{
		ItemType:     types.ItemPhysical,
		Quantity:     3,
		PricePerUnit: big.NewInt(10_000_000),
		Duration:     3600,
	})
	require.NoError(t, err)

	quote, err := mc.Listing(ctx, listingID, 2)
	require.NoError(t, err)
	nonce, err := mc.Nonce(ctx, buyer)
	require.NoError(t, err)

	intent := &types.PaymentIntent{
		ID:          crypto.Keccak256Hash([]byte("client-order")),
		Sender:      buyer,
		Recipient:   info.Contracts.Marketplace,
		Amount:      quote.Cost.IntentAmount(),
		ProtocolFee: quote.Cost.ProtocolFee,
		Deadline:    uint64(clock.Now().Add(time.Hour).Unix()),
		Nonce:       nonce,
	}
	domain := utils.PaymentProtocolDomain(big.NewInt(31337), info.Contracts.PaymentProtocol)
	intent.Signature, err = utils.SignPaymentIntent(domain, intent, buyerKey)
	require.NoError(t, err)

	verify, err := mc.Verify(ctx, intent)
	require.NoError(t, err)
	require.True(t, verify.IsValid, verify.InvalidReason)

	purchase, err := mc.Purchase(ctx, buyer, types.PurchaseRequest{
		ListingID: listingID,
		Quantity:  2,
		Intent:    *intent,
		Funding:   types.FundingPreApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, purchase.TotalPrice.Cmp(big.NewInt(20_000_000)))

	fetched, err := mc.GetPurchase(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.PaymentID, fetched.PaymentID)

	status, err := mc.PaymentStatus(ctx, intent.ID)
	require.NoError(t, err)
	assert.True(t, status.Processed)

	balance, err := mc.Balance(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, "20", balance.Formatted)

	// The same signed intent cannot be replayed
	_, err = mc.Purchase(ctx, buyer, types.PurchaseRequest{
		ListingID: listingID,
		Quantity:  1,
		Intent:    *intent,
		Funding:   types.FundingPreApproved,
	})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	active, err := mc.SellerListings(ctx, seller, true, 0, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, uint64(1), active[0].Quantity)
}
