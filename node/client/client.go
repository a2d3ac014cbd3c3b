// Package client is a typed HTTP client for a marketd node.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vorpalengineering/usdc-market/types"
	"github.com/vorpalengineering/usdc-market/utils"
)

// APIError is a non-2xx response from the node.
type APIError struct {
	StatusCode int
	Response   types.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Response.Error == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (%d): %s", e.Response.Error, e.StatusCode, e.Response.Message)
}

// accountCallTTL is how long past chain time a signed account call stays
// valid.
const accountCallTTL = 300

type MarketClient struct {
	nodeURL     string
	apiKey      string
	accountKeys map[common.Address]*ecdsa.PrivateKey
	httpClient  *http.Client

	mu           sync.Mutex
	lastDeadline uint64
}

type Option func(*MarketClient)

// WithAPIKey sets the bearer key sent to /admin endpoints.
func WithAPIKey(key string) Option {
	return func(c *MarketClient) { c.apiKey = key }
}

// WithAccountKeys sets the keys used to sign calls that act for an account:
// transfers, approvals and listing changes.
func WithAccountKeys(keys ...*ecdsa.PrivateKey) Option {
	return func(c *MarketClient) {
		for _, key := range keys {
			c.accountKeys[crypto.PubkeyToAddress(key.PublicKey)] = key
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *MarketClient) { c.httpClient = httpClient }
}

func NewMarketClient(nodeURL string, opts ...Option) *MarketClient {
	c := &MarketClient{
		nodeURL:     strings.TrimRight(nodeURL, "/"),
		accountKeys: make(map[common.Address]*ecdsa.PrivateKey),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends body as JSON to path and decodes a 2xx response into out. out may
// be nil for endpoints that answer 204.
func (c *MarketClient) do(ctx context.Context, method, path string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	return c.send(ctx, method, path, data, nil, out)
}

// doSigned is do for calls that name from as the acting account. The request
// is signed with from's key, which must have been given via WithAccountKeys.
func (c *MarketClient) doSigned(ctx context.Context, method, path string, from common.Address, body, out any) error {
	key, ok := c.accountKeys[from]
	if !ok {
		return fmt.Errorf("no account key for %s", from.Hex())
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	info, err := c.ChainInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain info: %w", err)
	}
	chainID, ok := new(big.Int).SetString(info.ChainID, 10)
	if !ok {
		return fmt.Errorf("invalid chain id %q", info.ChainID)
	}

	call := &types.AccountCall{
		From:     from,
		Method:   method,
		Path:     path,
		BodyHash: crypto.Keccak256Hash(data),
		Deadline: c.nextDeadline(info.Timestamp + accountCallTTL),
	}
	sig, err := utils.SignAccountCall(utils.NodeDomain(chainID), call, key)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	headers := map[string]string{
		types.AccountDeadlineHeader:  strconv.FormatUint(call.Deadline, 10),
		types.AccountSignatureHeader: sig.String(),
	}
	return c.send(ctx, method, path, data, headers, out)
}

// nextDeadline returns a deadline of at least earliest that no earlier signed
// call from this client used, so repeating an identical call is not a replay.
func (c *MarketClient) nextDeadline(earliest uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if earliest <= c.lastDeadline {
		earliest = c.lastDeadline + 1
	}
	c.lastDeadline = earliest
	return earliest
}

func (c *MarketClient) send(ctx context.Context, method, path string, data []byte, headers map[string]string, out any) error {
	var reader io.Reader
	if data != nil {
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.nodeURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" && strings.HasPrefix(path, "/admin/") {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	// Make request to node
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// Check response
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr.Response)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	// Decode response
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *MarketClient) Health(ctx context.Context) (*types.HealthResponse, error) {
	var resp types.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *MarketClient) ChainInfo(ctx context.Context) (*types.ChainInfoResponse, error) {
	var resp types.ChainInfoResponse
	if err := c.do(ctx, http.MethodGet, "/chain", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tokens

func (c *MarketClient) Balance(ctx context.Context, owner common.Address) (*types.BalanceResponse, error) {
	var resp types.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/usdc/balances/"+owner.Hex(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *MarketClient) Allowance(ctx context.Context, owner, spender common.Address) (*types.AllowanceResponse, error) {
	var resp types.AllowanceResponse
	path := fmt.Sprintf("/usdc/allowances/%s/%s", owner.Hex(), spender.Hex())
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *MarketClient) Approve(ctx context.Context, req *types.ApproveRequest) error {
	return c.doSigned(ctx, http.MethodPost, "/usdc/approve", req.From, req, nil)
}

func (c *MarketClient) Transfer(ctx context.Context, req *types.TransferRequest) error {
	return c.doSigned(ctx, http.MethodPost, "/usdc/transfer", req.From, req, nil)
}

func (c *MarketClient) MintUSDC(ctx context.Context, to common.Address, amount *big.Int) error {
	return c.do(ctx, http.MethodPost, "/admin/usdc/mint", types.MintRequest{To: to, Amount: amount}, nil)
}

// Payment protocol

func (c *MarketClient) ProtocolStatus(ctx context.Context) (*types.ProtocolStatusResponse, error) {
	var resp types.ProtocolStatusResponse
	if err := c.do(ctx, http.MethodGet, "/protocol", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *MarketClient) Nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	var resp types.NonceResponse
	if err := c.do(ctx, http.MethodGet, "/protocol/nonces/"+sender.Hex(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Nonce, nil
}

func (c *MarketClient) Hash(ctx context.Context, intent *types.PaymentIntent) (common.Hash, error) {
	var resp types.HashResponse
	if err := c.do(ctx, http.MethodPost, "/protocol/hash", types.PaymentIntentRequest{Intent: *intent}, &resp); err != nil {
		return common.Hash{}, err
	}
	return resp.Hash, nil
}

func (c *MarketClient) Verify(ctx context.Context, intent *types.PaymentIntent) (*types.VerifyResponse, error) {
	var resp types.VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/protocol/verify", types.PaymentIntentRequest{Intent: *intent}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *MarketClient) PaymentStatus(ctx context.Context, id common.Hash) (*types.PaymentStatusResponse, error) {
	var resp types.PaymentStatusResponse
	if err := c.do(ctx, http.MethodGet, "/protocol/payments/"+id.Hex(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *MarketClient) ProcessPayment(ctx context.Context, req *types.ProcessPaymentRequest) (*types.ProcessPaymentResponse, error) {
	var resp types.ProcessPaymentResponse
	if err := c.do(ctx, http.MethodPost, "/protocol/payments", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Marketplace

func (c *MarketClient) Cost(ctx context.Context, base *big.Int) (*types.CostBreakdown, error) {
	var resp types.CostBreakdown
	if err := c.do(ctx, http.MethodGet, "/marketplace/cost?base="+base.String(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Listing quotes quantity units of a listing. Zero quotes every remaining
// unit.
func (c *MarketClient) Listing(ctx context.Context, id common.Hash, quantity uint64) (*types.ListingQuote, error) {
	path := "/marketplace/listings/" + id.Hex()
	if quantity > 0 {
		path += fmt.Sprintf("?quantity=%d", quantity)
	}
	var resp types.ListingQuote
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *MarketClient) SellerListings(ctx context.Context, seller common.Address, activeOnly bool, offset, limit uint64) ([]*types.Listing, error) {
	path := "/marketplace/sellers/" + seller.Hex() + "/listings"
	if activeOnly {
		query := url.Values{}
		query.Set("active", "true")
		query.Set("offset", fmt.Sprint(offset))
		query.Set("limit", fmt.Sprint(limit))
		path += "?" + query.Encode()
	}
	var resp types.ListingsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Listings, nil
}

func (c *MarketClient) CreateListing(ctx context.Context, seller common.Address, req types.CreateListingRequest) (common.Hash, error) {
	var resp types.CreateListingResponse
	call := types.CreateListingCall{From: seller, CreateListingRequest: req}
	if err := c.doSigned(ctx, http.MethodPost, "/marketplace/listings", seller, call, &resp); err != nil {
		return common.Hash{}, err
	}
	return resp.ListingID, nil
}

func (c *MarketClient) UpdateListing(ctx context.Context, seller common.Address, id common.Hash, req types.UpdateListingRequest) error {
	call := types.UpdateListingCall{From: seller, UpdateListingRequest: req}
	return c.doSigned(ctx, http.MethodPut, "/marketplace/listings/"+id.Hex(), seller, call, nil)
}

func (c *MarketClient) CancelListing(ctx context.Context, seller common.Address, id common.Hash) error {
	return c.doSigned(ctx, http.MethodPost, "/marketplace/listings/"+id.Hex()+"/cancel", seller, types.CancelListingCall{From: seller}, nil)
}

func (c *MarketClient) Purchase(ctx context.Context, buyer common.Address, req types.PurchaseRequest) (*types.Purchase, error) {
	var resp types.Purchase
	call := types.PurchaseCall{Buyer: buyer, PurchaseRequest: req}
	if err := c.do(ctx, http.MethodPost, "/marketplace/purchases", call, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *MarketClient) BatchPurchase(ctx context.Context, buyer common.Address, reqs []types.PurchaseRequest) ([]*types.Purchase, error) {
	var resp types.PurchasesResponse
	call := types.BatchPurchaseCall{Buyer: buyer, Requests: reqs}
	if err := c.do(ctx, http.MethodPost, "/marketplace/purchases/batch", call, &resp); err != nil {
		return nil, err
	}
	return resp.Purchases, nil
}

func (c *MarketClient) GetPurchase(ctx context.Context, id common.Hash) (*types.Purchase, error) {
	var resp types.Purchase
	if err := c.do(ctx, http.MethodGet, "/marketplace/purchases/"+id.Hex(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *MarketClient) BuyerPurchases(ctx context.Context, buyer common.Address) ([]*types.Purchase, error) {
	var resp types.PurchasesResponse
	if err := c.do(ctx, http.MethodGet, "/marketplace/buyers/"+buyer.Hex()+"/purchases", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Purchases, nil
}

func (c *MarketClient) ExpireListings(ctx context.Context, ids []common.Hash) (int, error) {
	var resp types.ExpireListingsResponse
	if err := c.do(ctx, http.MethodPost, "/admin/marketplace/expire", types.ExpireListingsRequest{ListingIDs: ids}, &resp); err != nil {
		return 0, err
	}
	return resp.Expired, nil
}
