package main

import (
	"crypto/ecdsa"
	"crypto/rand"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vorpalengineering/usdc-market/fees"
	"github.com/vorpalengineering/usdc-market/types"
	"github.com/vorpalengineering/usdc-market/utils"
)

// intentCommand builds a signed purchase request for a listing, or with --to
// and --amount a signed direct payment request.
func intentCommand() {
	// Define flags
	intentFlags := flag.NewFlagSet("intent", flag.ExitOnError)
	nodeURL := nodeFlags(intentFlags)
	var output, privateKeyHex, listing, funding, to, amount string
	var quantity uint64
	var nonceOffset, validDuration int64
	intentFlags.StringVar(&output, "output", "", "File path to write JSON output")
	intentFlags.StringVar(&output, "o", "", "File path to write JSON output")
	intentFlags.StringVar(&privateKeyHex, "private-key", "", "Hex-encoded buyer private key (required)")
	intentFlags.StringVar(&listing, "listing", "", "Listing ID to purchase")
	intentFlags.Uint64Var(&quantity, "quantity", 1, "Units to purchase")
	intentFlags.StringVar(&to, "to", "", "Recipient of a direct payment (instead of --listing)")
	intentFlags.StringVar(&amount, "amount", "", "USDC amount of a direct payment")
	intentFlags.StringVar(&funding, "funding", string(types.FundingPreApproved), "Funding mode: PRE_APPROVED or DELEGATED")
	intentFlags.Int64Var(&nonceOffset, "nonce-offset", 0, "Added to the current nonce, for batches")
	intentFlags.Int64Var(&validDuration, "valid-duration", 600, "Validity duration in seconds")

	// Parse flags
	intentFlags.Parse(os.Args[2:])

	// Validate required flags
	direct := to != "" || amount != ""
	if privateKeyHex == "" || (listing == "" && !direct) || (direct && (to == "" || amount == "")) {
		fmt.Fprintln(os.Stderr, "Error: --private-key and either --listing or both --to and --amount are required")
		fmt.Fprintln(os.Stderr, "\nUsage:")
		fmt.Fprintln(os.Stderr, "  marketcli intent --private-key <hex> --listing <id> [--quantity <n>] [options]")
		fmt.Fprintln(os.Stderr, "  marketcli intent --private-key <hex> --to <address> --amount <usdc> [options]")
		intentFlags.PrintDefaults()
		os.Exit(1)
	}
	mode := types.FundingMode(strings.ToUpper(funding))
	if !mode.Valid() {
		fatalf("Error: --funding must be PRE_APPROVED or DELEGATED, got %q", funding)
	}

	key, sender := parseKey(privateKeyHex)
	mc, ctx := newClient(*nodeURL)

	// Step 1: Resolve deployment
	info, err := mc.ChainInfo(ctx)
	if err != nil {
		fatalf("Error: %v", err)
	}
	chainID, ok := new(big.Int).SetString(info.ChainID, 10)
	if !ok {
		fatalf("Error: node returned invalid chain id %q", info.ChainID)
	}

	// Step 2: Price the intent
	intent := types.PaymentIntent{
		ID:       randomHash(),
		Sender:   sender,
		Deadline: uint64(time.Now().Unix() + validDuration),
	}
	if direct {
		intent.Recipient = parseAddress("to", to)
		intent.Amount = parseUSDC("amount", amount)
		intent.ProtocolFee = fees.ProtocolFee(intent.Amount)
	} else {
		quote, err := mc.Listing(ctx, parseHash("listing", listing), quantity)
		if err != nil {
			fatalf("Error: %v", err)
		}
		intent.Recipient = info.Contracts.Marketplace
		intent.Amount = quote.Cost.IntentAmount()
		intent.ProtocolFee = quote.Cost.ProtocolFee
	}

	// Step 3: Nonce
	nonce, err := mc.Nonce(ctx, sender)
	if err != nil {
		fatalf("Error: %v", err)
	}
	intent.Nonce = nonce.Add(nonce, big.NewInt(nonceOffset))

	// Step 4: Sign
	domain := utils.PaymentProtocolDomain(chainID, info.Contracts.PaymentProtocol)
	intent.Signature, err = utils.SignPaymentIntent(domain, &intent, key)
	if err != nil {
		fatalf("Error signing intent: %v", err)
	}

	var auth *types.DelegatedTransferAuthorization
	if mode == types.FundingDelegated {
		auth = signPermit(chainID, info, &intent, key)
	}

	// Output
	if direct {
		writeOutput(types.ProcessPaymentRequest{Intent: intent, Funding: mode, Authorization: auth}, output)
		return
	}
	writeOutput(types.PurchaseRequest{
		ListingID:     parseHash("listing", listing),
		Quantity:      quantity,
		Intent:        intent,
		Funding:       mode,
		Authorization: auth,
	}, output)
}

// signPermit authorizes the payment protocol to pull the intent total
// through Permit2.
func signPermit(chainID *big.Int, info *types.ChainInfoResponse, intent *types.PaymentIntent, key *ecdsa.PrivateKey) *types.DelegatedTransferAuthorization {
	if info.Contracts.Permit2 == (common.Address{}) {
		fatalf("Error: node has delegated transfers disabled")
	}
	permitNonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		fatalf("Error generating permit nonce: %v", err)
	}
	auth := &types.DelegatedTransferAuthorization{
		Permitted: types.TokenPermissions{Token: info.Contracts.USDC, Amount: intent.Total()},
		Nonce:     permitNonce,
		Deadline:  new(big.Int).SetUint64(intent.Deadline),
	}
	domain := utils.Permit2Domain(chainID, info.Contracts.Permit2)
	auth.Signature, err = utils.SignPermit(domain, auth, info.Contracts.PaymentProtocol, key)
	if err != nil {
		fatalf("Error signing permit: %v", err)
	}
	return auth
}

func randomHash() common.Hash {
	var h common.Hash
	if _, err := rand.Read(h[:]); err != nil {
		fatalf("Error generating payment id: %v", err)
	}
	return h
}
