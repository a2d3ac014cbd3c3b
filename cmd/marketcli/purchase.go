package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/vorpalengineering/usdc-market/types"
)

func purchaseCommand() {
	// Define flags for purchase command
	purchaseFlags := flag.NewFlagSet("purchase", flag.ExitOnError)
	nodeURL := nodeFlags(purchaseFlags)
	var requestInput string
	purchaseFlags.StringVar(&requestInput, "request", "", "PurchaseRequest, or an array of them for a batch, as JSON string or file path (required)")
	purchaseFlags.StringVar(&requestInput, "r", "", "PurchaseRequest, or an array of them for a batch, as JSON string or file path (required)")

	// Parse flags
	purchaseFlags.Parse(os.Args[2:])

	// Validate required flags
	if requestInput == "" {
		fmt.Fprintln(os.Stderr, "Error: --request flag is required")
		fmt.Fprintln(os.Stderr, "\nUsage:")
		fmt.Fprintln(os.Stderr, "  marketcli purchase -r <json|file>")
		purchaseFlags.PrintDefaults()
		os.Exit(1)
	}

	mc, ctx := newClient(*nodeURL)
	data := readJSONOrFile(requestInput)

	// A JSON array is submitted as one atomic batch
	if strings.HasPrefix(strings.TrimSpace(string(data)), "[") {
		var batch []types.PurchaseRequest
		if err := json.Unmarshal(data, &batch); err != nil {
			fatalf("Error parsing batch JSON: %v", err)
		}
		if len(batch) == 0 {
			fatalf("Error: empty batch")
		}
		purchases, err := mc.BatchPurchase(ctx, batch[0].Intent.Sender, batch)
		if err != nil {
			fatalf("Error: %v", err)
		}
		writeOutput(purchases, "")
		return
	}

	var req types.PurchaseRequest
	if err := json.Unmarshal(data, &req); err != nil {
		fatalf("Error parsing purchase request JSON: %v", err)
	}
	purchase, err := mc.Purchase(ctx, req.Intent.Sender, req)
	if err != nil {
		fatalf("Error: %v", err)
	}
	writeOutput(purchase, "")
}

func payCommand() {
	payFlags := flag.NewFlagSet("pay", flag.ExitOnError)
	nodeURL := nodeFlags(payFlags)
	var requestInput string
	payFlags.StringVar(&requestInput, "request", "", "ProcessPaymentRequest as JSON string or file path (required)")
	payFlags.StringVar(&requestInput, "r", "", "ProcessPaymentRequest as JSON string or file path (required)")
	payFlags.Parse(os.Args[2:])

	if requestInput == "" {
		fmt.Fprintln(os.Stderr, "Error: --request flag is required")
		payFlags.PrintDefaults()
		os.Exit(1)
	}

	var req types.ProcessPaymentRequest
	decodeJSONOrFile(requestInput, "payment request", &req)

	mc, ctx := newClient(*nodeURL)
	resp, err := mc.ProcessPayment(ctx, &req)
	if err != nil {
		fatalf("Error: %v", err)
	}
	writeOutput(resp, "")
}

func verifyCommand() {
	// Define flags for verify command
	verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)
	nodeURL := nodeFlags(verifyFlags)
	var intentInput string
	verifyFlags.StringVar(&intentInput, "intent", "", "PaymentIntent as JSON string or file path (required)")
	verifyFlags.StringVar(&intentInput, "i", "", "PaymentIntent as JSON string or file path (required)")

	// Parse flags
	verifyFlags.Parse(os.Args[2:])

	// Validate required flags
	if intentInput == "" {
		fmt.Fprintln(os.Stderr, "Error: --intent flag is required")
		fmt.Fprintln(os.Stderr, "\nUsage:")
		fmt.Fprintln(os.Stderr, "  marketcli verify -i <json|file>")
		verifyFlags.PrintDefaults()
		os.Exit(1)
	}

	var intent types.PaymentIntent
	decodeJSONOrFile(intentInput, "intent", &intent)

	mc, ctx := newClient(*nodeURL)
	resp, err := mc.Verify(ctx, &intent)
	if err != nil {
		fatalf("Error: %v", err)
	}
	writeOutput(resp, "")
}

func hashCommand() {
	hashFlags := flag.NewFlagSet("hash", flag.ExitOnError)
	nodeURL := nodeFlags(hashFlags)
	var intentInput string
	hashFlags.StringVar(&intentInput, "intent", "", "PaymentIntent as JSON string or file path (required)")
	hashFlags.StringVar(&intentInput, "i", "", "PaymentIntent as JSON string or file path (required)")
	hashFlags.Parse(os.Args[2:])

	if intentInput == "" {
		fmt.Fprintln(os.Stderr, "Error: --intent flag is required")
		hashFlags.PrintDefaults()
		os.Exit(1)
	}

	var intent types.PaymentIntent
	decodeJSONOrFile(intentInput, "intent", &intent)

	mc, ctx := newClient(*nodeURL)
	hash, err := mc.Hash(ctx, &intent)
	if err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Println(hash.Hex())
}
