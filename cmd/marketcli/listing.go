package main

import (
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/vorpalengineering/usdc-market/types"
)

func listCommand() {
	// Define flags for list command
	listFlags := flag.NewFlagSet("list", flag.ExitOnError)
	nodeURL := nodeFlags(listFlags)
	var privateKeyHex, itemType, tokenContract, tokenID, price, metadataURI, tags string
	var quantity, duration uint64
	listFlags.StringVar(&privateKeyHex, "private-key", "", "Hex-encoded seller private key (required)")
	listFlags.StringVar(&itemType, "type", "PHYSICAL", "Item type: PHYSICAL, ERC721 or ERC1155")
	listFlags.StringVar(&tokenContract, "token-contract", "", "Token contract address (ERC721/ERC1155)")
	listFlags.StringVar(&tokenID, "token-id", "0", "Token ID (ERC721/ERC1155)")
	listFlags.StringVar(&price, "price", "", "USDC price per unit, e.g. 25.5 (required)")
	listFlags.Uint64Var(&quantity, "quantity", 1, "Units for sale")
	listFlags.Uint64Var(&duration, "duration", 7*24*3600, "Listing lifetime in seconds")
	listFlags.StringVar(&metadataURI, "metadata", "", "Metadata URI")
	listFlags.StringVar(&tags, "tags", "", "Comma separated tags")

	// Parse flags
	listFlags.Parse(os.Args[2:])

	// Validate required flags
	if privateKeyHex == "" || price == "" {
		fmt.Fprintln(os.Stderr, "Error: --private-key and --price flags are required")
		fmt.Fprintln(os.Stderr, "\nUsage:")
		fmt.Fprintln(os.Stderr, "  marketcli list --private-key <hex> --price <usdc> [options]")
		listFlags.PrintDefaults()
		os.Exit(1)
	}

	parsedType, err := types.ParseItemType(strings.ToUpper(itemType))
	if err != nil {
		fatalf("Error: %v", err)
	}
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		fatalf("Error: --token-id must be a decimal integer, got %q", tokenID)
	}

	req := types.CreateListingRequest{
		ItemType:     parsedType,
		TokenID:      id,
		Quantity:     quantity,
		PricePerUnit: parseUSDC("price", price),
		Duration:     duration,
		MetadataURI:  metadataURI,
	}
	if tokenContract != "" {
		req.TokenContract = parseAddress("token-contract", tokenContract)
	}
	if tags != "" {
		req.Tags = strings.Split(tags, ",")
	}

	key, seller := parseKey(privateKeyHex)
	mc, ctx := newClient(*nodeURL, key)
	listingID, err := mc.CreateListing(ctx, seller, req)
	if err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Println(listingID.Hex())
}

func listingCommand() {
	listingFlags := flag.NewFlagSet("listing", flag.ExitOnError)
	nodeURL := nodeFlags(listingFlags)
	var id string
	var quantity uint64
	listingFlags.StringVar(&id, "id", "", "Listing ID (required)")
	listingFlags.Uint64Var(&quantity, "quantity", 0, "Units to quote (default: all remaining)")
	listingFlags.Parse(os.Args[2:])

	if id == "" {
		fmt.Fprintln(os.Stderr, "Error: --id flag is required")
		listingFlags.PrintDefaults()
		os.Exit(1)
	}

	mc, ctx := newClient(*nodeURL)
	quote, err := mc.Listing(ctx, parseHash("id", id), quantity)
	if err != nil {
		fatalf("Error: %v", err)
	}
	writeOutput(quote, "")
}

func cancelCommand() {
	cancelFlags := flag.NewFlagSet("cancel", flag.ExitOnError)
	nodeURL := nodeFlags(cancelFlags)
	var id, privateKeyHex string
	cancelFlags.StringVar(&id, "id", "", "Listing ID (required)")
	cancelFlags.StringVar(&privateKeyHex, "private-key", "", "Hex-encoded seller private key (required)")
	cancelFlags.Parse(os.Args[2:])

	if id == "" || privateKeyHex == "" {
		fmt.Fprintln(os.Stderr, "Error: --id and --private-key flags are required")
		cancelFlags.PrintDefaults()
		os.Exit(1)
	}

	key, seller := parseKey(privateKeyHex)
	mc, ctx := newClient(*nodeURL, key)
	if err := mc.CancelListing(ctx, seller, parseHash("id", id)); err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Println("Listing cancelled")
}

func purchasesCommand() {
	purchasesFlags := flag.NewFlagSet("purchases", flag.ExitOnError)
	nodeURL := nodeFlags(purchasesFlags)
	var buyer string
	purchasesFlags.StringVar(&buyer, "buyer", "", "Buyer address (required)")
	purchasesFlags.Parse(os.Args[2:])

	if buyer == "" {
		fmt.Fprintln(os.Stderr, "Error: --buyer flag is required")
		purchasesFlags.PrintDefaults()
		os.Exit(1)
	}

	mc, ctx := newClient(*nodeURL)
	purchases, err := mc.BuyerPurchases(ctx, parseAddress("buyer", buyer))
	if err != nil {
		fatalf("Error: %v", err)
	}
	writeOutput(purchases, "")
}
