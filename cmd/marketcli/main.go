package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"os"

	"github.com/vorpalengineering/usdc-market/node/client"
)

const defaultNodeURL = "http://localhost:8545"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Parse subcommand
	subcommand := os.Args[1]

	commands := map[string]func(){
		"status":    statusCommand,
		"balance":   balanceCommand,
		"approve":   approveCommand,
		"cost":      costCommand,
		"list":      listCommand,
		"listing":   listingCommand,
		"cancel":    cancelCommand,
		"nonce":     nonceCommand,
		"intent":    intentCommand,
		"hash":      hashCommand,
		"verify":    verifyCommand,
		"purchase":  purchaseCommand,
		"pay":       payCommand,
		"purchases": purchasesCommand,
	}
	command, ok := commands[subcommand]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
	command()
}

// nodeFlags registers the --node/-n flag shared by every command.
func nodeFlags(fs *flag.FlagSet) *string {
	var nodeURL string
	fs.StringVar(&nodeURL, "node", defaultNodeURL, "URL of the marketd node")
	fs.StringVar(&nodeURL, "n", defaultNodeURL, "URL of the marketd node")
	return &nodeURL
}

// newClient builds a client for nodeURL. accountKeys sign the calls that act
// for those accounts.
func newClient(nodeURL string, accountKeys ...*ecdsa.PrivateKey) (*client.MarketClient, context.Context) {
	mc := client.NewMarketClient(nodeURL,
		client.WithAPIKey(os.Getenv("USDCMARKET_API_KEY")),
		client.WithAccountKeys(accountKeys...),
	)
	return mc, context.Background()
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "marketcli - CLI tool for the USDC marketplace node")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  marketcli <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  status      Show chain, protocol and marketplace status")
	fmt.Fprintln(os.Stderr, "  balance     Show the USDC balance of an address")
	fmt.Fprintln(os.Stderr, "  approve     Approve the payment protocol (or another spender) for USDC")
	fmt.Fprintln(os.Stderr, "  cost        Break down what a buyer pays for a base amount")
	fmt.Fprintln(os.Stderr, "  list        Create a listing")
	fmt.Fprintln(os.Stderr, "  listing     Show a listing with a cost quote")
	fmt.Fprintln(os.Stderr, "  cancel      Cancel a listing")
	fmt.Fprintln(os.Stderr, "  nonce       Show the current payment nonce of a sender")
	fmt.Fprintln(os.Stderr, "  intent      Build and sign a purchase request for a listing")
	fmt.Fprintln(os.Stderr, "  hash        Compute the EIP-712 hash of a payment intent")
	fmt.Fprintln(os.Stderr, "  verify      Check a signed payment intent without executing it")
	fmt.Fprintln(os.Stderr, "  purchase    Submit a signed purchase request")
	fmt.Fprintln(os.Stderr, "  pay         Execute a signed payment intent directly")
	fmt.Fprintln(os.Stderr, "  purchases   List purchases of a buyer")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Examples:")
	fmt.Fprintln(os.Stderr, "  marketcli status -n http://localhost:8545")
	fmt.Fprintln(os.Stderr, "  marketcli list --private-key 0x... --price 25 --quantity 10")
	fmt.Fprintln(os.Stderr, "  marketcli intent --private-key 0x... --listing 0xabc... --quantity 2 -o req.json")
	fmt.Fprintln(os.Stderr, "  marketcli purchase --request req.json")
}
