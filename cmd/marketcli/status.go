package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vorpalengineering/usdc-market/types"
)

func statusCommand() {
	statusFlags := flag.NewFlagSet("status", flag.ExitOnError)
	nodeURL := nodeFlags(statusFlags)
	statusFlags.Parse(os.Args[2:])

	mc, ctx := newClient(*nodeURL)
	info, err := mc.ChainInfo(ctx)
	if err != nil {
		fatalf("Error: %v", err)
	}
	protocolStatus, err := mc.ProtocolStatus(ctx)
	if err != nil {
		fatalf("Error: %v", err)
	}

	writeOutput(map[string]any{
		"chain":    info,
		"protocol": protocolStatus,
	}, "")
}

func balanceCommand() {
	balanceFlags := flag.NewFlagSet("balance", flag.ExitOnError)
	nodeURL := nodeFlags(balanceFlags)
	var address string
	balanceFlags.StringVar(&address, "address", "", "Account address (required)")
	balanceFlags.StringVar(&address, "a", "", "Account address (required)")
	balanceFlags.Parse(os.Args[2:])

	if address == "" {
		fmt.Fprintln(os.Stderr, "Error: --address flag is required")
		balanceFlags.PrintDefaults()
		os.Exit(1)
	}

	mc, ctx := newClient(*nodeURL)
	balance, err := mc.Balance(ctx, parseAddress("address", address))
	if err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Printf("%s USDC (%s)\n", balance.Formatted, balance.Balance)
}

func approveCommand() {
	approveFlags := flag.NewFlagSet("approve", flag.ExitOnError)
	nodeURL := nodeFlags(approveFlags)
	var privateKeyHex, spender, amount string
	approveFlags.StringVar(&privateKeyHex, "private-key", "", "Hex-encoded owner private key (required)")
	approveFlags.StringVar(&spender, "spender", "", "Spender address (default: payment protocol)")
	approveFlags.StringVar(&amount, "amount", "", "USDC amount, e.g. 100.5 (required)")
	approveFlags.Parse(os.Args[2:])

	if privateKeyHex == "" || amount == "" {
		fmt.Fprintln(os.Stderr, "Error: --private-key and --amount flags are required")
		approveFlags.PrintDefaults()
		os.Exit(1)
	}

	key, owner := parseKey(privateKeyHex)
	mc, ctx := newClient(*nodeURL, key)
	var spenderAddr common.Address
	if spender != "" {
		spenderAddr = parseAddress("spender", spender)
	} else {
		info, err := mc.ChainInfo(ctx)
		if err != nil {
			fatalf("Error: %v", err)
		}
		spenderAddr = info.Contracts.PaymentProtocol
	}

	req := &types.ApproveRequest{
		From:    owner,
		Spender: spenderAddr,
		Amount:  parseUSDC("amount", amount),
	}
	if err := mc.Approve(ctx, req); err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Printf("Approved %s for %s USDC\n", spenderAddr.Hex(), amount)
}

func costCommand() {
	costFlags := flag.NewFlagSet("cost", flag.ExitOnError)
	nodeURL := nodeFlags(costFlags)
	var base string
	costFlags.StringVar(&base, "base", "", "Base USDC amount, e.g. 1000 (required)")
	costFlags.Parse(os.Args[2:])

	if base == "" {
		fmt.Fprintln(os.Stderr, "Error: --base flag is required")
		costFlags.PrintDefaults()
		os.Exit(1)
	}

	mc, ctx := newClient(*nodeURL)
	cost, err := mc.Cost(ctx, parseUSDC("base", base))
	if err != nil {
		fatalf("Error: %v", err)
	}
	writeOutput(cost, "")
}

func nonceCommand() {
	nonceFlags := flag.NewFlagSet("nonce", flag.ExitOnError)
	nodeURL := nodeFlags(nonceFlags)
	var address string
	nonceFlags.StringVar(&address, "address", "", "Sender address (required)")
	nonceFlags.StringVar(&address, "a", "", "Sender address (required)")
	nonceFlags.Parse(os.Args[2:])

	if address == "" {
		fmt.Fprintln(os.Stderr, "Error: --address flag is required")
		nonceFlags.PrintDefaults()
		os.Exit(1)
	}

	mc, ctx := newClient(*nodeURL)
	nonce, err := mc.Nonce(ctx, parseAddress("address", address))
	if err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Println(nonce.String())
}
