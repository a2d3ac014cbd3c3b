package main

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vorpalengineering/usdc-market/fees"
	"github.com/vorpalengineering/usdc-market/utils"
)

// readJSONOrFile returns JSON bytes from either an inline JSON string or a file path.
func readJSONOrFile(input string) []byte {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return []byte(input)
	}
	data, err := os.ReadFile(input)
	if err != nil {
		fatalf("Error reading file %s: %v", input, err)
	}
	return data
}

func decodeJSONOrFile(input, what string, out any) {
	if err := json.Unmarshal(readJSONOrFile(input), out); err != nil {
		fatalf("Error parsing %s JSON: %v", what, err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// writeOutput pretty-prints v to path, or to stdout when path is empty.
func writeOutput(v any, path string) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatalf("Error formatting output: %v", err)
	}
	if path == "" {
		fmt.Println(string(jsonBytes))
		return
	}
	if err := os.WriteFile(path, jsonBytes, 0644); err != nil {
		fatalf("Error writing file: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Output written to %s\n", path)
}

func parseAddress(flagName, value string) common.Address {
	if !common.IsHexAddress(value) {
		fatalf("Error: --%s must be a hex address, got %q", flagName, value)
	}
	return common.HexToAddress(value)
}

func parseHash(flagName, value string) common.Hash {
	b, err := hexutil.Decode(value)
	if err != nil || len(b) != common.HashLength {
		fatalf("Error: --%s must be a 32 byte hex value, got %q", flagName, value)
	}
	return common.BytesToHash(b)
}

// parseUSDC accepts a decimal USDC amount such as "12.5".
func parseUSDC(flagName, value string) *big.Int {
	amount, err := fees.ParseUSDC(value)
	if err != nil {
		fatalf("Error: --%s: %v", flagName, err)
	}
	return amount
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, common.Address) {
	key, err := utils.ParsePrivateKey(hexKey)
	if err != nil {
		fatalf("Error parsing private key: %v", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey)
}
