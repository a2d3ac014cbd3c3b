// Package fees holds the basis-point arithmetic shared by the payment
// protocol and the marketplace, plus USDC amount formatting.
package fees

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	BasisPoints         = 10000
	ProtocolFeeBps      = 25
	MarketplaceFeeBps   = 250
	USDCDecimals  int32 = 6
)

// Apply returns floor(amount * bps / 10000). A nil amount counts as zero.
func Apply(amount *big.Int, bps int64) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(bps))
	return fee.Quo(fee, big.NewInt(BasisPoints))
}

// ProtocolFee is 0.25% of amount, rounded down.
func ProtocolFee(amount *big.Int) *big.Int {
	return Apply(amount, ProtocolFeeBps)
}

// MarketplaceFee is 2.5% of amount, rounded down.
func MarketplaceFee(amount *big.Int) *big.Int {
	return Apply(amount, MarketplaceFeeBps)
}

// FormatUSDC renders base units as a decimal USDC string, e.g. 1500000 -> "1.5".
func FormatUSDC(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -USDCDecimals).String()
}

// ParseUSDC converts a decimal USDC string into base units. More than six
// fractional digits is an error rather than a silent truncation.
func ParseUSDC(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid USDC amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid USDC amount %q: negative", s)
	}
	scaled := d.Shift(USDCDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("invalid USDC amount %q: more than %d decimals", s, USDCDecimals)
	}
	return scaled.BigInt(), nil
}
