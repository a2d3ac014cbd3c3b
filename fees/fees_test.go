package fees

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usdc(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000))
}

func TestProtocolFee(t *testing.T) {
	tests := []struct {
		amount *big.Int
		want   int64
	}{
		{usdc(1000), 2_500_000},
		{big.NewInt(10000), 25},
		{big.NewInt(399), 0},
		{big.NewInt(400), 1},
		{big.NewInt(0), 0},
		{nil, 0},
	}

	for _, tt := range tests {
		got := ProtocolFee(tt.amount)
		if got.Int64() != tt.want {
			t.Errorf("ProtocolFee(%v) = %v, expected %d", tt.amount, got, tt.want)
		}
	}
}

func TestMarketplaceFee(t *testing.T) {
	assert.Equal(t, usdc(25), MarketplaceFee(usdc(1000)))
	assert.Equal(t, int64(0), MarketplaceFee(big.NewInt(39)).Int64())
	assert.Equal(t, int64(1), MarketplaceFee(big.NewInt(40)).Int64())
}

func TestFormatAndParseUSDC(t *testing.T) {
	assert.Equal(t, "1.5", FormatUSDC(big.NewInt(1_500_000)))
	assert.Equal(t, "0.000001", FormatUSDC(big.NewInt(1)))
	assert.Equal(t, "1000", FormatUSDC(usdc(1000)))
	assert.Equal(t, "0", FormatUSDC(nil))

	got, err := ParseUSDC("1025.625")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_025_625_000), got)

	got, err = ParseUSDC("0.000001")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), got)

	_, err = ParseUSDC("0.0000001")
	assert.Error(t, err)
	_, err = ParseUSDC("-1")
	assert.Error(t, err)
	_, err = ParseUSDC("abc")
	assert.Error(t, err)
}
