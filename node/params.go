package node

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
)

func addressParam(ctx *gin.Context, name string) (common.Address, bool) {
	value := ctx.Param(name)
	if !common.IsHexAddress(value) {
		badRequest(ctx, fmt.Errorf("invalid address %q", value))
		return common.Address{}, false
	}
	return common.HexToAddress(value), true
}

func hashParam(ctx *gin.Context, name string) (common.Hash, bool) {
	value := ctx.Param(name)
	b, err := hexutil.Decode(value)
	if err != nil || len(b) != common.HashLength {
		badRequest(ctx, fmt.Errorf("invalid hash %q", value))
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

// bigValue parses a non-negative decimal integer. Empty values return def.
func bigValue(ctx *gin.Context, name, value string, def *big.Int) (*big.Int, bool) {
	if value == "" {
		return def, true
	}
	v, ok := new(big.Int).SetString(value, 10)
	if !ok || v.Sign() < 0 {
		badRequest(ctx, fmt.Errorf("invalid %s %q", name, value))
		return nil, false
	}
	return v, true
}

func uintQuery(ctx *gin.Context, name string, def uint64) (uint64, bool) {
	value := ctx.Query(name)
	if value == "" {
		return def, true
	}
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		badRequest(ctx, fmt.Errorf("invalid %s %q", name, value))
		return 0, false
	}
	return v, true
}
