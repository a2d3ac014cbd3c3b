package permit2

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/tokens"
	"github.com/vorpalengineering/usdc-market/types"
	"github.com/vorpalengineering/usdc-market/utils"
)

const ownerKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var (
	deployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	spender  = common.HexToAddress("0x00000000000000000000000000000000000005e7")
	payee    = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

type fixture struct {
	chain   *chain.Chain
	clock   *chain.ManualClock
	usdc    *tokens.USDC
	permit2 *Permit2
	key     *ecdsa.PrivateKey
	owner   common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := chain.NewManualClock(time.Unix(1_700_000_000, 0))
	c := chain.New(big.NewInt(31337), chain.WithClock(clock))

	usdc, err := tokens.DeployUSDC(c, deployer)
	require.NoError(t, err)
	p, err := Deploy(c, deployer, zerolog.Nop())
	require.NoError(t, err)

	key, err := crypto.HexToECDSA(ownerKeyHex)
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	require.NoError(t, usdc.Mint(ctx, deployer, owner, big.NewInt(1_000_000)))
	require.NoError(t, usdc.Approve(ctx, owner, p.Address(), big.NewInt(1_000_000)))

	return &fixture{chain: c, clock: clock, usdc: usdc, permit2: p, key: key, owner: owner}
}

func (f *fixture) signedPermit(t *testing.T, amount, nonce int64, signFor common.Address) *types.DelegatedTransferAuthorization {
	t.Helper()
	auth := &types.DelegatedTransferAuthorization{
		Permitted: types.TokenPermissions{Token: f.usdc.Address(), Amount: big.NewInt(amount)},
		Nonce:     big.NewInt(nonce),
		Deadline:  big.NewInt(1_700_000_600),
	}
	sig, err := utils.SignPermit(f.permit2.Domain(), auth, signFor, f.key)
	require.NoError(t, err)
	auth.Signature = sig
	return auth
}

func details(amount int64) types.SignatureTransferDetails {
	return types.SignatureTransferDetails{To: payee, RequestedAmount: big.NewInt(amount)}
}

func TestPermitTransferFrom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	auth := f.signedPermit(t, 500, 0, spender)

	require.NoError(t, f.permit2.PermitTransferFrom(ctx, spender, auth, details(400), f.owner))
	assert.Equal(t, 0, f.usdc.BalanceOf(ctx, payee).Cmp(big.NewInt(400)))
	assert.True(t, f.permit2.IsNonceUsed(ctx, f.owner, big.NewInt(0)))
	assert.False(t, f.permit2.IsNonceUsed(ctx, f.owner, big.NewInt(1)))

	// Same nonce again
	err := f.permit2.PermitTransferFrom(ctx, spender, auth, details(1), f.owner)
	require.ErrorIs(t, err, types.ErrInvalidNonce)
}

func TestPermitTransferFromRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("requested above permitted", func(t *testing.T) {
		auth := f.signedPermit(t, 100, 1, spender)
		err := f.permit2.PermitTransferFrom(ctx, spender, auth, details(101), f.owner)
		require.ErrorIs(t, err, types.ErrPermitAmount)
	})

	t.Run("signed for another spender", func(t *testing.T) {
		auth := f.signedPermit(t, 100, 2, payee)
		err := f.permit2.PermitTransferFrom(ctx, spender, auth, details(100), f.owner)
		require.ErrorIs(t, err, types.ErrInvalidSigner)
		// The failed attempt does not burn the nonce
		assert.False(t, f.permit2.IsNonceUsed(ctx, f.owner, big.NewInt(2)))
	})

	t.Run("claimed owner is not the signer", func(t *testing.T) {
		auth := f.signedPermit(t, 100, 3, spender)
		err := f.permit2.PermitTransferFrom(ctx, spender, auth, details(100), deployer)
		require.ErrorIs(t, err, types.ErrInvalidSigner)
	})

	t.Run("expired", func(t *testing.T) {
		auth := f.signedPermit(t, 100, 4, spender)
		f.clock.Advance(time.Hour)
		err := f.permit2.PermitTransferFrom(ctx, spender, auth, details(100), f.owner)
		require.ErrorIs(t, err, types.ErrSignatureExpired)
	})

	assert.Equal(t, 0, f.usdc.BalanceOf(ctx, payee).Sign())
}

func TestPermitRequiresTokenApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.usdc.Approve(ctx, f.owner, f.permit2.Address(), big.NewInt(0)))

	auth := f.signedPermit(t, 100, 9, spender)
	err := f.permit2.PermitTransferFrom(ctx, spender, auth, details(100), f.owner)
	require.ErrorIs(t, err, types.ErrInsufficientAllowance)
	assert.False(t, f.permit2.IsNonceUsed(ctx, f.owner, big.NewInt(9)))
}

func TestInvalidateUnorderedNonces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Word 1 covers nonces 256..511; invalidate 256 and 258
	require.NoError(t, f.permit2.InvalidateUnorderedNonces(ctx, f.owner, big.NewInt(1), big.NewInt(0b101)))
	assert.Equal(t, int64(0b101), f.permit2.NonceBitmap(ctx, f.owner, big.NewInt(1)).Int64())
	assert.True(t, f.permit2.IsNonceUsed(ctx, f.owner, big.NewInt(258)))
	assert.False(t, f.permit2.IsNonceUsed(ctx, f.owner, big.NewInt(257)))

	auth := f.signedPermit(t, 100, 256, spender)
	err := f.permit2.PermitTransferFrom(ctx, spender, auth, details(100), f.owner)
	require.ErrorIs(t, err, types.ErrInvalidNonce)

	auth = f.signedPermit(t, 100, 257, spender)
	require.NoError(t, f.permit2.PermitTransferFrom(ctx, spender, auth, details(100), f.owner))
}
