package protocol

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
	"github.com/vorpalengineering/usdc-market/permit2"
	"github.com/vorpalengineering/usdc-market/tokens"
	"github.com/vorpalengineering/usdc-market/types"
	"github.com/vorpalengineering/usdc-market/utils"
)

const senderKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var (
	owner        = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	recipient    = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	feeCollector = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	stranger     = common.HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65")
	startTime    = time.Unix(1_700_000_000, 0)
)

type fixture struct {
	chain    *chain.Chain
	clock    *chain.ManualClock
	usdc     *tokens.USDC
	permit2  *permit2.Permit2
	protocol *PaymentProtocol
	key      *ecdsa.PrivateKey
	sender   common.Address
	logs     []chain.Log
	nextID   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := chain.NewManualClock(startTime)
	c := chain.New(big.NewInt(31337), chain.WithClock(clock))

	usdc, err := tokens.DeployUSDC(c, owner)
	require.NoError(t, err)
	p2, err := permit2.Deploy(c, owner, zerolog.Nop())
	require.NoError(t, err)
	p, err := Deploy(c, Config{
		Owner:        owner,
		FeeCollector: feeCollector,
		USDC:         usdc,
		Permit2:      p2,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	key, err := crypto.HexToECDSA(senderKeyHex)
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(key.PublicKey)

	require.NoError(t, usdc.Mint(ctx, owner, sender, big.NewInt(100_000_000)))
	require.NoError(t, usdc.Approve(ctx, sender, p.Address(), big.NewInt(100_000_000)))

	f := &fixture{chain: c, clock: clock, usdc: usdc, permit2: p2, protocol: p, key: key, sender: sender}
	c.Subscribe(func(l chain.Log) { f.logs = append(f.logs, l) })
	return f
}

// intent builds an intent for amount at the sender's current nonce, signed.
func (f *fixture) intent(t *testing.T, amount int64) *types.PaymentIntent {
	t.Helper()
	f.nextID++
	intent := &types.PaymentIntent{
		ID:          common.BigToHash(big.NewInt(f.nextID)),
		Sender:      f.sender,
		Recipient:   recipient,
		Amount:      big.NewInt(amount),
		ProtocolFee: f.protocol.CalculateProtocolFee(big.NewInt(amount)),
		Deadline:    uint64(f.clock.Now().Add(time.Hour).Unix()),
		Nonce:       f.protocol.GetCurrentNonce(context.Background(), f.sender),
	}
	f.sign(t, intent)
	return intent
}

func (f *fixture) sign(t *testing.T, intent *types.PaymentIntent) {
	t.Helper()
	sig, err := utils.SignPaymentIntent(f.protocol.Domain(), intent, f.key)
	require.NoError(t, err)
	intent.Signature = sig
}

func (f *fixture) eventNames() []string {
	names := make([]string, 0, len(f.logs))
	for _, l := range f.logs {
		names = append(names, l.Event.EventName())
	}
	return names
}

func assertBalance(t *testing.T, usdc *tokens.USDC, addr common.Address, want int64) {
	t.Helper()
	got := usdc.BalanceOf(context.Background(), addr)
	assert.Equal(t, 0, got.Cmp(big.NewInt(want)), "balance of %s: got %v, want %d", addr.Hex(), got, want)
}

func TestCalculateProtocolFee(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, int64(2_500_000), f.protocol.CalculateProtocolFee(big.NewInt(1000_000000)).Int64())
	assert.Equal(t, int64(0), f.protocol.CalculateProtocolFee(big.NewInt(399)).Int64())
}

func TestProcessPreApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := f.intent(t, 10_000_000)

	require.NoError(t, f.protocol.VerifyPaymentIntent(ctx, intent))
	require.NoError(t, f.protocol.ProcessPreApproved(ctx, intent))

	assertBalance(t, f.usdc, f.sender, 100_000_000-10_000_000-25_000)
	assertBalance(t, f.usdc, recipient, 10_000_000)
	assertBalance(t, f.usdc, feeCollector, 25_000)
	assertBalance(t, f.usdc, f.protocol.Address(), 0)
	assert.True(t, f.protocol.IsPaymentProcessed(ctx, intent.ID))
	assert.Equal(t, int64(1), f.protocol.GetCurrentNonce(ctx, f.sender).Int64())

	last := f.logs[len(f.logs)-1]
	processed, ok := last.Event.(types.PaymentProcessed)
	require.True(t, ok, "last event is %s", last.Event.EventName())
	assert.Equal(t, intent.ID, processed.PaymentID)
	assert.Equal(t, f.protocol.Address(), last.Address)
}

func TestZeroFeeSkipsCollector(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := f.intent(t, 100)
	require.Equal(t, 0, intent.ProtocolFee.Sign())

	f.logs = nil
	require.NoError(t, f.protocol.ProcessPreApproved(ctx, intent))
	assertBalance(t, f.usdc, feeCollector, 0)
	// pull, forward, processed
	assert.Equal(t, []string{"Transfer", "Transfer", "PaymentProcessed"}, f.eventNames())
}

func TestNoDoubleSpend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := f.intent(t, 1_000_000)
	require.NoError(t, f.protocol.ProcessPreApproved(ctx, intent))

	// Identical replay
	require.ErrorIs(t, f.protocol.ProcessPreApproved(ctx, intent), types.ErrPaymentAlreadyProcessed)

	// Same id, fresh nonce, valid signature
	intent.Nonce = f.protocol.GetCurrentNonce(ctx, f.sender)
	f.sign(t, intent)
	require.ErrorIs(t, f.protocol.ProcessPreApproved(ctx, intent), types.ErrPaymentAlreadyProcessed)

	// Through the delegated path too
	require.ErrorIs(t, f.protocol.ProcessWithDelegatedTransfer(ctx, intent, &types.DelegatedTransferAuthorization{}), types.ErrPaymentAlreadyProcessed)

	assertBalance(t, f.usdc, recipient, 1_000_000)
}

func TestNonceMonotonicity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := f.intent(t, 1_000)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.protocol.ProcessPreApproved(ctx, f.intent(t, 1_000)))
		assert.Equal(t, int64(i+1), f.protocol.GetCurrentNonce(ctx, f.sender).Int64())
	}

	// Signed at nonce 0, now 5
	require.ErrorIs(t, f.protocol.ProcessPreApproved(ctx, stale), types.ErrInvalidSignature)

	future := f.intent(t, 1_000)
	future.Nonce = big.NewInt(7)
	f.sign(t, future)
	require.ErrorIs(t, f.protocol.ProcessPreApproved(ctx, future), types.ErrInvalidSignature)

	assert.Equal(t, int64(5), f.protocol.GetCurrentNonce(ctx, f.sender).Int64())
}

func TestVerifierChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*types.PaymentIntent)
		resign bool
		want   error
	}{
		{"zero id", func(i *types.PaymentIntent) { i.ID = common.Hash{} }, true, types.ErrInvalidPaymentID},
		{"expired", func(i *types.PaymentIntent) { i.Deadline = uint64(startTime.Unix()) - 1 }, true, types.ErrPaymentExpired},
		{"zero recipient", func(i *types.PaymentIntent) { i.Recipient = common.Address{} }, true, types.ErrInvalidRecipient},
		{"zero amount", func(i *types.PaymentIntent) { i.Amount = big.NewInt(0) }, true, types.ErrInvalidAmount},
		{"missing fee", func(i *types.PaymentIntent) { i.ProtocolFee = nil }, false, types.ErrInvalidAmount},
		{"short signature", func(i *types.PaymentIntent) { i.Signature = i.Signature[:64] }, false, types.ErrInvalidSignature},
		{"tampered amount", func(i *types.PaymentIntent) { i.Amount = big.NewInt(999_999) }, false, types.ErrInvalidSignature},
		{"wrong sender", func(i *types.PaymentIntent) { i.Sender = stranger }, false, types.ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := f.intent(t, 1_000_000)
			tt.mutate(intent)
			if tt.resign {
				f.sign(t, intent)
			}
			require.ErrorIs(t, f.protocol.VerifyPaymentIntent(ctx, intent), tt.want)
			require.ErrorIs(t, f.protocol.ProcessPreApproved(ctx, intent), tt.want)
		})
	}

	assert.Equal(t, int64(0), f.protocol.GetCurrentNonce(ctx, f.sender).Int64())
	assertBalance(t, f.usdc, recipient, 0)
}

func TestPaymentDeadlineBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := f.intent(t, 1_000)

	// now == deadline still passes
	f.clock.Set(time.Unix(int64(intent.Deadline), 0))
	require.NoError(t, f.protocol.ProcessPreApproved(ctx, intent))

	late := f.intent(t, 1_000)
	f.clock.Set(time.Unix(int64(late.Deadline)+1, 0))
	require.ErrorIs(t, f.protocol.ProcessPreApproved(ctx, late), types.ErrPaymentExpired)
}

func TestInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tooMuch := f.intent(t, 100_000_000)
	require.ErrorIs(t, f.protocol.ProcessPreApproved(ctx, tooMuch), types.ErrInsufficientBalance)

	require.NoError(t, f.usdc.Approve(ctx, f.sender, f.protocol.Address(), big.NewInt(500)))
	short := f.intent(t, 1_000)
	require.ErrorIs(t, f.protocol.ProcessPreApproved(ctx, short), types.ErrInsufficientAllowance)

	assert.False(t, f.protocol.IsPaymentProcessed(ctx, short.ID))
	assert.Equal(t, int64(0), f.protocol.GetCurrentNonce(ctx, f.sender).Int64())
}

func TestProcessWithDelegatedTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Standing allowance goes to Permit2 instead of the protocol
	require.NoError(t, f.usdc.Approve(ctx, f.sender, f.protocol.Address(), big.NewInt(0)))
	require.NoError(t, f.usdc.Approve(ctx, f.sender, f.permit2.Address(), big.NewInt(100_000_000)))

	permit := func(intent *types.PaymentIntent, nonce int64, token common.Address) *types.DelegatedTransferAuthorization {
		auth := &types.DelegatedTransferAuthorization{
			Permitted: types.TokenPermissions{Token: token, Amount: intent.Total()},
			Nonce:     big.NewInt(nonce),
			Deadline:  new(big.Int).SetUint64(intent.Deadline),
		}
		sig, err := utils.SignPermit(f.permit2.Domain(), auth, f.protocol.Address(), f.key)
		require.NoError(t, err)
		auth.Signature = sig
		return auth
	}

	intent := f.intent(t, 2_000_000)
	require.NoError(t, f.protocol.ProcessWithDelegatedTransfer(ctx, intent, permit(intent, 42, f.usdc.Address())))
	assertBalance(t, f.usdc, recipient, 2_000_000)
	assertBalance(t, f.usdc, feeCollector, 5_000)
	assert.True(t, f.protocol.IsPaymentProcessed(ctx, intent.ID))
	assert.Equal(t, int64(1), f.protocol.GetCurrentNonce(ctx, f.sender).Int64())

	// Permit2 nonce reuse with a new, valid intent
	next := f.intent(t, 1_000_000)
	err := f.protocol.ProcessWithDelegatedTransfer(ctx, next, permit(next, 42, f.usdc.Address()))
	require.ErrorIs(t, err, types.ErrInvalidNonce)
	assert.False(t, f.protocol.IsPaymentProcessed(ctx, next.ID))

	// Only USDC may be permitted
	err = f.protocol.ProcessWithDelegatedTransfer(ctx, next, permit(next, 43, stranger))
	require.ErrorIs(t, err, types.ErrInvalidToken)

	// Permit signed by someone other than the intent sender
	auth := permit(next, 44, f.usdc.Address())
	otherKey, err := crypto.HexToECDSA("5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a")
	require.NoError(t, err)
	auth.Signature, err = utils.SignPermit(f.permit2.Domain(), auth, f.protocol.Address(), otherKey)
	require.NoError(t, err)
	err = f.protocol.ProcessWithDelegatedTransfer(ctx, next, auth)
	require.ErrorIs(t, err, types.ErrInvalidSigner)

	require.NoError(t, f.protocol.ProcessWithDelegatedTransfer(ctx, next, permit(next, 45, f.usdc.Address())))
	assert.Equal(t, int64(2), f.protocol.GetCurrentNonce(ctx, f.sender).Int64())
}

func TestDelegatedTransferUnavailable(t *testing.T) {
	c := chain.New(big.NewInt(31337), chain.WithClock(chain.NewManualClock(startTime)))
	usdc, err := tokens.DeployUSDC(c, owner)
	require.NoError(t, err)
	p, err := Deploy(c, Config{Owner: owner, FeeCollector: feeCollector, USDC: usdc, Logger: zerolog.Nop()})
	require.NoError(t, err)

	err = p.ProcessWithDelegatedTransfer(context.Background(), &types.PaymentIntent{}, &types.DelegatedTransferAuthorization{})
	require.ErrorIs(t, err, types.ErrDelegatedTransferOff)
}

func TestDeployValidation(t *testing.T) {
	c := chain.New(big.NewInt(31337))
	usdc, err := tokens.DeployUSDC(c, owner)
	require.NoError(t, err)

	_, err = Deploy(c, Config{FeeCollector: feeCollector, USDC: usdc})
	require.ErrorIs(t, err, types.ErrZeroAddress)
	_, err = Deploy(c, Config{Owner: owner, USDC: usdc})
	require.ErrorIs(t, err, types.ErrInvalidFeeCollector)
	_, err = Deploy(c, Config{Owner: owner, FeeCollector: feeCollector})
	require.Error(t, err)
}

// reentrantToken calls back into the protocol from inside a transfer.
type reentrantToken struct {
	*tokens.USDC
	protocol *PaymentProtocol
	intent   *types.PaymentIntent
	err      error
}

func (r *reentrantToken) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	r.err = r.protocol.ProcessPreApproved(ctx, r.intent)
	return r.USDC.TransferFrom(ctx, spender, from, to, amount)
}

func TestReentrancyRejected(t *testing.T) {
	ctx := context.Background()
	c := chain.New(big.NewInt(31337), chain.WithClock(chain.NewManualClock(startTime)))
	usdc, err := tokens.DeployUSDC(c, owner)
	require.NoError(t, err)
	token := &reentrantToken{USDC: usdc}
	p, err := Deploy(c, Config{Owner: owner, FeeCollector: feeCollector, USDC: token, Logger: zerolog.Nop()})
	require.NoError(t, err)
	token.protocol = p

	key, err := crypto.HexToECDSA(senderKeyHex)
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(key.PublicKey)
	require.NoError(t, usdc.Mint(ctx, owner, sender, big.NewInt(10_000)))
	require.NoError(t, usdc.Approve(ctx, sender, p.Address(), big.NewInt(10_000)))

	intent := &types.PaymentIntent{
		ID:          common.HexToHash("0xaa"),
		Sender:      sender,
		Recipient:   recipient,
		Amount:      big.NewInt(1_000),
		ProtocolFee: big.NewInt(2),
		Deadline:    uint64(startTime.Add(time.Hour).Unix()),
		Nonce:       big.NewInt(0),
	}
	intent.Signature, err = utils.SignPaymentIntent(p.Domain(), intent, key)
	require.NoError(t, err)
	token.intent = intent

	require.NoError(t, p.ProcessPreApproved(ctx, intent))
	require.ErrorIs(t, token.err, types.ErrReentrantCall)
	assert.Equal(t, int64(1), p.GetCurrentNonce(ctx, sender).Int64())
}
