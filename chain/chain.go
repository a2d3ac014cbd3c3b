// Package chain is a single-writer ledger that hosts the token, Permit2,
// payment protocol and marketplace contracts.
//
// Every state-mutating operation runs inside Transact, which holds the global
// write lock for its whole duration, reads the clock exactly once, and either
// commits or replays an undo journal. A Transact call made with a context
// that already carries a transaction joins it as a nested sub-transaction
// with its own savepoint, which is how one contract calls another.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// Event is anything a contract emits.
type Event interface {
	EventName() string
}

// Log is a committed event.
type Log struct {
	Block     uint64         `json:"block"`
	Index     uint64         `json:"index"`
	Timestamp uint64         `json:"timestamp"`
	Address   common.Address `json:"address"`
	Event     Event          `json:"event"`
}

type Chain struct {
	mu      sync.RWMutex
	pubMu   sync.Mutex
	chainID *big.Int
	clock   Clock
	logger  zerolog.Logger

	height    uint64
	logIndex  uint64
	contracts map[common.Address]any
	deployed  map[common.Address]uint64

	subsMu sync.RWMutex
	subs   map[int]func(Log)
	nextID int
}

type Option func(*Chain)

func WithClock(clock Clock) Option {
	return func(c *Chain) { c.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Chain) { c.logger = logger }
}

func New(chainID *big.Int, opts ...Option) *Chain {
	c := &Chain{
		chainID:   new(big.Int).Set(chainID),
		clock:     SystemClock{},
		logger:    zerolog.Nop(),
		contracts: make(map[common.Address]any),
		deployed:  make(map[common.Address]uint64),
		subs:      make(map[int]func(Log)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Chain) Clock() Clock {
	return c.clock
}

func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

type txKey struct{}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok
}

func (c *Chain) current(ctx context.Context) (*Tx, bool) {
	tx, ok := TxFromContext(ctx)
	if !ok || tx.chain != c {
		return nil, false
	}
	return tx, true
}

// Transact runs fn as one all-or-nothing unit. Events emitted by fn are
// published to subscribers after commit, in emission order.
func (c *Chain) Transact(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	// Nested call: run under a savepoint of the enclosing transaction
	if tx, ok := c.current(ctx); ok {
		sp := tx.savepoint()
		if err := tx.run(ctx, fn); err != nil {
			tx.revertTo(sp)
			return err
		}
		return nil
	}

	// Admission is the only point where cancellation is observed
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	tx := &Tx{
		chain: c,
		now:   uint64(c.clock.Now().Unix()),
		block: c.height + 1,
	}
	if err := tx.run(context.WithValue(ctx, txKey{}, tx), fn); err != nil {
		tx.revertTo(savepoint{})
		c.mu.Unlock()
		return err
	}

	c.height = tx.block
	logs := make([]Log, len(tx.logs))
	for i, l := range tx.logs {
		l.Index = c.logIndex
		c.logIndex++
		logs[i] = l
	}

	// Keep publish order equal to commit order
	c.pubMu.Lock()
	c.mu.Unlock()
	c.publish(logs)
	c.pubMu.Unlock()

	for _, fn := range tx.commits {
		fn()
	}
	return nil
}

// Read runs fn under the read lock, or directly when ctx already carries a
// transaction of this chain.
func (c *Chain) Read(ctx context.Context, fn func()) {
	if _, ok := c.current(ctx); ok {
		fn()
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn()
}

// Now returns the timestamp a transaction started now would observe, or the
// transaction timestamp when ctx carries one.
func (c *Chain) Now(ctx context.Context) uint64 {
	if tx, ok := c.current(ctx); ok {
		return tx.now
	}
	return uint64(c.clock.Now().Unix())
}

// Subscribe registers fn for committed logs. The returned func unsubscribes.
// fn runs synchronously on the committing goroutine and must not call
// Transact.
func (c *Chain) Subscribe(fn func(Log)) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Chain) publish(logs []Log) {
	if len(logs) == 0 {
		return
	}
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	for _, l := range logs {
		for _, fn := range c.subs {
			fn(l)
		}
	}
}

// NewContractAddress derives the next contract address for deployer the way
// CREATE does, from the deployer and its deployment count.
func (c *Chain) NewContractAddress(deployer common.Address) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	nonce := c.deployed[deployer]
	c.deployed[deployer] = nonce + 1
	return crypto.CreateAddress(deployer, nonce)
}

// Register makes contract reachable at addr through Lookup.
func (c *Chain) Register(addr common.Address, contract any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.contracts[addr]; exists {
		return fmt.Errorf("contract already registered at %s", addr.Hex())
	}
	c.contracts[addr] = contract
	c.logger.Debug().Str("address", addr.Hex()).Str("type", fmt.Sprintf("%T", contract)).Msg("contract registered")
	return nil
}

// Lookup returns the contract at addr if it implements T.
func Lookup[T any](ctx context.Context, c *Chain, addr common.Address) (T, bool) {
	var (
		out T
		ok  bool
	)
	c.Read(ctx, func() {
		var contract any
		contract, ok = c.contracts[addr]
		if ok {
			out, ok = contract.(T)
		}
	})
	return out, ok
}
