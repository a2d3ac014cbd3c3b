// Package node runs the ledger with the USDC, Permit2, payment protocol and
// marketplace contracts deployed, and serves them over HTTP the way an
// unlocked development node would: mutating calls name their account, while
// payments stay protected by the intent and permit signatures.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/vorpalengineering/usdc-market/chain"
	"github.com/vorpalengineering/usdc-market/fees"
	"github.com/vorpalengineering/usdc-market/indexer"
	"github.com/vorpalengineering/usdc-market/marketplace"
	"github.com/vorpalengineering/usdc-market/permit2"
	"github.com/vorpalengineering/usdc-market/protocol"
	"github.com/vorpalengineering/usdc-market/tokens"
	"github.com/vorpalengineering/usdc-market/utils"
)

type Node struct {
	config *NodeConfig
	logger zerolog.Logger
	router *gin.Engine

	chain    *chain.Chain
	usdc     *tokens.USDC
	permit2  *permit2.Permit2
	protocol *protocol.PaymentProtocol
	market   *marketplace.Marketplace
	nft      *tokens.ERC721
	items    *tokens.ERC1155
	indexer  *indexer.Indexer
	metrics  *Metrics

	calls      *callCache
	callDomain utils.Domain

	unsubscribe []func()
}

type Option func(*options)

type options struct {
	clock  chain.Clock
	logger *zerolog.Logger
}

// WithClock replaces the system clock, for tests.
func WithClock(clock chain.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// NewLogger builds the process logger from the log config.
func NewLogger(cfg LogConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "marketd").Logger()
}

// NewNode deploys every contract, applies the genesis config and builds the
// HTTP router.
func NewNode(cfg *NodeConfig, opts ...Option) (*Node, error) {
	o := options{clock: chain.SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	logger := NewLogger(cfg.Log, nil)
	if o.logger != nil {
		logger = *o.logger
	}

	chainID, err := utils.GetChainID(cfg.Chain.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}

	n := &Node{
		config:  cfg,
		logger:  logger,
		chain:   chain.New(chainID, chain.WithClock(o.clock), chain.WithLogger(logger)),
		metrics: NewMetrics(),

		calls:      newCallCache(),
		callDomain: utils.NodeDomain(chainID),
	}

	if cfg.Indexer.DSN != "" {
		n.indexer, err = indexer.Open(cfg.Indexer.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open indexer: %w", err)
		}
		n.unsubscribe = append(n.unsubscribe, n.indexer.Attach(n.chain))
	}
	n.unsubscribe = append(n.unsubscribe, n.chain.Subscribe(n.metrics.ObserveLog))

	if err := n.deploy(); err != nil {
		n.Close()
		return nil, fmt.Errorf("failed to deploy contracts: %w", err)
	}
	if err := n.applyGenesis(context.Background()); err != nil {
		n.Close()
		return nil, fmt.Errorf("failed to apply genesis: %w", err)
	}

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	n.router = gin.New()
	n.router.Use(gin.Recovery(), requestID(), requestLogger(logger), corsMiddleware(cfg.CORS.AllowedOrigins))
	if cfg.Metrics.Enabled {
		n.router.Use(n.metrics.Middleware())
	}
	n.RegisterRoutes(n.router)

	return n, nil
}

func (n *Node) deploy() error {
	owner := n.config.Owner.Address

	var err error
	if n.usdc, err = tokens.DeployUSDC(n.chain, owner); err != nil {
		return err
	}

	protocolConfig := protocol.Config{
		Owner:        owner,
		FeeCollector: n.config.FeeCollectorAddress(),
		USDC:         n.usdc,
		Logger:       n.logger,
	}
	if !n.config.Marketplace.DisableDelegated {
		if n.permit2, err = permit2.Deploy(n.chain, owner, n.logger); err != nil {
			return err
		}
		protocolConfig.Permit2 = n.permit2
	}
	if n.protocol, err = protocol.Deploy(n.chain, protocolConfig); err != nil {
		return err
	}

	n.market, err = marketplace.Deploy(n.chain, marketplace.Config{
		Owner:        owner,
		FeeRecipient: n.config.FeeRecipientAddress(),
		Payments:     n.protocol,
		USDC:         n.usdc,
		Logger:       n.logger,
	})
	if err != nil {
		return err
	}

	collections := n.config.Genesis.Collections
	if n.nft, err = tokens.DeployERC721(n.chain, owner, collections.ERC721Name, collections.ERC721Symbol); err != nil {
		return err
	}
	if n.items, err = tokens.DeployERC1155(n.chain, owner, collections.ERC1155URI); err != nil {
		return err
	}
	return nil
}

func (n *Node) applyGenesis(ctx context.Context) error {
	owner := n.config.Owner.Address
	for _, balance := range n.config.Genesis.Balances {
		amount, err := fees.ParseUSDC(balance.Amount)
		if err != nil {
			return err
		}
		if err := n.usdc.Mint(ctx, owner, common.HexToAddress(balance.Address), amount); err != nil {
			return fmt.Errorf("failed to mint genesis balance for %s: %w", balance.Address, err)
		}
	}

	n.logger.Info().
		Str("network", n.config.Chain.Network).
		Str("owner", owner.Hex()).
		Str("usdc", n.usdc.Address().Hex()).
		Str("protocol", n.protocol.Address().Hex()).
		Str("marketplace", n.market.Address().Hex()).
		Int("genesis_balances", len(n.config.Genesis.Balances)).
		Msg("genesis applied")
	return nil
}

func (n *Node) Router() http.Handler {
	return n.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (n *Node) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", n.config.Server.Host, n.config.Server.Port),
		Handler:           n.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		n.logger.Info().Str("address", server.Addr).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	n.logger.Info().Msg("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (n *Node) Close() {
	for _, unsubscribe := range n.unsubscribe {
		unsubscribe()
	}
	n.unsubscribe = nil
	if n.indexer != nil {
		if err := n.indexer.Close(); err != nil {
			n.logger.Error().Err(err).Msg("failed to close indexer")
		}
	}
}
