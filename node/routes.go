package node

import (
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/vorpalengineering/usdc-market/indexer"
	"github.com/vorpalengineering/usdc-market/types"
	"github.com/vorpalengineering/usdc-market/utils"
)

func (n *Node) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", n.handleHealth)
	router.GET("/chain", n.handleChainInfo)
	if n.config.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(n.metrics.Handler()))
	}
	if n.indexer != nil {
		router.GET("/events", n.handleEvents)
		router.GET("/events/purchases/:address", n.handleIndexedPurchases)
	}

	// Tokens. Calls that move an account's assets must be signed by it.
	router.GET("/usdc/balances/:address", n.handleBalance)
	router.GET("/usdc/allowances/:owner/:spender", n.handleAllowance)
	router.POST("/usdc/transfer", n.accountAuth(), n.handleTransfer)
	router.POST("/usdc/approve", n.accountAuth(), n.handleApprove)
	router.GET("/erc721/tokens/:tokenId/owner", n.handleTokenOwner)
	router.POST("/erc721/approval-for-all", n.accountAuth(), n.handleERC721ApprovalForAll)
	router.GET("/erc1155/balances/:address/:tokenId", n.handleERC1155Balance)
	router.POST("/erc1155/approval-for-all", n.accountAuth(), n.handleERC1155ApprovalForAll)
	if n.permit2 != nil {
		router.GET("/permit2/nonces/:owner/:wordPos", n.handleNonceBitmap)
	}

	// Payment protocol
	router.GET("/protocol", n.handleProtocolStatus)
	router.GET("/protocol/fee", n.handleProtocolFee)
	router.POST("/protocol/hash", n.handleHash)
	router.POST("/protocol/verify", n.handleVerify)
	router.GET("/protocol/nonces/:address", n.handleNonce)
	router.GET("/protocol/payments/:id", n.handlePaymentStatus)
	router.POST("/protocol/payments", n.handleProcessPayment)

	// Marketplace
	router.GET("/marketplace", n.handleMarketplaceStatus)
	router.GET("/marketplace/cost", n.handleCost)
	router.GET("/marketplace/gas", n.handleGasEstimate)
	router.POST("/marketplace/listings", n.accountAuth(), n.handleCreateListing)
	router.GET("/marketplace/listings/:id", n.handleGetListing)
	router.PUT("/marketplace/listings/:id", n.accountAuth(), n.handleUpdateListing)
	router.POST("/marketplace/listings/:id/cancel", n.accountAuth(), n.handleCancelListing)
	router.GET("/marketplace/listings/:id/purchases", n.handleListingPurchases)
	router.GET("/marketplace/sellers/:address/listings", n.handleSellerListings)
	router.POST("/marketplace/purchases", n.handlePurchase)
	router.POST("/marketplace/purchases/batch", n.handleBatchPurchase)
	router.GET("/marketplace/purchases/:id", n.handleGetPurchase)
	router.GET("/marketplace/buyers/:address/purchases", n.handleBuyerPurchases)

	// Owner account
	admin := router.Group("/admin", adminAuth(n.config.Auth.APIKeys))
	admin.POST("/usdc/mint", n.handleMintUSDC)
	admin.POST("/erc721/mint", n.handleMintERC721)
	admin.POST("/erc1155/mint", n.handleMintERC1155)
	admin.POST("/protocol/fee-collector", n.handleUpdateFeeCollector)
	admin.POST("/protocol/pause", n.handlePauseProtocol)
	admin.POST("/protocol/unpause", n.handleUnpauseProtocol)
	admin.POST("/protocol/withdraw", n.handleEmergencyWithdraw)
	admin.POST("/marketplace/fee-recipient", n.handleUpdateFeeRecipient)
	admin.POST("/marketplace/pause", n.handlePauseMarketplace)
	admin.POST("/marketplace/unpause", n.handleUnpauseMarketplace)
	admin.POST("/marketplace/expire", n.handleExpireListings)
}

func (n *Node) handleHealth(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, types.HealthResponse{
		Status: "ok",
		Height: n.chain.Height(),
	})
}

func (n *Node) handleChainInfo(ctx *gin.Context) {
	contracts := types.ContractAddresses{
		USDC:            n.usdc.Address(),
		PaymentProtocol: n.protocol.Address(),
		Marketplace:     n.market.Address(),
		ERC721:          n.nft.Address(),
		ERC1155:         n.items.Address(),
	}
	if n.permit2 != nil {
		contracts.Permit2 = n.permit2.Address()
	}

	ctx.JSON(http.StatusOK, types.ChainInfoResponse{
		ChainID:   n.chain.ChainID().String(),
		Network:   utils.Network(n.chain.ChainID()),
		Height:    n.chain.Height(),
		Timestamp: n.chain.Now(ctx.Request.Context()),
		Owner:     n.config.Owner.Address,
		Contracts: contracts,
	})
}

func (n *Node) handleEvents(ctx *gin.Context) {
	filter := indexer.EventFilter{Name: ctx.Query("name")}
	if contract := ctx.Query("contract"); contract != "" {
		if !common.IsHexAddress(contract) {
			badRequest(ctx, fmt.Errorf("invalid address %q", contract))
			return
		}
		filter.Contract = common.HexToAddress(contract)
	}
	fromBlock, ok := uintQuery(ctx, "fromBlock", 0)
	if !ok {
		return
	}
	limit, ok := uintQuery(ctx, "limit", 100)
	if !ok {
		return
	}
	filter.FromBlock = fromBlock
	filter.Limit = int(limit)

	records, err := n.indexer.Events(ctx.Request.Context(), filter)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"events": records})
}

func (n *Node) handleIndexedPurchases(ctx *gin.Context) {
	buyer, ok := addressParam(ctx, "address")
	if !ok {
		return
	}
	records, err := n.indexer.PurchasesByBuyer(ctx.Request.Context(), buyer)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"purchases": records})
}
