package node

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vorpalengineering/usdc-market/fees"
	"github.com/vorpalengineering/usdc-market/types"
)

const defaultPageSize = 50

func (n *Node) handleMarketplaceStatus(ctx *gin.Context) {
	c := ctx.Request.Context()
	ctx.JSON(http.StatusOK, types.MarketplaceStatusResponse{
		Address:      n.market.Address(),
		Owner:        n.market.Owner(c),
		FeeRecipient: n.market.FeeRecipient(c),
		Paused:       n.market.Paused(c),
		FeeBps:       fees.MarketplaceFeeBps,
	})
}

func (n *Node) handleCost(ctx *gin.Context) {
	base, ok := bigValue(ctx, "base", ctx.Query("base"), nil)
	if !ok {
		return
	}
	if base == nil {
		badRequest(ctx, errors.New("base is required"))
		return
	}
	ctx.JSON(http.StatusOK, n.market.CalculateTotalCost(base))
}

func (n *Node) handleGasEstimate(ctx *gin.Context) {
	itemType := types.ItemPhysical
	if raw := ctx.Query("itemType"); raw != "" {
		var err error
		if itemType, err = types.ParseItemType(raw); err != nil {
			badRequest(ctx, err)
			return
		}
	}
	funding := types.FundingMode(ctx.DefaultQuery("funding", string(types.FundingPreApproved)))
	if !funding.Valid() {
		abortWithError(ctx, types.ErrInvalidFundingMode)
		return
	}
	items, ok := uintQuery(ctx, "items", 1)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, types.GasEstimateResponse{
		ItemType: itemType,
		Funding:  funding,
		Items:    items,
		Gas:      n.market.EstimatePurchaseGas(itemType, funding, items),
	})
}

func (n *Node) handleCreateListing(ctx *gin.Context) {
	var req types.CreateListingCall
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	id, err := n.market.CreateListing(ctx.Request.Context(), req.From, req.CreateListingRequest)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, types.CreateListingResponse{ListingID: id})
}

// handleGetListing returns the listing quoted for ?quantity units, or for
// every remaining unit when quantity is omitted.
func (n *Node) handleGetListing(ctx *gin.Context) {
	id, ok := hashParam(ctx, "id")
	if !ok {
		return
	}
	quantity, ok := uintQuery(ctx, "quantity", 0)
	if !ok {
		return
	}
	quote, err := n.market.GetListingWithCost(ctx.Request.Context(), id, quantity)
	if err != nil {
		abortLookup(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, quote)
}

func (n *Node) handleUpdateListing(ctx *gin.Context) {
	id, ok := hashParam(ctx, "id")
	if !ok {
		return
	}
	var req types.UpdateListingCall
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	if err := n.market.UpdateListing(ctx.Request.Context(), req.From, id, req.UpdateListingRequest); err != nil {
		abortLookup(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (n *Node) handleCancelListing(ctx *gin.Context) {
	id, ok := hashParam(ctx, "id")
	if !ok {
		return
	}
	var req types.CancelListingCall
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	if err := n.market.CancelListing(ctx.Request.Context(), req.From, id); err != nil {
		abortLookup(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (n *Node) handleListingPurchases(ctx *gin.Context) {
	id, ok := hashParam(ctx, "id")
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, types.PurchasesResponse{
		Purchases: n.market.GetListingPurchases(ctx.Request.Context(), id),
	})
}

// handleSellerListings returns every listing of the seller, or with
// ?active=true a page of the ACTIVE ones.
func (n *Node) handleSellerListings(ctx *gin.Context) {
	seller, ok := addressParam(ctx, "address")
	if !ok {
		return
	}
	c := ctx.Request.Context()

	if ctx.Query("active") != "true" {
		ctx.JSON(http.StatusOK, types.ListingsResponse{Listings: n.market.GetListingsBySeller(c, seller)})
		return
	}

	offset, ok := uintQuery(ctx, "offset", 0)
	if !ok {
		return
	}
	limit, ok := uintQuery(ctx, "limit", defaultPageSize)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, types.ListingsResponse{
		Listings: n.market.GetActiveListingsBySeller(c, seller, offset, limit),
	})
}

func (n *Node) handlePurchase(ctx *gin.Context) {
	var req types.PurchaseCall
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	purchase, err := n.market.Purchase(ctx.Request.Context(), req.Buyer, req.PurchaseRequest)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, purchase)
}

func (n *Node) handleBatchPurchase(ctx *gin.Context) {
	var req types.BatchPurchaseCall
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	purchases, err := n.market.BatchPurchase(ctx.Request.Context(), req.Buyer, req.Requests)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, types.PurchasesResponse{Purchases: purchases})
}

func (n *Node) handleGetPurchase(ctx *gin.Context) {
	id, ok := hashParam(ctx, "id")
	if !ok {
		return
	}
	purchase, err := n.market.GetPurchase(ctx.Request.Context(), id)
	if err != nil {
		abortLookup(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, purchase)
}

func (n *Node) handleBuyerPurchases(ctx *gin.Context) {
	buyer, ok := addressParam(ctx, "address")
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, types.PurchasesResponse{
		Purchases: n.market.GetPurchasesByBuyer(ctx.Request.Context(), buyer),
	})
}

func (n *Node) handleUpdateFeeRecipient(ctx *gin.Context) {
	var req types.AddressRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	if err := n.market.UpdateFeeRecipient(ctx.Request.Context(), n.config.Owner.Address, req.Address); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (n *Node) handlePauseMarketplace(ctx *gin.Context) {
	if err := n.market.Pause(ctx.Request.Context(), n.config.Owner.Address); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (n *Node) handleUnpauseMarketplace(ctx *gin.Context) {
	if err := n.market.Unpause(ctx.Request.Context(), n.config.Owner.Address); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (n *Node) handleExpireListings(ctx *gin.Context) {
	var req types.ExpireListingsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	expired, err := n.market.ExpireListings(ctx.Request.Context(), n.config.Owner.Address, req.ListingIDs)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, types.ExpireListingsResponse{Expired: expired})
}
