package node

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vorpalengineering/usdc-market/fees"
	"github.com/vorpalengineering/usdc-market/types"
)

var errMissingAmount = errors.New("amount is required")

func (n *Node) handleBalance(ctx *gin.Context) {
	owner, ok := addressParam(ctx, "address")
	if !ok {
		return
	}
	balance := n.usdc.BalanceOf(ctx.Request.Context(), owner)
	ctx.JSON(http.StatusOK, types.BalanceResponse{
		Address:   owner,
		Balance:   balance,
		Formatted: fees.FormatUSDC(balance),
	})
}

func (n *Node) handleAllowance(ctx *gin.Context) {
	owner, ok := addressParam(ctx, "owner")
	if !ok {
		return
	}
	spender, ok := addressParam(ctx, "spender")
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, types.AllowanceResponse{
		Owner:     owner,
		Spender:   spender,
		Allowance: n.usdc.Allowance(ctx.Request.Context(), owner, spender),
	})
}

func (n *Node) handleTransfer(ctx *gin.Context) {
	var req types.TransferRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	if req.Amount == nil {
		badRequest(ctx, errMissingAmount)
		return
	}
	if err := n.usdc.Transfer(ctx.Request.Context(), req.From, req.To, req.Amount); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (n *Node) handleApprove(ctx *gin.Context) {
	var req types.ApproveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	if req.Amount == nil {
		badRequest(ctx, errMissingAmount)
		return
	}
	if err := n.usdc.Approve(ctx.Request.Context(), req.From, req.Spender, req.Amount); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (n *Node) handleTokenOwner(ctx *gin.Context) {
	tokenID, ok := bigValue(ctx, "tokenId", ctx.Param("tokenId"), nil)
	if !ok {
		return
	}
	if tokenID == nil {
		badRequest(ctx, errors.New("tokenId is required"))
		return
	}
	owner, err := n.nft.OwnerOf(ctx.Request.Context(), tokenID)
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusNotFound, types.ErrorResponse{
			Error:   types.CodeOf(err),
			Message: err.Error(),
			Class:   types.ClassOf(err),
		})
		return
	}
	ctx.JSON(http.StatusOK, types.TokenOwnerResponse{TokenID: tokenID, Owner: owner})
}

func (n *Node) handleERC721ApprovalForAll(ctx *gin.Context) {
	var req types.ApprovalForAllRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	if err := n.nft.SetApprovalForAll(ctx.Request.Context(), req.From, req.Operator, req.Approved); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (n *Node) handleERC1155Balance(ctx *gin.Context) {
	owner, ok := addressParam(ctx, "address")
	if !ok {
		return
	}
	tokenID, ok := bigValue(ctx, "tokenId", ctx.Param("tokenId"), new(big.Int))
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, types.BalanceResponse{
		Address: owner,
		Balance: n.items.BalanceOf(ctx.Request.Context(), owner, tokenID),
	})
}

func (n *Node) handleERC1155ApprovalForAll(ctx *gin.Context) {
	var req types.ApprovalForAllRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	if err := n.items.SetApprovalForAll(ctx.Request.Context(), req.From, req.Operator, req.Approved); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (n *Node) handleNonceBitmap(ctx *gin.Context) {
	owner, ok := addressParam(ctx, "owner")
	if !ok {
		return
	}
	wordPos, ok := bigValue(ctx, "wordPos", ctx.Param("wordPos"), new(big.Int))
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, types.NonceBitmapResponse{
		Owner:   owner,
		WordPos: wordPos,
		Bitmap:  n.permit2.NonceBitmap(ctx.Request.Context(), owner, wordPos),
	})
}

// Owner-only mints. The owner account signs for the caller.

func (n *Node) handleMintUSDC(ctx *gin.Context) {
	var req types.MintRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	if req.Amount == nil {
		badRequest(ctx, errMissingAmount)
		return
	}
	if err := n.usdc.Mint(ctx.Request.Context(), n.config.Owner.Address, req.To, req.Amount); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (n *Node) handleMintERC721(ctx *gin.Context) {
	var req types.MintRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	if req.TokenID == nil {
		badRequest(ctx, errors.New("tokenId is required"))
		return
	}
	if err := n.nft.Mint(ctx.Request.Context(), n.config.Owner.Address, req.To, req.TokenID); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (n *Node) handleMintERC1155(ctx *gin.Context) {
	var req types.MintRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	if req.TokenID == nil || req.Amount == nil {
		badRequest(ctx, errors.New("tokenId and amount are required"))
		return
	}
	if err := n.items.Mint(ctx.Request.Context(), n.config.Owner.Address, req.To, req.TokenID, req.Amount); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
