package node

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vorpalengineering/usdc-market/fees"
	"github.com/vorpalengineering/usdc-market/types"
)

func (n *Node) handleProtocolStatus(ctx *gin.Context) {
	c := ctx.Request.Context()
	ctx.JSON(http.StatusOK, types.ProtocolStatusResponse{
		Address:      n.protocol.Address(),
		Owner:        n.protocol.Owner(c),
		FeeCollector: n.protocol.FeeCollector(c),
		Paused:       n.protocol.Paused(c),
		FeeBps:       fees.ProtocolFeeBps,
	})
}

func (n *Node) handleProtocolFee(ctx *gin.Context) {
	amount, ok := bigValue(ctx, "amount", ctx.Query("amount"), nil)
	if !ok {
		return
	}
	if amount == nil {
		badRequest(ctx, errMissingAmount)
		return
	}
	ctx.JSON(http.StatusOK, types.FeeResponse{
		Amount:      amount,
		ProtocolFee: n.protocol.CalculateProtocolFee(amount),
	})
}

func (n *Node) handleHash(ctx *gin.Context) {
	var req types.PaymentIntentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	hash, err := n.protocol.HashPaymentIntent(&req.Intent)
	if err != nil {
		badRequest(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, types.HashResponse{Hash: hash})
}

// handleVerify reports validity in the body. A rejected intent is still a
// successful verification call.
func (n *Node) handleVerify(ctx *gin.Context) {
	var req types.PaymentIntentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}

	err := n.protocol.VerifyPaymentIntent(ctx.Request.Context(), &req.Intent)
	if err != nil {
		ctx.JSON(http.StatusOK, types.VerifyResponse{
			IsValid:       false,
			InvalidReason: err.Error(),
			Code:          types.CodeOf(err),
			Class:         types.ClassOf(err),
		})
		return
	}
	ctx.JSON(http.StatusOK, types.VerifyResponse{IsValid: true})
}

func (n *Node) handleNonce(ctx *gin.Context) {
	sender, ok := addressParam(ctx, "address")
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, types.NonceResponse{
		Address: sender,
		Nonce:   n.protocol.GetCurrentNonce(ctx.Request.Context(), sender),
	})
}

func (n *Node) handlePaymentStatus(ctx *gin.Context) {
	id, ok := hashParam(ctx, "id")
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, types.PaymentStatusResponse{
		PaymentID: id,
		Processed: n.protocol.IsPaymentProcessed(ctx.Request.Context(), id),
	})
}

// handleProcessPayment executes a signed intent directly against the
// protocol, outside any marketplace purchase.
func (n *Node) handleProcessPayment(ctx *gin.Context) {
	var req types.ProcessPaymentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}

	c := ctx.Request.Context()
	var err error
	switch req.Funding {
	case types.FundingPreApproved, "":
		err = n.protocol.ProcessPreApproved(c, &req.Intent)
	case types.FundingDelegated:
		if req.Authorization == nil {
			badRequest(ctx, errors.New("authorization is required for delegated funding"))
			return
		}
		err = n.protocol.ProcessWithDelegatedTransfer(c, &req.Intent, req.Authorization)
	default:
		abortWithError(ctx, types.ErrInvalidFundingMode)
		return
	}
	if err != nil {
		abortWithError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, types.ProcessPaymentResponse{
		PaymentID: req.Intent.ID,
		Sender:    req.Intent.Sender,
		NextNonce: n.protocol.GetCurrentNonce(c, req.Intent.Sender),
	})
}

func (n *Node) handleUpdateFeeCollector(ctx *gin.Context) {
	var req types.AddressRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	if err := n.protocol.UpdateFeeCollector(ctx.Request.Context(), n.config.Owner.Address, req.Address); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (n *Node) handlePauseProtocol(ctx *gin.Context) {
	if err := n.protocol.Pause(ctx.Request.Context(), n.config.Owner.Address); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (n *Node) handleUnpauseProtocol(ctx *gin.Context) {
	if err := n.protocol.Unpause(ctx.Request.Context(), n.config.Owner.Address); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (n *Node) handleEmergencyWithdraw(ctx *gin.Context) {
	var req types.WithdrawRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	if req.Amount == nil {
		badRequest(ctx, errMissingAmount)
		return
	}
	if err := n.protocol.EmergencyWithdraw(ctx.Request.Context(), n.config.Owner.Address, req.Token, req.Amount); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
