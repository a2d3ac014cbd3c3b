package node

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vorpalengineering/usdc-market/types"
)

var classStatus = map[types.ErrorClass]int{
	types.ClassMalformed:     http.StatusBadRequest,
	types.ClassAuthorization: http.StatusForbidden,
	types.ClassTemporal:      http.StatusUnprocessableEntity,
	types.ClassStateConflict: http.StatusConflict,
	types.ClassFunds:         http.StatusPaymentRequired,
	types.ClassAssetTransfer: http.StatusFailedDependency,
	types.ClassPaused:        http.StatusServiceUnavailable,
	types.ClassInternal:      http.StatusInternalServerError,
}

func statusFor(err error) int {
	if status, ok := classStatus[types.ClassOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// abortWithError writes err as an ErrorResponse with the status its class
// maps to.
func abortWithError(ctx *gin.Context, err error) {
	ctx.AbortWithStatusJSON(statusFor(err), types.ErrorResponse{
		Error:   types.CodeOf(err),
		Message: err.Error(),
		Class:   types.ClassOf(err),
	})
}

// abortLookup is abortWithError for reads, where a missing listing or
// purchase is a 404.
func abortLookup(ctx *gin.Context, err error) {
	if errors.Is(err, types.ErrInvalidListing) || errors.Is(err, types.ErrPurchaseNotFound) {
		ctx.AbortWithStatusJSON(http.StatusNotFound, types.ErrorResponse{
			Error:   types.CodeOf(err),
			Message: err.Error(),
			Class:   types.ClassOf(err),
		})
		return
	}
	abortWithError(ctx, err)
}

func badRequest(ctx *gin.Context, err error) {
	ctx.AbortWithStatusJSON(http.StatusBadRequest, types.ErrorResponse{
		Error:   "invalid_request",
		Message: err.Error(),
		Class:   types.ClassMalformed,
	})
}
