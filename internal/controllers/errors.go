package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/taskhub/pkg/domain"
)

// writeDomainError maps the lifecycle/settlement error taxonomy onto HTTP.
// Partial settlements carry per-leg state and a reconciliation hint so
// operators never mistake them for retryable failures.
func writeDomainError(c *gin.Context, err error) {
	var partial *domain.PartialSettlementError
	if errors.As(err, &partial) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":         partial.Error(),
			"feeSettled":    partial.FeeSettled,
			"bountySettled": partial.BountySettled,
			"hint":          "partial settlement: reconcile via POST /v1/taskhub/admin/payouts/:taskId/reconcile",
		})
		return
	}
	var settlement *domain.SettlementError
	if errors.As(err, &settlement) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": settlement.Error()})
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, domain.ErrAlreadyClaimed):
		c.JSON(http.StatusConflict, gin.H{"error": "task already claimed"})
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task state for this operation"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
