package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/taskhub/internal/middleware"
	"github.com/osvaldoandrade/taskhub/internal/services"
	"github.com/osvaldoandrade/taskhub/pkg/persistence"
)

type getPayoutController struct {
	svc     services.LifecycleService
	payouts persistence.PayoutStorage
}

func NewGetPayoutController(svc services.LifecycleService, payouts persistence.PayoutStorage) *getPayoutController {
	return &getPayoutController{svc: svc, payouts: payouts}
}

func (h *getPayoutController) Handle(c *gin.Context) {
	agent, ok := middleware.AgentFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	task, err := h.svc.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	// Settlement details are visible only to the two parties.
	if task.PosterID != agent.ID && task.ClaimerID != agent.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	rec, err := h.payouts.GetByTask(c.Request.Context(), task.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no payout for task"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}
