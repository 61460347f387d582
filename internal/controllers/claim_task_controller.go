package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/taskhub/internal/middleware"
	"github.com/osvaldoandrade/taskhub/internal/services"
)

type claimTaskController struct{ svc services.LifecycleService }

func NewClaimTaskController(svc services.LifecycleService) *claimTaskController {
	return &claimTaskController{svc}
}

func (h *claimTaskController) Handle(c *gin.Context) {
	agent, ok := middleware.AgentFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	task, err := h.svc.Claim(c.Request.Context(), c.Param("id"), agent.ID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
