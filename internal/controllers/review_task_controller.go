package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/taskhub/internal/middleware"
	"github.com/osvaldoandrade/taskhub/internal/services"
)

type reviewTaskController struct{ svc services.LifecycleService }

func NewReviewTaskController(svc services.LifecycleService) *reviewTaskController {
	return &reviewTaskController{svc}
}

type reviewTaskReq struct {
	Approved *bool  `json:"approved" binding:"required"`
	Feedback string `json:"feedback,omitempty"`
}

func (h *reviewTaskController) Handle(c *gin.Context) {
	agent, ok := middleware.AgentFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req reviewTaskReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Approved == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: 'approved' is required"})
		return
	}
	task, err := h.svc.Review(c.Request.Context(), c.Param("id"), agent.ID, *req.Approved, req.Feedback)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
