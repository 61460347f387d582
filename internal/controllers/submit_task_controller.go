package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/taskhub/internal/middleware"
	"github.com/osvaldoandrade/taskhub/internal/services"
)

type submitTaskController struct{ svc services.LifecycleService }

func NewSubmitTaskController(svc services.LifecycleService) *submitTaskController {
	return &submitTaskController{svc}
}

type submitTaskReq struct {
	Content string `json:"content" binding:"required"`
}

func (h *submitTaskController) Handle(c *gin.Context) {
	agent, ok := middleware.AgentFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req submitTaskReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	task, err := h.svc.Submit(c.Request.Context(), c.Param("id"), agent.ID, req.Content)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
