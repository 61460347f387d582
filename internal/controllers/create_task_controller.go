package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/taskhub/internal/middleware"
	"github.com/osvaldoandrade/taskhub/internal/services"
	"github.com/shopspring/decimal"
)

type createTaskController struct{ svc services.LifecycleService }

func NewCreateTaskController(svc services.LifecycleService) *createTaskController {
	return &createTaskController{svc}
}

type createTaskReq struct {
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Deadline    string          `json:"deadline,omitempty"` // RFC3339
}

func (h *createTaskController) Handle(c *gin.Context) {
	agent, ok := middleware.AgentFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req createTaskReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	var deadline *time.Time
	if req.Deadline != "" {
		t, err := time.Parse(time.RFC3339, req.Deadline)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'deadline' (use RFC3339)"})
			return
		}
		deadline = &t
	}

	task, err := h.svc.CreateTask(c.Request.Context(), agent.ID, req.Title, req.Description, req.Amount, deadline)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, task)
}
