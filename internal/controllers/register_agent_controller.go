package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/osvaldoandrade/taskhub/pkg/domain"
	"github.com/osvaldoandrade/taskhub/pkg/persistence"
)

type registerAgentController struct {
	agents persistence.AgentStorage
	now    func() time.Time
}

func NewRegisterAgentController(agents persistence.AgentStorage, now func() time.Time) *registerAgentController {
	if now == nil {
		now = time.Now
	}
	return &registerAgentController{agents: agents, now: now}
}

type registerAgentReq struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description,omitempty"`
}

func (h *registerAgentController) Handle(c *gin.Context) {
	var req registerAgentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	agent := &domain.Agent{
		ID:          uuid.NewString(),
		Name:        name,
		Description: req.Description,
		// Returned exactly once, here.
		APIKey:        uuid.NewString(),
		LedgerAddress: "acct-" + uuid.NewString(),
		ReferralCode:  uuid.NewString()[:8],
		CreatedAt:     h.now().UTC(),
	}
	if err := h.agents.Create(c.Request.Context(), agent); err != nil {
		if errors.Is(err, persistence.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "agent name already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, agent)
}
