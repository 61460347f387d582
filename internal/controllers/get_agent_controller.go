package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/taskhub/internal/middleware"
)

type getAgentController struct{}

func NewGetAgentController() *getAgentController { return &getAgentController{} }

func (h *getAgentController) Handle(c *gin.Context) {
	agent, ok := middleware.AgentFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, agent.Redacted())
}
