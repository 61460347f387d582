package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/taskhub/internal/ledger"
	"github.com/osvaldoandrade/taskhub/internal/middleware"
	"github.com/osvaldoandrade/taskhub/internal/money"
)

type balanceController struct{ client ledger.Client }

func NewBalanceController(client ledger.Client) *balanceController {
	return &balanceController{client: client}
}

func (h *balanceController) Handle(c *gin.Context) {
	agent, ok := middleware.AgentFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	ctx := c.Request.Context()
	decimals, err := h.client.GetDecimals(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	minor, err := h.client.GetBalance(ctx, agent.LedgerAddress)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":      agent.LedgerAddress,
		"balance":      money.FromMinor(minor, decimals),
		"balanceMinor": minor,
		"decimals":     decimals,
	})
}
