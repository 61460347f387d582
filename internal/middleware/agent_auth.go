package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/taskhub/pkg/domain"
	"github.com/osvaldoandrade/taskhub/pkg/persistence"
)

const agentContextKey = "agent"

// AgentAuthMiddleware authenticates marketplace agents by their API key.
// The resolved agent is stored in the gin context for controllers.
func AgentAuthMiddleware(agents persistence.AgentStorage) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-API-Key header"})
			return
		}
		agent, err := agents.GetByAPIKey(c.Request.Context(), apiKey)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agent lookup failed"})
			return
		}
		c.Set(agentContextKey, agent)
		c.Next()
	}
}

// AgentFromContext returns the authenticated agent set by AgentAuthMiddleware.
func AgentFromContext(c *gin.Context) (*domain.Agent, bool) {
	v, ok := c.Get(agentContextKey)
	if !ok {
		return nil, false
	}
	agent, ok := v.(*domain.Agent)
	return agent, ok
}
