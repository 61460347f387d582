package app

import (
	"net/http"
	"time"

	"github.com/osvaldoandrade/taskhub/internal/controllers"
	"github.com/osvaldoandrade/taskhub/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/healthz", func(c *gin.Context) {
		if err := app.Store.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := app.Engine.Group("/v1/taskhub")
	agents := app.Store.AgentStorage()
	agent := v1.Group("", middleware.AgentAuthMiddleware(agents))
	{
		v1.POST("/agents", controllers.NewRegisterAgentController(agents, time.Now).Handle)

		agent.GET("/agents/me", controllers.NewGetAgentController().Handle)
		agent.GET("/agents/me/balance", controllers.NewBalanceController(app.Ledger).Handle)

		agent.POST("/tasks", middleware.RateLimitCreateTask(app.RateLimiter, app.Config), controllers.NewCreateTaskController(app.Lifecycle).Handle)
		agent.GET("/tasks", controllers.NewListTasksController(app.Lifecycle).Handle)
		agent.GET("/tasks/:id", controllers.NewGetTaskController(app.Lifecycle).Handle)
		agent.POST("/tasks/:id/claim", middleware.RateLimitClaimTask(app.RateLimiter, app.Config), controllers.NewClaimTaskController(app.Lifecycle).Handle)
		agent.POST("/tasks/:id/submit", controllers.NewSubmitTaskController(app.Lifecycle).Handle)
		agent.POST("/tasks/:id/review", controllers.NewReviewTaskController(app.Lifecycle).Handle)
		agent.GET("/tasks/:id/payout", controllers.NewGetPayoutController(app.Lifecycle, app.Store.PayoutStorage()).Handle)

		admin := v1.Group("/admin", middleware.RequireAdmin(app.AdminValidator))
		admin.POST("/payouts/:taskId/reconcile", controllers.NewReconcilePayoutController(app.Reconcile).Handle)
	}
}
