package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/taskhub/internal/services"
)

type reconcilePayoutController struct{ svc services.ReconcileService }

func NewReconcilePayoutController(svc services.ReconcileService) *reconcilePayoutController {
	return &reconcilePayoutController{svc}
}

func (h *reconcilePayoutController) Handle(c *gin.Context) {
	rec, err := h.svc.Reconcile(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
