package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/taskhub/internal/services"
	"github.com/osvaldoandrade/taskhub/pkg/domain"
)

type listTasksController struct{ svc services.LifecycleService }

func NewListTasksController(svc services.LifecycleService) *listTasksController {
	return &listTasksController{svc}
}

func (h *listTasksController) Handle(c *gin.Context) {
	status := domain.TaskStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'status' filter"})
		return
	}
	skip, err := parseQueryInt(c, "skip", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'skip'"})
		return
	}
	limit, err := parseQueryInt(c, "limit", 50)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit'"})
		return
	}

	tasks, err := h.svc.ListTasks(c.Request.Context(), status, skip, limit)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "skip": skip, "limit": limit})
}

func parseQueryInt(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
