package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/inference-gateway/internal/task"
	"github.com/nulzo/inference-gateway/pkg/api"
)

type TaskHandler struct {
	tasks *task.Manager
}

func NewTaskHandler(tasks *task.Manager) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// List returns every live streaming task, oldest first.
func (h *TaskHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, api.List(h.tasks.List()))
}

func (h *TaskHandler) Get(c *gin.Context) {
	snap, err := h.tasks.Get(c.Param("task_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Cancel asks a live task to stop. Repeating the call reports cancelled=false.
func (h *TaskHandler) Cancel(c *gin.Context) {
	id := c.Param("task_id")
	if _, err := h.tasks.Get(id); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, api.CancelResponse{
		Cancelled: h.tasks.Cancel(id),
		TaskID:    id,
	})
}
