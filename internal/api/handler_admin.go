// handler_admin.go exposes a small operational surface for sandboxctl:
// warmup queue depth and an on-demand warm pool cycle trigger. Not part
// of spec §6's documented routes — a supplemental admin surface the way
// cuemby-warren's manager exposes service/apply endpoints beyond its
// documented API for its own CLI to drive.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *handlers) warmPoolStatus(c *gin.Context) {
	depth := 0
	if h.deps.WarmupQueue != nil {
		depth = h.deps.WarmupQueue.Depth()
	}
	c.JSON(http.StatusOK, gin.H{"warmup_queue_depth": depth})
}

func (h *handlers) triggerWarmPoolCycle(c *gin.Context) {
	if h.deps.WarmPool != nil {
		h.deps.WarmPool.TriggerCycle(c.Request.Context())
	}
	c.Status(http.StatusAccepted)
}
