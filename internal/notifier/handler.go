package notifier

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sunomsi/backend/internal/httpx"
)

// Register mounts the trigger endpoint. The contract: 200 {"success":true}
// on any processed event including no-op skips; non-200 {"error":...} only
// when the body cannot be parsed.
func Register(rg *gin.RouterGroup, n *Notifier) {
	rg.POST("/functions/push-notification", func(c *gin.Context) {
		var ev ChangeEvent
		if err := c.ShouldBindJSON(&ev); err != nil {
			httpx.Err(c, http.StatusBadRequest, err.Error())
			return
		}
		if err := n.Process(c.Request.Context(), ev); err != nil {
			// Downstream failures don't fail the invocation; the push
			// transport owns retries, not this function.
			slog.Error("notifier: process failed", "err", err)
		}
		httpx.OK(c, gin.H{"success": true})
	})
}
