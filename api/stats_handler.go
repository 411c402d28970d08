package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/courier/stats"
)

// StatsResponse is the /stats body.
type StatsResponse struct {
	Stats      stats.Snapshot `json:"stats"`
	Pending    *int64         `json:"pending,omitempty"`
	QueueError string         `json:"queue_error,omitempty"`
}

func (a *API) statsHandler(c *gin.Context) {
	var resp StatsResponse
	if a.stats != nil {
		resp.Stats = a.stats.Snapshot()
	}

	if a.queue != nil {
		n, err := a.queue.CountPending(c.Request.Context())
		if err != nil {
			a.logger.Warn("stats: queue depth unavailable", slog.String("error", err.Error()))
			resp.QueueError = err.Error()
		} else {
			resp.Pending = &n
		}
	}

	c.JSON(http.StatusOK, resp)
}
