package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/courier/engine"
)

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state,omitempty"`
	Error  string `json:"error,omitempty"`
}

// healthz is 200 only while the engine is Running and the backend answers.
func (a *API) healthz(c *gin.Context) {
	resp := HealthResponse{Status: "healthy"}

	if a.engine != nil {
		state := a.engine.State()
		resp.State = state.String()
		if state != engine.StateRunning {
			resp.Status = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}

	var errs []error
	for _, p := range a.pingers {
		if err := p.Ping(c.Request.Context()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		resp.Status = "unhealthy"
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}
