// Package api serves the read-only observability surface over HTTP: engine
// liveness and the running counters with queue depth. It holds read-only
// views of the engine and its stats; nothing here mutates them.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/stats"
)

// StateReader reports the engine lifecycle state.
type StateReader interface {
	State() engine.State
}

// SnapshotReader returns the current counters.
type SnapshotReader interface {
	Snapshot() stats.Snapshot
}

// DepthReader reports the number of pending intents.
type DepthReader interface {
	CountPending(ctx context.Context) (int64, error)
}

// Pinger checks backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option configures an API.
type Option func(*API)

// WithEngine sets the state source for /healthz.
func WithEngine(e StateReader) Option { return func(a *API) { a.engine = e } }

// WithStats sets the counter source for /stats.
func WithStats(s SnapshotReader) Option { return func(a *API) { a.stats = s } }

// WithQueue sets the queue depth source for /stats.
func WithQueue(q DepthReader) Option { return func(a *API) { a.queue = q } }

// WithPinger adds a backend connectivity check to /healthz. It may be
// given once per backend; every check must pass.
func WithPinger(p Pinger) Option {
	return func(a *API) {
		if p != nil {
			a.pingers = append(a.pingers, p)
		}
	}
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(a *API) { a.logger = l } }

// API wires the HTTP handlers.
type API struct {
	engine StateReader
	stats  SnapshotReader
	queue  DepthReader
	pingers []Pinger
	logger  *slog.Logger
}

// New creates an API.
func New(opts ...Option) *API {
	a := &API{logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the assembled http.Handler.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), a.requestLogger())
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the routes on an existing gin router.
func (a *API) RegisterRoutes(r gin.IRoutes) {
	r.GET("/healthz", a.healthz)
	r.GET("/stats", a.statsHandler)
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
