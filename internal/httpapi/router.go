// Package httpapi exposes the upload and subscribe actions over HTTP for the
// dashboard layer, plus health and metrics endpoints.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"shipwatch/internal/changelog"
	"shipwatch/internal/normalize"
	"shipwatch/internal/pipeline"
)

// Engine is the slice of *pipeline.Pipeline the handlers need.
type Engine interface {
	Upload(ctx context.Context, rows []normalize.Row) (pipeline.Report, error)
	Subscribe(ctx context.Context, destination, target string) error
	Lookup(ctx context.Context, destination string) (string, bool, error)
}

// HistorySource lists upload history entries, oldest first.
type HistorySource func() ([]changelog.Entry, error)

// Deps are injected into the router.
type Deps struct {
	Engine         Engine
	History        HistorySource // optional
	Metrics        http.Handler  // optional
	Logger         zerolog.Logger
	MaxUploadBytes int64
}

// NewRouter builds the Gin engine with all routes mounted.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(requestLogger(d.Logger), gin.Recovery())

	r.NoRoute(func(c *gin.Context) { fail(c, http.StatusNotFound, ErrCodeNotFound, "route not found") })
	r.NoMethod(func(c *gin.Context) { fail(c, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed") })

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	h := &handlers{deps: d}
	api := r.Group("/api/v1")
	{
		api.POST("/uploads", h.upload)
		api.GET("/uploads", h.listUploads)
		api.PUT("/subscriptions/:shortId", h.subscribe)
		api.GET("/subscriptions/:shortId", h.getSubscription)
	}
	return r
}

// requestLogger logs one line per request at debug, or warn for 5xx.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		ev := logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = logger.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
