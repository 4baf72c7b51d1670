package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Status is the live view served on /health.
type Status struct {
	Device   string `json:"device"`
	Commands int    `json:"commands"`
	Started  bool   `json:"started"`
}

// StatusFunc reports the current status.
type StatusFunc func() Status

// NewRouter builds the metrics and health surface for one node.
func NewRouter(node string, logger zerolog.Logger, status StatusFunc) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Instrument(node, logger))

	startedAt := time.Now()
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":   "ok",
			"uptime":   time.Since(startedAt).String(),
			"node":     node,
			"inflight": ReleaseInFlight(),
		}
		if status != nil {
			body["link"] = status()
		}
		c.JSON(http.StatusOK, body)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Serve runs handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
