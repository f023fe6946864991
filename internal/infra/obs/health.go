package obs

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthHandlers exposes endpoints for liveness and readiness checks.
type HealthHandlers struct {
	Ready func(ctx context.Context) error
}

func (h HealthHandlers) Livez(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h HealthHandlers) Readyz(c *gin.Context) {
	if h.Ready != nil {
		if err := h.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
	}
	c.Status(http.StatusOK)
}

// HealthReporter mirrors a readiness probe into a gRPC health server.
type HealthReporter struct {
	Server   *health.Server
	Service  string
	Ready    func(ctx context.Context) error
	Interval time.Duration
	Logger   *slog.Logger
}

// Run probes readiness until ctx is done, then marks the service not serving.
func (r *HealthReporter) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			r.Server.Shutdown()
			return
		case <-ticker.C:
			r.probe(ctx)
		}
	}
}

func (r *HealthReporter) probe(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if r.Ready != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := r.Ready(pctx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if r.Logger != nil {
				r.Logger.Warn("readiness probe failed", "service", r.Service, "error", err)
			}
		}
	}
	r.Server.SetServingStatus(r.Service, status)
	r.Server.SetServingStatus("", status)
}
