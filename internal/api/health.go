package api

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status       string               `json:"status"` // "healthy" or "degraded"
	Timestamp    time.Time            `json:"timestamp"`
	InstanceID   string               `json:"instance_id,omitempty"`
	Uptime       int64                `json:"uptime_seconds"`
	Goroutines   int                  `json:"goroutines"`
	Dependencies map[string]DepHealth `json:"dependencies"`
}

// DepHealth represents the health of a dependency.
type DepHealth struct {
	Status  string `json:"status"` // "healthy" or "unhealthy"
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms"`
}

var (
	startTime  = time.Now()
	instanceID = getInstanceID()
)

// handleHealth reports 200 when every dependency check passes, else 503.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:       "healthy",
		Timestamp:    time.Now().UTC(),
		InstanceID:   instanceID,
		Uptime:       int64(time.Since(startTime).Seconds()),
		Goroutines:   runtime.NumGoroutine(),
		Dependencies: make(map[string]DepHealth, len(s.checks)),
	}
	for name, check := range s.checks {
		start := time.Now()
		dep := DepHealth{Status: "healthy"}
		if err := check(ctx); err != nil {
			dep.Status = "unhealthy"
			dep.Message = err.Error()
			status.Status = "degraded"
		}
		dep.Latency = time.Since(start).Milliseconds()
		status.Dependencies[name] = dep
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func getInstanceID() string {
	if id := os.Getenv("HOSTNAME"); id != "" {
		return id
	}
	host, _ := os.Hostname()
	return host
}
