// Package health polls a started service until every required route answers.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jordanhubbard/healloop/internal/logging"
)

const (
	// DefaultRetries is the number of full polling passes before giving up.
	DefaultRetries = 12
	// DefaultDelay separates polling passes.
	DefaultDelay = 2 * time.Second
	// DefaultRequestTimeout bounds each route request.
	DefaultRequestTimeout = 3 * time.Second
)

// Result is the outcome of a health check.
type Result struct {
	Healthy  bool
	Attempts int
	// Status is a compact per-route summary of the last pass, e.g.
	// "/health:200 /users:404".
	Status string
}

// Checker probes a service's required routes.
type Checker struct {
	Retries        int
	Delay          time.Duration
	RequestTimeout time.Duration
	// BaseURL overrides http://127.0.0.1:<port> when set; used by tests.
	BaseURL string

	client *http.Client
	logger *slog.Logger
}

// NewChecker creates a checker with the given budget. Zero values fall back
// to the package defaults.
func NewChecker(retries int, delay, requestTimeout time.Duration) *Checker {
	if retries <= 0 {
		retries = DefaultRetries
	}
	if delay < 0 {
		delay = DefaultDelay
	}
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Checker{
		Retries:        retries,
		Delay:          delay,
		RequestTimeout: requestTimeout,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logging.New("health"),
	}
}

// Check polls routes on port until one pass sees every route succeed or the
// retry budget is spent. routes[0] is the liveness route and is probed
// alone first; the rest are probed concurrently only when it succeeds.
func (c *Checker) Check(ctx context.Context, port int, routes []string) Result {
	base := c.BaseURL
	if base == "" {
		base = fmt.Sprintf("http://127.0.0.1:%d", port)
	}
	base = strings.TrimSuffix(base, "/")

	var status string
	for attempt := 1; attempt <= c.Retries; attempt++ {
		ok, s := c.pass(ctx, base, routes)
		status = s
		if ok {
			c.logger.Info("service healthy", "port", port, "attempt", attempt, "status", status)
			return Result{Healthy: true, Attempts: attempt, Status: status}
		}
		c.logger.Debug("health pass failed", "port", port, "attempt", attempt, "status", status)

		if attempt == c.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return Result{
				Attempts: attempt,
				Status:   fmt.Sprintf("health check failed: %v; last pass: %s", ctx.Err(), status),
			}
		case <-time.After(c.Delay):
		}
	}

	return Result{
		Attempts: c.Retries,
		Status:   fmt.Sprintf("health check failed after %d attempts: %s", c.Retries, status),
	}
}

// pass probes every route once. The returned status lists each route that
// was probed in the order given.
func (c *Checker) pass(ctx context.Context, base string, routes []string) (bool, string) {
	if len(routes) == 0 {
		return false, "no routes"
	}

	results := make([]string, len(routes))
	results[0] = c.probe(ctx, base, routes[0])
	if !isOK(results[0]) {
		return false, routes[0] + ":" + results[0]
	}

	var mu sync.Mutex
	allOK := true
	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i < len(routes); i++ {
		g.Go(func() error {
			code := c.probe(gctx, base, routes[i])
			mu.Lock()
			results[i] = code
			if !isOK(code) {
				allOK = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	parts := make([]string, len(routes))
	for i, r := range routes {
		parts[i] = r + ":" + results[i]
	}
	return allOK, strings.Join(parts, " ")
}

// probe returns the status code as text, or a short failure word.
func (c *Checker) probe(ctx context.Context, base, route string) string {
	reqCtx, cancel := context.WithTimeout(ctx, c.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, base+route, nil)
	if err != nil {
		return "badrequest"
	}
	resp, err := c.client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return "timeout"
		case strings.Contains(err.Error(), "connection refused"):
			return "refused"
		default:
			return "error"
		}
	}
	resp.Body.Close()
	return fmt.Sprintf("%d", resp.StatusCode)
}

func isOK(code string) bool {
	return len(code) == 3 && code[0] == '2'
}
