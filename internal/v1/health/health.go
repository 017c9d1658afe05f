// Package health exposes the liveness and readiness probes on the admin
// HTTP plane. Readiness checks the two external services the game cannot
// run without: the identity service and the map catalogue.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tmbingo/bingo-server/internal/v1/logging"
)

// EndpointChecker probes one external HTTP dependency. Tests substitute
// a fake.
type EndpointChecker interface {
	Check(ctx context.Context, url string) string
}

// DefaultEndpointChecker considers a dependency healthy when it answers
// at all. A 4xx from the bare base URL still proves reachability; only
// transport failures and 5xx count as unhealthy.
type DefaultEndpointChecker struct {
	Client *http.Client
}

func (c *DefaultEndpointChecker) Check(ctx context.Context, url string) string {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "unhealthy"
	}
	resp, err := client.Do(req)
	if err != nil {
		logging.Warn(ctx, "dependency health check failed", zap.String("url", url), zap.Error(err))
		return "unhealthy"
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		logging.Warn(ctx, "dependency returned server error",
			zap.String("url", url), zap.Int("status", resp.StatusCode))
		return "unhealthy"
	}
	return "healthy"
}

// Handler serves the probe endpoints.
type Handler struct {
	identityURL  string
	catalogueURL string
	checker      EndpointChecker
}

// NewHandler creates a health handler probing the given base URLs. An
// empty identity URL (dev mode without a secret) skips that check.
func NewHandler(identityURL, catalogueURL string) *Handler {
	return &Handler{
		identityURL:  identityURL,
		catalogueURL: catalogueURL,
		checker:      &DefaultEndpointChecker{Client: &http.Client{Timeout: 3 * time.Second}},
	}
}

type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. It answers 200 whenever the process
// is running; no dependencies are consulted.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. It answers 200 only when every
// configured dependency is reachable, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.identityURL != "" {
		status := h.checker.Check(ctx, h.identityURL)
		checks["identity"] = status
		if status != "healthy" {
			allHealthy = false
		}
	}
	if h.catalogueURL != "" {
		status := h.checker.Check(ctx, h.catalogueURL)
		checks["map_catalogue"] = status
		if status != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
