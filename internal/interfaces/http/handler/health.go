package handler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/delivery/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// Health statuses
const (
	StatusUp   = "up"
	StatusDown = "down"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// HealthHandler reports whether the database and Redis are reachable
type HealthHandler struct {
	BaseHandler
	timeout time.Duration
	names   []string
	checks  map[string]HealthCheck
}

// NewHealthHandler creates a handler that runs each check with the given timeout
func NewHealthHandler(timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{timeout: timeout, checks: make(map[string]HealthCheck)}
}

// WithCheck registers a named check
func (h *HealthHandler) WithCheck(name string, check HealthCheck) *HealthHandler {
	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
		sort.Strings(h.names)
	}
	h.checks[name] = check
	return h
}

// ComponentHealth is the result of one check
type ComponentHealth struct {
	Status  string `json:"status"`
	Latency string `json:"latency"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
}

// Check runs every check concurrently
func (h *HealthHandler) Check(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	resp := HealthResponse{Status: StatusUp, Components: make(map[string]ComponentHealth, len(h.names))}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range h.names {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()
			start := time.Now()
			err := check(ctx)
			result := ComponentHealth{Status: StatusUp, Latency: time.Since(start).Round(time.Microsecond).String()}
			if err != nil {
				result.Status = StatusDown
				result.Error = err.Error()
			}
			mu.Lock()
			resp.Components[name] = result
			if err != nil {
				resp.Status = StatusDown
			}
			mu.Unlock()
		}(name, h.checks[name])
	}
	wg.Wait()
	return resp
}

// Health handles GET /health: 200 when every component is up, 503 otherwise
func (h *HealthHandler) Health(c *gin.Context) {
	resp := h.Check(c.Request.Context())
	if resp.Status == StatusUp {
		h.Success(c, resp)
		return
	}
	c.JSON(dto.GetHTTPStatus(dto.ErrCodeUnavailable),
		dto.NewErrorResponseWithData(dto.ErrCodeUnavailable, "one or more components are down", getRequestID(c), resp))
}

// RegisterRoutes mounts the health endpoint
func (h *HealthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)
}
