package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/delivery/backend/internal/infrastructure/logger"
	"github.com/delivery/backend/internal/interfaces/http/handler"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type panicRoute struct{}

func (panicRoute) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/panic", func(*gin.Context) { panic("boom") })
}

func testEngine(opts Options) *gin.Engine {
	health := handler.NewHealthHandler(time.Second).
		WithCheck("database", func(context.Context) error { return nil })
	return NewEngine(opts, health, handler.NewSystemHandler("cashbox", "dev", "test"), panicRoute{})
}

func TestRouterRegister(t *testing.T) {
	r := NewRouter(gin.New())
	r.Register(panicRoute{}).Register(handler.NewSystemHandler("cashbox", "dev", "test"))
	assert.Len(t, r.registrars, 2)
}

func TestNewEngine_Routes(t *testing.T) {
	engine := testEngine(Options{})

	for _, path := range []string{"/health", "/system/ping", "/system/info"} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.NotEmpty(t, w.Header().Get(logger.RequestIDHeader), path)
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"), path)
	}
}

func TestNewEngine_NoBusinessRoutes(t *testing.T) {
	engine := testEngine(Options{})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/cashbox/income", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "ERR_NOT_FOUND")
}

func TestNewEngine_RecoversPanics(t *testing.T) {
	engine := testEngine(Options{})

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestNewEngine_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	engine := testEngine(Options{Meter: mp.Meter("http.server")})
	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/system/ping", nil))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics)
	assert.NotEmpty(t, rm.ScopeMetrics[0].Metrics)
}
