package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSplitFullMethod(t *testing.T) {
	service, method := splitFullMethod("/grpc.health.v1.Health/Check")
	assert.Equal(t, "grpc.health.v1.Health", service)
	assert.Equal(t, "Check", method)

	service, method = splitFullMethod("bogus")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "unknown", method)
}

func TestHTTPMetricsMiddlewareCountsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsMiddleware())
	r.GET("/rooms", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/rooms", "200"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/rooms", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/rooms", "200"))

	assert.Equal(t, before+1, after)
}

func TestBuildHeaders(t *testing.T) {
	assert.Equal(t, map[string]string{"x-request-id": "r", "trace_id": "t"}, BuildHeaders("r", "t"))
	assert.Empty(t, BuildHeaders("", ""))
}
