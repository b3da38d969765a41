package httpmiddleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestIDIsPropagated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(slog.Default()))
	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if seen != "req-42" {
		t.Fatalf("expected request id in context, got %q", seen)
	}
	if w.Header().Get(RequestIDHeader) != "req-42" {
		t.Fatalf("expected request id header echoed")
	}
}

func TestRecoveryReturnsJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := metrics.NewHTTPMetrics(prometheus.NewRegistry())
	r := gin.New()
	r.Use(RequestID(nil), Logger(nil, m), Recovery(nil))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if got := testutil.ToFloat64(m.RequestCount.WithLabelValues(http.MethodGet, "/boom", "500")); got != 1 {
		t.Fatalf("expected one observed request, got %v", got)
	}
}
