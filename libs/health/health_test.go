package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestReadinessReportsNotReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/readyz", ReadinessHandler(NewManager(false)))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestReadinessRunsChecks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewManager(true)
	m.AddCheck("postgres", func(context.Context) error { return nil })
	r := gin.New()
	r.GET("/readyz", ReadinessHandler(m))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	m.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with failing check, got %d", w.Code)
	}

	failures := m.Evaluate(context.Background())
	if failures["redis"] != "connection refused" {
		t.Fatalf("expected redis failure, got %v", failures)
	}
	if _, ok := failures["postgres"]; ok {
		t.Fatalf("postgres check should pass")
	}
}
