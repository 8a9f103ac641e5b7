package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterAllowWithinLimit(t *testing.T) {
	r := NewInMemoryRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !r.Allow("1.2.3.4") {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if r.Allow("1.2.3.4") {
		t.Fatal("fourth request should be refused")
	}
	// Other keys are independent.
	if !r.Allow("5.6.7.8") {
		t.Fatal("different client should not be affected")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	r := NewInMemoryRateLimiter(1, 20*time.Millisecond)
	if !r.Allow("k") {
		t.Fatal("first request should pass")
	}
	if r.Allow("k") {
		t.Fatal("second request inside the window should be refused")
	}
	time.Sleep(30 * time.Millisecond)
	if !r.Allow("k") {
		t.Fatal("request after the window should pass again")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimit(NewInMemoryRateLimiter(2, time.Minute)))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "9.9.9.9:1234"
		router.ServeHTTP(rec, req)
		return rec.Code
	}
	if do() != http.StatusOK || do() != http.StatusOK {
		t.Fatal("first two requests should pass")
	}
	if code := do(); code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", code)
	}
}
