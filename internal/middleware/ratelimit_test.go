package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/rustygpt/rustygpt/internal/auth"
)

func limiterRouter(readRPS float64, readBurst int, writeRPS float64, writeBurst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRateLimiter(readRPS, readBurst, writeRPS, writeBurst).Handler())
	handler := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/x", handler)
	r.POST("/x", handler)
	return r
}

func hit(r *gin.Engine, method, cookie string) int {
	req := httptest.NewRequest(method, "/x", nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: cookie})
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec.Code
}

func TestWriteBucketExhausts(t *testing.T) {
	r := limiterRouter(100, 100, 1, 2)

	if code := hit(r, http.MethodPost, "sess"); code != http.StatusOK {
		t.Fatalf("first write: %d", code)
	}
	if code := hit(r, http.MethodPost, "sess"); code != http.StatusOK {
		t.Fatalf("second write: %d", code)
	}
	if code := hit(r, http.MethodPost, "sess"); code != http.StatusTooManyRequests {
		t.Errorf("burst exceeded, expected 429, got %d", code)
	}
}

func TestReadAndWriteBucketsAreIndependent(t *testing.T) {
	r := limiterRouter(100, 100, 1, 1)

	if code := hit(r, http.MethodPost, "sess"); code != http.StatusOK {
		t.Fatalf("write: %d", code)
	}
	if code := hit(r, http.MethodPost, "sess"); code != http.StatusTooManyRequests {
		t.Fatalf("write bucket should be empty, got %d", code)
	}
	if code := hit(r, http.MethodGet, "sess"); code != http.StatusOK {
		t.Errorf("read bucket must be unaffected by write exhaustion, got %d", code)
	}
}

func TestBucketsAreKeyedPerClient(t *testing.T) {
	r := limiterRouter(100, 100, 1, 1)

	if code := hit(r, http.MethodPost, "alice"); code != http.StatusOK {
		t.Fatalf("alice: %d", code)
	}
	if code := hit(r, http.MethodPost, "alice"); code != http.StatusTooManyRequests {
		t.Fatalf("alice should be limited, got %d", code)
	}
	if code := hit(r, http.MethodPost, "bob"); code != http.StatusOK {
		t.Errorf("bob has a separate bucket, got %d", code)
	}
}
