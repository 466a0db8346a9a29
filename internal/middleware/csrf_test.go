package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/rustygpt/rustygpt/internal/auth"
	"github.com/rustygpt/rustygpt/internal/store"
)

const csrfHeader = "X-CSRF-Token"

func csrfRouter(identity *auth.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if identity != nil {
		r.Use(func(c *gin.Context) {
			c.Set(auth.IdentityContextKey, identity)
		})
	}
	r.Use(CSRF(csrfHeader))
	handler := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/x", handler)
	r.POST("/x", handler)
	return r
}

func doCSRF(r *gin.Engine, method string, cookies map[string]string, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/x", nil)
	for name, v := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: v})
	}
	if header != "" {
		req.Header.Set(csrfHeader, header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCSRFSkipsSafeMethods(t *testing.T) {
	r := csrfRouter(nil)
	rec := doCSRF(r, http.MethodGet, map[string]string{auth.SessionCookie: "s"}, "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET should bypass CSRF, got %d", rec.Code)
	}
}

func TestCSRFSkipsCookielessClients(t *testing.T) {
	// Bearer-token API clients carry no cookies, so there is nothing for a
	// cross-site request to ride on.
	r := csrfRouter(nil)
	rec := doCSRF(r, http.MethodPost, nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("cookie-less POST should bypass CSRF, got %d", rec.Code)
	}
}

func TestCSRFDoubleSubmit(t *testing.T) {
	r := csrfRouter(nil)
	cookies := map[string]string{auth.SessionCookie: "s", auth.CSRFCookie: "tok123"}

	if rec := doCSRF(r, http.MethodPost, cookies, "tok123"); rec.Code != http.StatusOK {
		t.Errorf("matching header should pass, got %d", rec.Code)
	}
	if rec := doCSRF(r, http.MethodPost, cookies, "wrong"); rec.Code != http.StatusForbidden {
		t.Errorf("mismatched header should 403, got %d", rec.Code)
	}
	if rec := doCSRF(r, http.MethodPost, cookies, ""); rec.Code != http.StatusForbidden {
		t.Errorf("missing header should 403, got %d", rec.Code)
	}
}

func TestCSRFUsesSessionToken(t *testing.T) {
	id := &auth.Identity{Session: &store.Session{CSRFToken: "session-token"}}
	r := csrfRouter(id)
	cookies := map[string]string{auth.SessionCookie: "s", auth.CSRFCookie: "stale-cookie"}

	// The session row wins over whatever the cookie claims.
	if rec := doCSRF(r, http.MethodPost, cookies, "session-token"); rec.Code != http.StatusOK {
		t.Errorf("session token should pass, got %d", rec.Code)
	}
	if rec := doCSRF(r, http.MethodPost, cookies, "stale-cookie"); rec.Code != http.StatusForbidden {
		t.Errorf("cookie value must not override the session token, got %d", rec.Code)
	}
}

func TestCSRFAcceptsPreviousTokenDuringRotation(t *testing.T) {
	// The request that triggers rotation was sent with the old header value;
	// it must still verify against the pre-rotation token.
	id := &auth.Identity{
		Session:  &store.Session{CSRFToken: "new-token"},
		Rotated:  true,
		PrevCSRF: "old-token",
	}
	r := csrfRouter(id)
	cookies := map[string]string{auth.SessionCookie: "s"}

	if rec := doCSRF(r, http.MethodPost, cookies, "old-token"); rec.Code != http.StatusOK {
		t.Errorf("pre-rotation token should pass on the rotating request, got %d", rec.Code)
	}
	if rec := doCSRF(r, http.MethodPost, cookies, "new-token"); rec.Code != http.StatusForbidden {
		t.Errorf("the client cannot know the new token yet, got %d", rec.Code)
	}
}
