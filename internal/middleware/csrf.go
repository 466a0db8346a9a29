package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rustygpt/rustygpt/internal/auth"
	apierrors "github.com/rustygpt/rustygpt/internal/errors"
)

// CSRF enforces the double-submit check on mutating requests: the value in
// the CSRF cookie must match the one echoed in the request header. Must run
// after session authentication so the cookie provenance is established.
func CSRF(headerName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		// Bearer-authenticated API clients have no cookie jar to attack.
		if _, err := c.Cookie(auth.SessionCookie); err != nil {
			c.Next()
			return
		}

		// The authoritative value is the one stored on the session row; the
		// cookie is only the delivery vehicle.
		want := ""
		if id, ok := auth.FromContext(c); ok {
			want = id.Session.CSRFToken
			if id.Rotated {
				want = id.PrevCSRF
			}
		} else if cookie, err := c.Cookie(auth.CSRFCookie); err == nil {
			want = cookie
		}

		header := c.GetHeader(headerName)
		if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(header)) != 1 {
			apierrors.AbortWithForbidden(c, apierrors.CSRFMismatch())
			return
		}
		c.Next()
	}
}
