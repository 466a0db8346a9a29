package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rustygpt/rustygpt/internal/config"
)

const (
	SessionCookie = "rgp_session"
	// CSRFCookie is readable by the frontend so it can echo the value back in
	// the request header (double-submit).
	CSRFCookie = "rgp_csrf"
)

// CookieWriter applies the configured cookie policy when issuing or clearing
// session credentials.
type CookieWriter struct {
	Secure   bool
	SameSite http.SameSite
	Domain   string
	MaxAge   int
}

func NewCookieWriter(cfg *config.Config) *CookieWriter {
	sameSite := http.SameSiteLaxMode
	switch cfg.CookieSameSite {
	case "strict":
		sameSite = http.SameSiteStrictMode
	case "none":
		sameSite = http.SameSiteNoneMode
	}
	return &CookieWriter{
		Secure:   cfg.CookieSecure,
		SameSite: sameSite,
		Domain:   cfg.CookieDomain,
		MaxAge:   int(cfg.IdleWindow().Seconds()),
	}
}

// Write sets the session and CSRF cookies, both capped at the idle window.
// Server-side expiry still governs; Max-Age just keeps stale cookies from
// outliving it in the browser. The CSRF cookie is always Strict so cross-site
// navigations never carry it.
func (w *CookieWriter) Write(c *gin.Context, token, csrf string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Domain:   w.Domain,
		MaxAge:   w.MaxAge,
		Secure:   w.Secure,
		HttpOnly: true,
		SameSite: w.SameSite,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CSRFCookie,
		Value:    csrf,
		Path:     "/",
		Domain:   w.Domain,
		MaxAge:   w.MaxAge,
		Secure:   w.Secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

// Clear expires both cookies.
func (w *CookieWriter) Clear(c *gin.Context) {
	for _, name := range []string{SessionCookie, CSRFCookie} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   w.Domain,
			Secure:   w.Secure,
			HttpOnly: name == SessionCookie,
			SameSite: w.SameSite,
			MaxAge:   -1,
		})
	}
}
