package auth

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apierrors "github.com/rustygpt/rustygpt/internal/errors"
	"github.com/rustygpt/rustygpt/internal/logger"
)

const (
	// IdentityContextKey is where RequireSession stores the *Identity on the
	// gin context.
	IdentityContextKey = "auth_identity"
	// RotatedHeader tells clients their credentials were replaced in-band.
	RotatedHeader = "X-Session-Rotated"
)

// Middleware authenticates every request on the protected surface. The token
// comes from the session cookie, or a Bearer header for non-browser clients.
type Middleware struct {
	service *Service
	cookies *CookieWriter
	log     *slog.Logger
}

func NewMiddleware(service *Service, cookies *CookieWriter, log *slog.Logger) *Middleware {
	return &Middleware{service: service, cookies: cookies, log: logger.WithComponent(log, "auth_middleware")}
}

// RequireSession validates the bearer token and binds the resulting identity
// to the request context. Rotation happens transparently: the response gains
// fresh cookies plus X-Session-Rotated: 1.
func (m *Middleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := m.extractToken(c)
		if token == "" {
			apierrors.AbortWithUnauthorized(c, apierrors.CodeInvalidSession, "Authentication required", nil)
			return
		}

		id, err := m.service.Validate(c.Request.Context(), token, ClientMeta{
			UserAgent: c.Request.UserAgent(),
			IP:        c.ClientIP(),
		})
		if err != nil {
			m.abort(c, err)
			return
		}

		if id.Rotated {
			m.cookies.Write(c, id.NewToken, id.NewCSRF)
			c.Header(RotatedHeader, "1")
		}

		c.Set(IdentityContextKey, id)
		c.Request = c.Request.WithContext(
			logger.WithUserID(c.Request.Context(), id.Session.UserID.String()))
		c.Next()
	}
}

// OptionalSession binds an identity when credentials are present but lets
// anonymous requests through. Handlers that need an actor check FromContext
// themselves. Presented-but-invalid credentials still abort.
func (m *Middleware) OptionalSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := m.extractToken(c)
		if token == "" {
			c.Next()
			return
		}

		id, err := m.service.Validate(c.Request.Context(), token, ClientMeta{
			UserAgent: c.Request.UserAgent(),
			IP:        c.ClientIP(),
		})
		if err != nil {
			m.abort(c, err)
			return
		}

		if id.Rotated {
			m.cookies.Write(c, id.NewToken, id.NewCSRF)
			c.Header(RotatedHeader, "1")
		}

		c.Set(IdentityContextKey, id)
		c.Request = c.Request.WithContext(
			logger.WithUserID(c.Request.Context(), id.Session.UserID.String()))
		c.Next()
	}
}

func (m *Middleware) extractToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func (m *Middleware) abort(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSessionExpired):
		apierrors.AbortWithUnauthorized(c, apierrors.CodeSessionExpired, "Session expired due to inactivity", nil)
	case errors.Is(err, ErrAbsoluteExpired):
		apierrors.AbortWithUnauthorized(c, apierrors.CodeAbsoluteExpired, "Session reached its maximum lifetime", nil)
	case errors.Is(err, ErrAccountDisabled):
		m.cookies.Clear(c)
		apierrors.AbortWithLocked(c, "Account is disabled", nil)
	case errors.Is(err, ErrSuspiciousActivity):
		m.cookies.Clear(c)
		apierrors.AbortWithRefreshRequired(c, apierrors.CodeSuspiciousActivity, "Credentials revoked, sign in again")
	case errors.Is(err, ErrRotationFailed):
		apierrors.AbortWithConflict(c, apierrors.CodeRotationFailed, "Session could not be rotated, retry the request", nil)
	case errors.Is(err, ErrInvalidSession):
		apierrors.AbortWithUnauthorized(c, apierrors.CodeInvalidSession, "Invalid session", nil)
	default:
		m.log.ErrorContext(c.Request.Context(), "Session validation failed", slog.Any("error", err))
		apierrors.AbortWithInternal(c, "Authentication backend unavailable", nil)
	}
}

// FromContext retrieves the validated identity bound by RequireSession. The
// second return is false on unauthenticated routes.
func FromContext(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(IdentityContextKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*Identity)
	return id, ok
}

// UserID is a shortcut for handlers that only need the actor.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := FromContext(c)
	if !ok {
		return uuid.Nil, false
	}
	return id.Session.UserID, true
}
