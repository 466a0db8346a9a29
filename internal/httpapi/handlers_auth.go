package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rustygpt/rustygpt/internal/auth"
	apierrors "github.com/rustygpt/rustygpt/internal/errors"
)

type handlers struct {
	deps Dependencies
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password" binding:"required"`
}

func (r *loginRequest) identifier() string {
	if r.Email != "" {
		return r.Email
	}
	return r.Username
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.identifier() == "" {
		apierrors.AbortWithValidation(c, "email or username plus password required", nil)
		return
	}

	creds, err := h.deps.AuthService.Login(c.Request.Context(), req.identifier(), req.Password, auth.ClientMeta{
		UserAgent: c.Request.UserAgent(),
		IP:        c.ClientIP(),
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccountDisabled):
			apierrors.AbortWithLocked(c, "Account is disabled", nil)
		case errors.Is(err, auth.ErrInvalidCredentials):
			apierrors.AbortWithUnauthorized(c, apierrors.CodeInvalidCredentials, "Invalid credentials", nil)
		default:
			h.respondStoreError(c, err)
		}
		return
	}

	h.deps.Cookies.Write(c, creds.Token, creds.CSRFToken)
	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":           creds.User.ID,
			"email":        creds.User.Email,
			"username":     creds.User.Username,
			"display_name": creds.User.DisplayName,
			"roles":        creds.User.Roles,
		},
		"csrf_token": creds.CSRFToken,
		"expires_at": creds.Session.AbsoluteExpiresAt,
	})
}

// refresh forces an immediate rotation of the presented session. Routine
// rotation also happens transparently inside RequireSession; this endpoint is
// for clients that want a fresh pair on demand.
func (h *handlers) refresh(c *gin.Context) {
	id, _ := auth.FromContext(c)

	if id.Rotated {
		// RequireSession already rotated on the way in.
		c.JSON(http.StatusOK, gin.H{"csrf_token": id.NewCSRF, "rotated": true})
		return
	}

	rotated, err := h.deps.AuthService.RotateNow(c.Request.Context(), id.Session, auth.ClientMeta{
		UserAgent: c.Request.UserAgent(),
		IP:        c.ClientIP(),
	})
	if err != nil {
		if errors.Is(err, auth.ErrRotationFailed) {
			apierrors.AbortWithConflict(c, apierrors.CodeRotationFailed, "Session could not be rotated", nil)
			return
		}
		h.respondStoreError(c, err)
		return
	}

	h.deps.Cookies.Write(c, rotated.NewToken, rotated.NewCSRF)
	c.Header(auth.RotatedHeader, "1")
	c.JSON(http.StatusOK, gin.H{"csrf_token": rotated.NewCSRF, "rotated": true})
}

func (h *handlers) logout(c *gin.Context) {
	id, _ := auth.FromContext(c)
	if err := h.deps.AuthService.Logout(c.Request.Context(), id.Session.ID); err != nil {
		h.respondStoreError(c, err)
		return
	}
	h.deps.Cookies.Clear(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func (h *handlers) me(c *gin.Context) {
	id, _ := auth.FromContext(c)
	c.JSON(http.StatusOK, gin.H{
		"user_id":    id.Session.UserID,
		"session_id": id.Session.ID,
		"roles":      id.Session.Roles,
		"issued_at":  id.Session.IssuedAt,
		"expires_at": id.Session.AbsoluteExpiresAt,
	})
}
