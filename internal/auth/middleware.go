package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userIDKey = "auth.user_id"
	tokenKey  = "auth.token"
)

// Middleware accepts a bearer token or the session cookie and stores the
// user id on the gin context. Failures abort with 401.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := s.extractToken(c)
		userID, err := s.ValidateToken(c.Request.Context(), token)
		if err != nil {
			status, msg := http.StatusUnauthorized, "authorization required"
			switch {
			case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired):
				msg = err.Error()
			case !errors.Is(err, ErrTokenRequired):
				s.logger.Error().Err(err).Msg("validate token")
				status, msg = http.StatusInternalServerError, "internal error"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}
		c.Set(userIDKey, userID)
		c.Set(tokenKey, token)
		c.Next()
	}
}

// UserID returns the authenticated user set by Middleware.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// Token returns the token the request authenticated with.
func Token(c *gin.Context) (string, bool) {
	v, ok := c.Get(tokenKey)
	if !ok {
		return "", false
	}
	t, ok := v.(string)
	return t, ok
}

// extractToken reports the token and whether it came from a bearer header.
func (s *Service) extractToken(c *gin.Context) (string, bool) {
	header := c.GetHeader(s.headerName)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:]), true
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token, false
	}
	return "", false
}

// SetSession writes the session and CSRF cookies after a login.
func (s *Service) SetSession(c *gin.Context, token string) (string, error) {
	csrf, err := s.NewCSRFToken()
	if err != nil {
		return "", err
	}
	maxAge := int(s.tokenTTL.Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookieName, token, maxAge, "/", "", s.secureCookies, true)
	// readable by scripts so the client can echo it in the header
	c.SetCookie(s.csrfCookieName, csrf, maxAge, "/", "", s.secureCookies, false)
	return csrf, nil
}

// ClearSession expires both cookies.
func (s *Service) ClearSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookieName, "", -1, "/", "", s.secureCookies, true)
	c.SetCookie(s.csrfCookieName, "", -1, "/", "", s.secureCookies, false)
}
