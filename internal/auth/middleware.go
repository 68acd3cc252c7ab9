package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const sessionIDContextKey = "session_id"

// Middleware resolves the session id from the cookie, issuing a fresh id (and
// cookie) when the browser has none or presents one that fails verification.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			id string
			ok bool
		)
		if value, err := c.Cookie(s.cookieName); err == nil {
			id, ok = s.Decode(value)
		}
		if !ok {
			id = s.NewSessionID()
			http.SetCookie(c.Writer, &http.Cookie{
				Name:     s.cookieName,
				Value:    s.Encode(id),
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		c.Set(sessionIDContextKey, id)
		c.Next()
	}
}

// SessionIDFromContext retrieves the session id stored by the middleware.
func SessionIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(sessionIDContextKey)
	if !ok {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}
