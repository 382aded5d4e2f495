package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/chatgate/internal/log"
	"github.com/Tyrowin/chatgate/internal/response"
)

const bearerPrefix = "Bearer "

// Cookie describes the session cookie.
type Cookie struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

// Set writes the session cookie. Its lifetime matches the session TTL and is
// re-issued on every admitted request so the two slide together.
func (ck Cookie) Set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     ck.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ck.TTL.Seconds()),
		Expires:  time.Now().Add(ck.TTL),
		HttpOnly: true,
		Secure:   ck.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear removes the session cookie from the client.
func (ck Cookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     ck.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   ck.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Token extracts the session token from the cookie, falling back to a bearer header.
func (ck Cookie) Token(r *http.Request) string {
	if c, err := r.Cookie(ck.Name); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}
	return ""
}

// RequireSession returns a Gin middleware that lets only admitted requests
// reach the next handler. Denied requests get a 401 error body and the
// handler chain is aborted.
func (g *Gate) RequireSession(ck Cookie) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		rec, err := g.Admit(ctx, ck.Token(c.Request))
		if err != nil {
			l := log.Ctx(ctx)
			l.Debug().Err(err).Msg("request denied")
			response.Unauthorized(c)
			return
		}

		ck.Set(c.Writer, rec.Token)
		c.Set(log.FieldUsername, rec.Username)
		c.Request = c.Request.WithContext(WithSession(ctx, rec))
		c.Next()
	}
}
