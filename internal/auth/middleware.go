package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireToken verifies a bearer token on control-plane requests and
// stores the caller source on the gin context.
func RequireToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing bearer token"})
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		claims, err := m.Verify(tok, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}

		c.Set("source", string(claims.Source))
		c.Next()
	}
}

// UpgradeGate authenticates streaming-socket upgrades. Browsers cannot set
// an Authorization header on a websocket dial, so the token rides a query
// parameter; the Origin header is additionally checked against the
// configured allow-list. A request with no Origin (carrier, server-side
// dialers) skips the origin check.
type UpgradeGate struct {
	Manager        *Manager
	AllowedOrigins []string
}

// Check returns the verified claims, or an HTTP status plus false on refusal.
func (g UpgradeGate) Check(r *http.Request) (Claims, int, bool) {
	if origin := r.Header.Get("Origin"); origin != "" && !g.originAllowed(origin) {
		return Claims{}, http.StatusForbidden, false
	}

	tok := r.URL.Query().Get("token")
	if tok == "" {
		return Claims{}, http.StatusUnauthorized, false
	}
	claims, err := g.Manager.Verify(tok, time.Now())
	if err != nil {
		return Claims{}, http.StatusUnauthorized, false
	}
	return claims, http.StatusOK, true
}

func (g UpgradeGate) originAllowed(origin string) bool {
	for _, allowed := range g.AllowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
