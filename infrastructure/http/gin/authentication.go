package ginserver

import (
	"log/slog"
	"messaging-core/auth"
	"messaging-core/domain"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const principalContextKey = "messaging.principal"

type principal struct {
	ID   string
	Name string
}

// NameRecorder keeps display names seen in tokens, so notifications and
// listings can show them without a profile lookup.
type NameRecorder interface {
	Remember(ref domain.ParticipantRef)
}

// AuthMiddleware resolves the bearer token when there is one. Handlers
// decide whether an identity is required.
type AuthMiddleware struct {
	Tokens *auth.Tokens
	Names  NameRecorder
	Logger *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	token := auth.ExtractBearer(c.GetHeader("Authorization"))
	if token == "" {
		// Browsers can't set headers on a WebSocket upgrade.
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" || m.Tokens == nil {
		c.Next()
		return
	}
	claims, err := m.Tokens.Validate(token)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Debug("Token validation failed", "error", err)
		}
		c.Next()
		return
	}
	p := principal{ID: claims.UserID, Name: strings.TrimSpace(claims.Name)}
	if p.Name != "" && m.Names != nil {
		m.Names.Remember(domain.ParticipantRef{ID: p.ID, DisplayName: p.Name})
	}
	c.Set(principalContextKey, p)
	c.Next()
}

func currentPrincipal(c *gin.Context) (principal, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return principal{}, false
	}
	p, ok := val.(principal)
	return p, ok
}

func requireUser(c *gin.Context) (principal, bool) {
	p, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization_error", "message": "auth required"})
		return principal{}, false
	}
	return p, true
}
