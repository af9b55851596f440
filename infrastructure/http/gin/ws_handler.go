package ginserver

import (
	"context"
	"log/slog"
	"messaging-core/infrastructure/ws"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WSHandler upgrades authenticated requests and runs one Connection Actor per
// connection. Actors live on Base, not on the request, so a shutdown of the
// process reaches every connection.
type WSHandler struct {
	Base     context.Context
	Services ws.Services
	Options  ws.Options
	Logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(base context.Context, svc ws.Services, opts ws.Options, allowedOrigins []string, log *slog.Logger) *WSHandler {
	return &WSHandler{
		Base:     base,
		Services: svc,
		Options:  opts,
		Logger:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

func (h *WSHandler) Connect(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader already answered the client.
		h.Logger.Debug("Upgrade refused", "user_id", p.ID, "error", err)
		return
	}
	actor := ws.NewActor(p.ID, ws.NewConn(conn), h.Services, h.Options, h.Logger)
	if err = actor.Run(h.Base); err != nil {
		h.Logger.Debug("Connection ended", "user_id", p.ID, "actor_id", actor.ID(), "error", err)
	}
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and browsers from the allowed list, "*" allowing any.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.ContainsFunc(allowed, func(o string) bool {
			return strings.EqualFold(strings.TrimSuffix(o, "/"), u.Scheme+"://"+u.Host)
		})
	}
}
