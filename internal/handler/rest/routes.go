package rest

import (
	httpsrv "github.com/osrs-friend-monitor/friend-monitor-server/infra/server/http"
	"github.com/osrs-friend-monitor/friend-monitor-server/internal/handler/ws"
	"go.uber.org/fx"
)

var Module = fx.Module("rest-handler",
	fx.Provide(
		NewHandler,
		ws.NewWSHandler,
	),
	fx.Invoke(Register),
)

// Register mounts the API on the HTTP server. Monitoring routes stay public.
func Register(s *httpsrv.Server, h *Handler, socket *ws.WSHandler) {
	s.Router.Get("/api/socket/connections", h.GetConnections)
	s.Router.Get("/api/stats", h.GetStats)

	private := s.Private()
	private.Post("/api/activity", h.PostActivity)
	private.Post("/api/account/runescape", h.PostAccount)
	private.Post("/api/account/runescape/{accountHash}/friends/recompute", h.PostRecompute)
	private.Get("/api/account/runescape/{accountHash}/friends", h.GetValidatedFriends)
	private.Get("/api/account/runescape/{accountHash}/activity", h.GetActivity)
	private.Method("GET", "/api/socket/{accountHash}", socket)
}
