package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/amil1105/tombala-sub000/internal/hub"
	"github.com/amil1105/tombala-sub000/internal/ws"
)

type Deps struct {
	Hub  *hub.Hub
	Bots BotSpawner
	// Standings is nil when no result archive is configured.
	Standings Standings
	Logger    *zap.Logger
	WS        ws.Options
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.WS.Logger == nil {
		d.WS.Logger = d.Logger
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/sessions", CreateSession(d.Hub, d.Logger))
	r.Get("/sessions", ListSessions(d.Hub))
	r.Get("/sessions/{id}", GetSession(d.Hub))
	if d.Bots != nil {
		r.Post("/sessions/{id}/bots", AddBots(d.Hub, d.Bots))
	}
	if d.Standings != nil {
		r.Get("/leaderboard", GetLeaderboard(d.Standings, d.Logger))
	}
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.Hub, d.WS))
	return r
}
