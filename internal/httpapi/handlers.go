package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/amil1105/tombala-sub000/internal/archive"
	"github.com/amil1105/tombala-sub000/internal/engine"
	"github.com/amil1105/tombala-sub000/internal/hub"
	"github.com/amil1105/tombala-sub000/internal/lobby"
	"github.com/amil1105/tombala-sub000/internal/types"
)

const maxBotsPerRequest = 8

// BotSpawner adds computer players to a session.
type BotSpawner interface {
	Spawn(ctx context.Context, lb *lobby.Lobby) (string, error)
}

// Standings reads aggregated results of finished games.
type Standings interface {
	Leaderboard(ctx context.Context, limit int) ([]archive.Standing, error)
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type createRequest struct {
	Settings *engine.Settings `json:"settings,omitempty"`
}

type createResponse struct {
	SessionID string          `json:"sessionId"`
	Settings  engine.Settings `json:"settings"`
}

func CreateSession(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
		state := engine.NewState("")
		if req.Settings != nil {
			if err := req.Settings.Validate(); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			state.Settings = *req.Settings
		}

		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to generate code")
				return
			}
			if _, err := h.Get(r.Context(), c); errors.Is(err, hub.ErrNotFound) {
				code = c
				break
			} else if err != nil {
				writeError(w, http.StatusServiceUnavailable, "hub unavailable")
				return
			}
			log.Debug("collision on code, regenerating", zap.String("code", c))
		}

		if _, err := h.Create(r.Context(), code, state); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create session")
			return
		}
		log.Info("session created", zap.String("session", code))

		writeJSON(w, http.StatusCreated, createResponse{SessionID: code, Settings: state.Settings})
	}
}

type listResponse struct {
	Sessions []string `json:"sessions"`
}

// ListSessions returns the codes of the sessions live on this server.
func ListSessions(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		codes, err := h.List(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "hub unavailable")
			return
		}
		writeJSON(w, http.StatusOK, listResponse{Sessions: codes})
	}
}

type sessionResponse struct {
	Version   int               `json:"version"`
	Countdown int               `json:"countdown"`
	Clients   int               `json:"clients"`
	Session   types.SessionView `json:"session"`
}

// GetSession is a read-only view without cards.
func GetSession(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb, ok := lookup(w, r, h)
		if !ok {
			return
		}
		view, err := lb.Snapshot(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "session unavailable")
			return
		}
		sv := types.NewSessionView(view.State)
		sv.Draw.Countdown = view.Countdown
		writeJSON(w, http.StatusOK, sessionResponse{
			Version:   view.Version,
			Countdown: view.Countdown,
			Clients:   view.NumClients,
			Session:   sv,
		})
	}
}

type botsRequest struct {
	Count int `json:"count"`
}

type botsResponse struct {
	PlayerIDs []string `json:"playerIds"`
}

func AddBots(h *hub.Hub, bots BotSpawner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := botsRequest{Count: 1}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
		if req.Count < 1 || req.Count > maxBotsPerRequest {
			writeError(w, http.StatusBadRequest, "count must be between 1 and 8")
			return
		}
		lb, ok := lookup(w, r, h)
		if !ok {
			return
		}

		ids := make([]string, 0, req.Count)
		for i := 0; i < req.Count; i++ {
			id, err := bots.Spawn(r.Context(), lb)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, engine.ErrInvalidState) {
					status = http.StatusConflict
				}
				writeError(w, status, err.Error())
				return
			}
			ids = append(ids, id)
		}
		writeJSON(w, http.StatusCreated, botsResponse{PlayerIDs: ids})
	}
}

func GetLeaderboard(st Standings, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 100 {
				writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
				return
			}
			limit = n
		}
		rows, err := st.Leaderboard(r.Context(), limit)
		if err != nil {
			log.Warn("leaderboard query failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "leaderboard unavailable")
			return
		}
		if rows == nil {
			rows = []archive.Standing{}
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func lookup(w http.ResponseWriter, r *http.Request, h *hub.Hub) (*lobby.Lobby, bool) {
	lb, err := h.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, hub.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "hub unavailable")
		return nil, false
	}
	return lb, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}
