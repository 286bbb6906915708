package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amil1105/tombala-sub000/internal/hub"
	"github.com/amil1105/tombala-sub000/internal/lobby"
	"github.com/amil1105/tombala-sub000/internal/types"
)

type Options struct {
	Logger *zap.Logger
	// OutboxSize is how many deliveries may queue for a client before it is dropped.
	OutboxSize int
	// JoinTimeout bounds how long a fresh connection may take to send its join.
	JoinTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	// In dev ONLY, loosen origin checks, e.g. "localhost:*".
	OriginPatterns []string
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 32
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	opts.defaults()
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("session")
		if code == "" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}

		lb, err := h.Get(r.Context(), code)
		if errors.Is(err, hub.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			return
		}
		defer conn.CloseNow()

		clientID := uuid.NewString()
		log := opts.Logger.With(zap.String("session", code), zap.String("client", clientID))

		connCtx, cancel := context.WithCancel(r.Context())
		defer cancel()

		join, reqID, err := readJoin(connCtx, conn, opts.JoinTimeout)
		if err != nil {
			log.Debug("bad join", zap.Error(err))
			writeReject(connCtx, conn, opts.WriteTimeout, reqID, types.IntentJoin, err)
			conn.Close(websocket.StatusPolicyViolation, "join required")
			return
		}
		log = log.With(zap.String("player", join.PlayerID))

		out := make(chan types.Delivery, opts.OutboxSize)
		if !lb.Send(lobby.Join{ClientID: clientID, PlayerID: join.PlayerID, Name: join.Name, Bot: join.Bot, Outbox: out}) {
			conn.Close(websocket.StatusGoingAway, "session closed")
			return
		}
		defer lb.Send(lobby.Leave{ClientID: clientID})

		// Writer goroutine. The lobby closes out when it drops us or shuts
		// down, which ends the connection.
		go func() {
			defer cancel()
			for d := range out {
				payload, err := types.EncodeDelivery(d)
				if err != nil {
					log.Error("encode delivery", zap.Error(err))
					continue
				}
				ctx, wcancel := context.WithTimeout(connCtx, opts.WriteTimeout)
				err = conn.Write(ctx, websocket.MessageText, payload)
				wcancel()
				if err != nil {
					log.Debug("write failed", zap.Error(err))
					return
				}
			}
			conn.Close(websocket.StatusNormalClosure, "bye")
		}()

		go func() {
			t := time.NewTicker(opts.PingInterval)
			defer t.Stop()
			for {
				select {
				case <-connCtx.Done():
					return
				case <-t.C:
					ctx, pcancel := context.WithTimeout(connCtx, opts.WriteTimeout)
					err := conn.Ping(ctx)
					pcancel()
					if err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(connCtx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read ended", zap.Error(err))
				}
				return // lobby.Leave in defer
			}

			reqID, in, err := types.DecodeIntent(data)
			if err != nil {
				writeReject(connCtx, conn, opts.WriteTimeout, reqID, "", err)
				continue
			}
			msg, err := lobby.FromIntent(clientID, reqID, in)
			if err != nil {
				writeReject(connCtx, conn, opts.WriteTimeout, reqID, in.IntentType(), err)
				continue
			}
			if !lb.Send(msg) {
				return
			}
		}
	}
}

func readJoin(ctx context.Context, conn *websocket.Conn, timeout time.Duration) (types.Join, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return types.Join{}, "", err
	}
	reqID, in, err := types.DecodeIntent(data)
	if err != nil {
		return types.Join{}, reqID, err
	}
	join, ok := in.(types.Join)
	if !ok {
		return types.Join{}, reqID, errors.New("first message must be join, got " + in.IntentType())
	}
	return join, reqID, nil
}

func writeReject(ctx context.Context, conn *websocket.Conn, timeout time.Duration, reqID, intent string, err error) {
	payload, encErr := types.EncodeDelivery(types.Delivery{Broadcast: types.Rejected{
		RequestID: reqID,
		Intent:    intent,
		Reason:    types.ReasonBadRequest,
		Message:   err.Error(),
	}})
	if encErr != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}
