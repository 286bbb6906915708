package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/amil1105/tombala-sub000/internal/engine"
	"github.com/amil1105/tombala-sub000/internal/lobby"
	"github.com/amil1105/tombala-sub000/internal/store"
)

var ErrNotFound = errors.New("session not found")

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Code  string
	State engine.State
	Reply chan *lobby.Lobby
}

// GetLobby replies nil when the session is neither live nor checkpointed.
type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type RemoveLobby struct {
	Code string
	lb   *lobby.Lobby
}

type ListLobbies struct {
	Reply chan []string
}

type ShutdownHub struct{}

// restored carries a checkpoint loaded off the hub goroutine back into it.
type restored struct {
	Code  string
	State engine.State
	OK    bool
}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (RemoveLobby) isHubMsg() {}
func (ListLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}
func (restored) isHubMsg()    {}

type Options struct {
	// Lobby is the template every session starts from. Its Checkpoints
	// store is also where dormant sessions are restored from.
	Lobby lobby.Options
	// NewEngine builds the per-session engine; engine.New by default.
	NewEngine func() *engine.Engine
}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	// GetLobby replies waiting on a checkpoint load, by code
	loading map[string][]chan *lobby.Lobby
	opts    Options
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.NewEngine == nil {
		opts.NewEngine = func() *engine.Engine { return engine.New() }
	}
	if opts.Lobby.Logger == nil {
		opts.Lobby.Logger = zap.NewNop()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		loading: make(map[string][]chan *lobby.Lobby),
		opts:    opts,
		log:     opts.Lobby.Logger.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					msg.Reply <- lb
					break
				}
				msg.Reply <- h.start(msg.Code, msg.State)

			case GetLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					msg.Reply <- lb
					break
				}
				h.restore(msg.Code, msg.Reply) // replies nil when there is no checkpoint

			case restored:
				waiters := h.loading[msg.Code]
				delete(h.loading, msg.Code)
				lb := h.lobbies[msg.Code] // created while the checkpoint loaded
				if lb == nil && msg.OK {
					h.log.Info("session restored", zap.String("session", msg.Code))
					lb = h.start(msg.Code, engine.Disconnected(msg.State))
				}
				for _, reply := range waiters {
					reply <- lb
				}

			case RemoveLobby:
				// a stale removal must not evict a newer lobby under the same code
				if msg.lb == nil || h.lobbies[msg.Code] == msg.lb {
					delete(h.lobbies, msg.Code)
				}

			case ListLobbies:
				codes := make([]string, 0, len(h.lobbies))
				for code := range h.lobbies {
					codes = append(codes, code)
				}
				sort.Strings(codes)
				msg.Reply <- codes

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) start(code string, s engine.State) *lobby.Lobby {
	s.SessionID = code
	opts := h.opts.Lobby
	opts.Engine = h.opts.NewEngine()
	lb := lobby.NewLobby(h.ctx, s, opts)
	h.lobbies[code] = lb
	h.log.Info("session started", zap.String("session", code), zap.String("status", string(s.Status)))

	go func() {
		<-lb.Done()
		select {
		case h.inbox <- RemoveLobby{Code: code, lb: lb}:
		case <-h.ctx.Done():
		}
	}()
	return lb
}

// restore starts loading code's checkpoint in the background. The hub keeps
// serving while the store is read; the result comes back as a restored msg.
func (h *Hub) restore(code string, reply chan *lobby.Lobby) {
	cp := h.opts.Lobby.Checkpoints
	if cp == nil {
		reply <- nil
		return
	}
	if waiters, ok := h.loading[code]; ok {
		h.loading[code] = append(waiters, reply)
		return
	}
	h.loading[code] = []chan *lobby.Lobby{reply}

	go func() {
		s, ok := h.loadCheckpoint(cp, code)
		select {
		case h.inbox <- restored{Code: code, State: s, OK: ok}:
		case <-h.ctx.Done():
		}
	}()
}

func (h *Hub) loadCheckpoint(cp store.Store, code string) (engine.State, bool) {
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	raw, err := cp.Get(ctx, store.CheckpointKey(code))
	if errors.Is(err, store.ErrNotFound) {
		return engine.State{}, false
	}
	if err != nil {
		h.log.Warn("load checkpoint", zap.String("session", code), zap.Error(err))
		return engine.State{}, false
	}
	var s engine.State
	if err := json.Unmarshal(raw, &s); err != nil {
		h.log.Warn("decode checkpoint", zap.String("session", code), zap.Error(err))
		return engine.State{}, false
	}
	if err := s.Draw.Validate(); err != nil {
		h.log.Warn("corrupt checkpoint", zap.String("session", code), zap.Error(err))
		return engine.State{}, false
	}
	return s, true
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		select {
		case lb.Inbox() <- lobby.Shutdown{}:
		default:
		}
	}
	clear(h.lobbies)
	clear(h.loading)
	h.cancel()
}

// Get returns a live or restorable session.
func (h *Hub) Get(ctx context.Context, code string) (*lobby.Lobby, error) {
	lb, err := h.ask(ctx, func(reply chan *lobby.Lobby) HubMsg { return GetLobby{Code: code, Reply: reply} })
	if err != nil {
		return nil, err
	}
	if lb == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return lb, nil
}

// Create starts a new session under code, or returns the existing one.
func (h *Hub) Create(ctx context.Context, code string, s engine.State) (*lobby.Lobby, error) {
	return h.ask(ctx, func(reply chan *lobby.Lobby) HubMsg { return CreateLobby{Code: code, State: s, Reply: reply} })
}

func (h *Hub) List(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	select {
	case h.inbox <- ListLobbies{Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, h.ctx.Err()
	}
	select {
	case codes := <-reply:
		return codes, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, h.ctx.Err()
	}
}

func (h *Hub) ask(ctx context.Context, build func(chan *lobby.Lobby) HubMsg) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	select {
	case h.inbox <- build(reply):
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, h.ctx.Err()
	}
	select {
	case lb := <-reply:
		return lb, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, h.ctx.Err()
	}
}
