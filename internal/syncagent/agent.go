// Package syncagent keeps one participant's replica of a session in step
// with the authority: it joins, reconciles on snapshots, applies deltas,
// persists the replica while offline and reconnects with backoff. It never
// advances the game on its own.
package syncagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/amil1105/tombala-sub000/internal/card"
	"github.com/amil1105/tombala-sub000/internal/engine"
	"github.com/amil1105/tombala-sub000/internal/store"
	"github.com/amil1105/tombala-sub000/internal/types"
)

var (
	ErrDisconnected = errors.New("not connected to session")
	ErrTimeout      = errors.New("timed out waiting for authority")
	ErrClosed       = errors.New("agent closed")
)

type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusClosed       Status = "closed"
)

type Config struct {
	SessionID string
	PlayerID  string
	Name      string
	Bot       bool

	DialTimeout      time.Duration
	SnapshotTimeout  time.Duration
	RequestTimeout   time.Duration
	ReconnectTimeout time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

func (c *Config) defaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.ReconnectTimeout <= 0 {
		c.ReconnectTimeout = 30 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
}

// Update is sent to the UI layer after every status or replica change.
type Update struct {
	Status    Status
	Replica   Replica
	Broadcast types.Broadcast // nil for status-only updates
}

type Agent struct {
	cfg       Config
	transport Transport
	store     store.Store
	log       *zap.Logger

	mu         sync.Mutex
	status     Status
	replica    Replica
	hasReplica bool
	conn       Conn
	resyncing  bool
	pending    map[string]chan error

	updates chan Update
	life    context.Context
	cancel  context.CancelFunc
}

func New(cfg Config, t Transport, st store.Store, log *zap.Logger) *Agent {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	if st == nil {
		st = store.NewMemory()
	}
	life, cancel := context.WithCancel(context.Background())
	return &Agent{
		cfg:       cfg,
		transport: t,
		store:     st,
		log:       log.With(zap.String("session", cfg.SessionID), zap.String("player", cfg.PlayerID)),
		status:    StatusIdle,
		pending:   make(map[string]chan error),
		updates:   make(chan Update, 64),
		life:      life,
		cancel:    cancel,
	}
}

// Updates delivers change notifications. Slow readers miss intermediate
// updates; State is always current.
func (a *Agent) Updates() <-chan Update { return a.updates }

func (a *Agent) State() (Replica, Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.replica.Clone(), a.status
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Connect dials, joins and waits for the first snapshot, which replaces
// the replica unconditionally.
func (a *Agent) Connect(ctx context.Context) error {
	a.mu.Lock()
	switch a.status {
	case StatusClosed:
		a.mu.Unlock()
		return ErrClosed
	case StatusConnected, StatusConnecting:
		a.mu.Unlock()
		return nil
	}
	a.setStatus(StatusConnecting)
	a.mu.Unlock()

	conn, first, err := a.handshake(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		if a.status == StatusConnecting {
			a.setStatus(StatusDisconnected)
		}
		return err
	}
	if a.status != StatusConnecting {
		// closed or disconnected while we were dialing
		conn.Close()
		if a.status == StatusClosed {
			return ErrClosed
		}
		return ErrDisconnected
	}
	a.conn = conn
	a.resyncing = false
	a.replica, _ = a.replica.Apply(first)
	a.hasReplica = true
	a.status = StatusConnected
	a.notify(first.Broadcast)
	a.log.Debug("connected", zap.Int("version", first.Version))

	go a.readLoop(conn)
	return nil
}

func (a *Agent) handshake(ctx context.Context) (Conn, types.Delivery, error) {
	dctx, cancel := context.WithTimeout(ctx, a.cfg.DialTimeout)
	conn, err := a.transport.Dial(dctx, a.cfg.SessionID)
	cancel()
	if err != nil {
		return nil, types.Delivery{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	join, err := types.EncodeIntent(uuid.NewString(), types.Join{PlayerID: a.cfg.PlayerID, Name: a.cfg.Name, Bot: a.cfg.Bot})
	if err != nil {
		conn.Close()
		return nil, types.Delivery{}, err
	}

	sctx, cancel := context.WithTimeout(ctx, a.cfg.SnapshotTimeout)
	defer cancel()
	if err := conn.Send(sctx, join); err != nil {
		conn.Close()
		return nil, types.Delivery{}, fmt.Errorf("%w: send join: %v", ErrDisconnected, err)
	}
	for {
		data, err := conn.Recv(sctx)
		if err != nil {
			conn.Close()
			if sctx.Err() != nil {
				return nil, types.Delivery{}, fmt.Errorf("%w: no snapshot", ErrTimeout)
			}
			return nil, types.Delivery{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		d, err := types.DecodeDelivery(data)
		if err != nil {
			a.log.Warn("bad delivery", zap.Error(err))
			continue
		}
		switch b := d.Broadcast.(type) {
		case types.Snapshot:
			return conn, d, nil
		case types.Rejected:
			conn.Close()
			return nil, types.Delivery{}, fmt.Errorf("join rejected: %w: %s", b.Reason.Err(), b.Message)
		}
	}
}

func (a *Agent) readLoop(conn Conn) {
	for {
		data, err := conn.Recv(a.life)
		if err != nil {
			a.lost(conn, err)
			return
		}
		d, err := types.DecodeDelivery(data)
		if err != nil {
			a.log.Warn("bad delivery", zap.Error(err))
			continue
		}
		a.handle(conn, d)
	}
}

func (a *Agent) handle(conn Conn, d types.Delivery) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != conn {
		return
	}

	switch b := d.Broadcast.(type) {
	case types.Ack:
		a.resolve(b.RequestID, nil)
		return
	case types.Rejected:
		a.resolve(b.RequestID, fmt.Errorf("%s rejected: %w: %s", b.Intent, b.Reason.Err(), b.Message))
		return
	case types.ClaimRejected:
		a.resolve(b.RequestID, fmt.Errorf("%s claim rejected: %w: %s", b.Tier, b.Reason.Err(), b.Message))
		return
	}

	next, res := a.replica.Apply(d)
	switch res {
	case Applied:
		a.replica = next
		if _, ok := d.Broadcast.(types.Snapshot); ok {
			a.resyncing = false
		}
		a.notify(d.Broadcast)
	case Gap:
		a.log.Debug("version gap", zap.Int("have", a.replica.Version), zap.Int("got", d.Version))
		if !a.resyncing {
			a.resyncing = true
			go a.requestResync(conn)
		}
	}
}

func (a *Agent) requestResync(conn Conn) {
	data, err := types.EncodeIntent(uuid.NewString(), types.Resync{})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(a.life, a.cfg.RequestTimeout)
	defer cancel()
	if err := conn.Send(ctx, data); err != nil {
		a.log.Debug("resync send failed", zap.Error(err))
	}
}

// lost handles a dead connection: persist, go read-only, try to come back.
func (a *Agent) lost(conn Conn, cause error) {
	a.mu.Lock()
	if a.conn != conn {
		a.mu.Unlock()
		return // already replaced or deliberately dropped
	}
	a.conn = nil
	a.failPending()
	a.setStatus(StatusDisconnected)
	replica, has := a.replica.Clone(), a.hasReplica
	a.mu.Unlock()

	conn.Close()
	a.log.Info("connection lost", zap.Error(cause))
	if has {
		if err := a.persist(replica); err != nil {
			a.log.Warn("persist replica", zap.Error(err))
		}
	}
	go a.reconnect()
}

func (a *Agent) reconnect() {
	deadline := time.Now().Add(a.cfg.ReconnectTimeout)
	backoff := a.cfg.InitialBackoff
	for time.Now().Before(deadline) {
		select {
		case <-time.After(backoff):
		case <-a.life.Done():
			return
		}
		if a.Status() != StatusDisconnected {
			return
		}
		err := a.Connect(a.life)
		if err == nil {
			a.log.Info("reconnected")
			return
		}
		a.log.Debug("reconnect failed", zap.Duration("backoff", backoff), zap.Error(err))
		backoff = min(backoff*2, a.cfg.MaxBackoff)
	}
	a.log.Warn("giving up on reconnect; replica is read-only")
}

// Restore loads the persisted replica for read-only use before (or
// instead of) connecting. A live replica is never overwritten.
func (a *Agent) Restore(ctx context.Context) (Replica, error) {
	raw, err := a.store.Get(ctx, store.ReplicaKey(a.cfg.SessionID))
	if err != nil {
		return Replica{}, fmt.Errorf("load replica: %w", err)
	}
	var r Replica
	if err := json.Unmarshal(raw, &r); err != nil {
		return Replica{}, fmt.Errorf("decode replica: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != StatusConnected {
		a.replica = r
		a.hasReplica = true
		a.notify(nil)
	}
	return r.Clone(), nil
}

func (a *Agent) persist(r Replica) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.store.Put(ctx, store.ReplicaKey(a.cfg.SessionID), data)
}

// Disconnect drops the connection without reconnecting and persists the replica.
func (a *Agent) Disconnect() error {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.failPending()
	if a.status != StatusClosed {
		a.setStatus(StatusDisconnected)
	}
	replica, has := a.replica.Clone(), a.hasReplica
	a.mu.Unlock()

	var err error
	if has {
		err = multierr.Append(err, a.persist(replica))
	}
	if conn != nil {
		err = multierr.Append(err, conn.Close())
	}
	return err
}

func (a *Agent) Close() error {
	a.mu.Lock()
	if a.status == StatusClosed {
		a.mu.Unlock()
		return nil
	}
	a.status = StatusClosed
	a.mu.Unlock()

	err := a.Disconnect()
	a.cancel()

	a.mu.Lock()
	a.notify(nil)
	a.mu.Unlock()
	return err
}

func (a *Agent) Start(ctx context.Context) error { return a.do(ctx, types.Start{}) }

func (a *Agent) Draw(ctx context.Context) error { return a.do(ctx, types.RequestDraw{}) }

func (a *Agent) Claim(ctx context.Context, tier card.Tier) error {
	return a.do(ctx, types.Claim{Tier: tier})
}

func (a *Agent) SetPaused(ctx context.Context, paused bool) error {
	return a.do(ctx, types.SetPaused{Paused: paused})
}

func (a *Agent) UpdateSettings(ctx context.Context, s engine.Settings) error {
	return a.do(ctx, types.UpdateSettings{Settings: s})
}

func (a *Agent) NewGame(ctx context.Context) error { return a.do(ctx, types.NewGame{}) }

func (a *Agent) SendChat(ctx context.Context, text string) error {
	return a.do(ctx, types.SendChat{Text: text})
}

// do sends one intent and waits for the authority's verdict on it.
func (a *Agent) do(ctx context.Context, in types.Intent) error {
	if err := in.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBadMessage, err)
	}

	a.mu.Lock()
	switch a.status {
	case StatusClosed:
		a.mu.Unlock()
		return ErrClosed
	case StatusConnected:
	default:
		a.mu.Unlock()
		return ErrDisconnected
	}
	conn := a.conn
	id := uuid.NewString()
	done := make(chan error, 1)
	a.pending[id] = done
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
	}()

	data, err := types.EncodeIntent(id, in)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()
	if err := conn.Send(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrTimeout, in.IntentType())
		}
		return ctx.Err()
	}
}

// Callers hold a.mu.
func (a *Agent) resolve(requestID string, err error) {
	if ch, ok := a.pending[requestID]; ok {
		ch <- err
		delete(a.pending, requestID)
	}
}

func (a *Agent) failPending() {
	for id, ch := range a.pending {
		ch <- ErrDisconnected
		delete(a.pending, id)
	}
}

func (a *Agent) setStatus(s Status) {
	a.status = s
	a.notify(nil)
}

func (a *Agent) notify(b types.Broadcast) {
	u := Update{Status: a.status, Replica: a.replica.Clone(), Broadcast: b}
	select {
	case a.updates <- u:
	default:
	}
}
