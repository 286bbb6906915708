package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/amil1105/tombala-sub000/internal/card"
	"github.com/amil1105/tombala-sub000/internal/engine"
	"github.com/amil1105/tombala-sub000/internal/store"
	"github.com/amil1105/tombala-sub000/internal/types"
)

type Msg interface{ isLobbyMsg() }

// FromClient carries a command from a joined client. The lobby fills in
// Cmd.PlayerID from the client's join; whatever the client sent is ignored.
type FromClient struct {
	ClientID  string
	RequestID string
	Cmd       engine.Command
}

func (FromClient) isLobbyMsg() {}

type Join struct {
	ClientID string
	PlayerID string
	Name     string
	Bot      bool
	Outbox   chan types.Delivery // where this client wants to receive deliveries
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type Chat struct {
	ClientID  string
	RequestID string
	Text      string
}

func (Chat) isLobbyMsg() {}

type Resync struct {
	ClientID  string
	RequestID string
}

func (Resync) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type timerFired struct{ gen int }

func (timerFired) isLobbyMsg() {}

type View struct {
	Version    int
	NumClients int
	State      engine.State
	Countdown  int
}

// Recorder archives a session once it finishes.
type Recorder interface {
	RecordFinished(ctx context.Context, s engine.State) error
}

// Publisher fans state-changing deliveries out beyond the connected clients.
type Publisher interface {
	Publish(sessionID string, d types.Delivery) error
}

type Options struct {
	Engine *engine.Engine
	Logger *zap.Logger
	// AutoDraw runs the countdown timer while the game is playing and unpaused.
	AutoDraw bool
	// CountdownUnit is the length of one countdown step; a second in production.
	CountdownUnit time.Duration
	Checkpoints   store.Store
	Recorder      Recorder
	Publisher     Publisher
	// DedupeSize bounds how many request ids are remembered for retries.
	DedupeSize int
}

type client struct {
	id       string
	playerID string
	outbox   chan types.Delivery
}

type Lobby struct {
	id      string
	inbox   chan Msg
	engine  *engine.Engine
	state   engine.State
	version int
	clients map[string]*client
	seen    *lru.Cache[string, error]
	opts    Options
	log     *zap.Logger

	timer    *time.Timer
	timerGen int
	deadline time.Time

	// players whose last client was dropped mid-broadcast
	orphaned []string

	checkpoints chan []byte

	ctx    context.Context
	cancel context.CancelFunc
}

func NewLobby(parent context.Context, initial engine.State, opts Options) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	if opts.Engine == nil {
		opts.Engine = engine.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CountdownUnit <= 0 {
		opts.CountdownUnit = time.Second
	}
	if opts.DedupeSize <= 0 {
		opts.DedupeSize = 512
	}
	seen, _ := lru.New[string, error](opts.DedupeSize) // only fails on size <= 0

	l := &Lobby{
		id:      initial.SessionID,
		inbox:   make(chan Msg, 64), // Small buffer
		engine:  opts.Engine,
		state:   initial.Clone(),
		version: 0,
		clients: make(map[string]*client),
		seen:    seen,
		opts:    opts,
		log:     opts.Logger.With(zap.String("session", initial.SessionID)),
		ctx:     ctx,
		cancel:  cancel,
	}

	if opts.Checkpoints != nil {
		l.checkpoints = make(chan []byte, 1)
		go l.checkpointLoop()
	}

	l.syncTimer(true)
	go l.loop()
	return l
}

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.handleJoin(msg)

			case Leave:
				if c, ok := l.clients[msg.ClientID]; ok {
					l.drop(c)
				}

			case FromClient:
				l.handleCommand(msg)

			case Chat:
				l.handleChat(msg)

			case Resync:
				if c, ok := l.clients[msg.ClientID]; ok {
					l.send(c, l.snapshotFor(c.playerID))
					l.reply(c, msg.RequestID, engine.Command{}, nil)
				}

			case timerFired:
				l.handleTimer(msg)

			case GetState:
				// reflect internal state without data races
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					State:      l.state.Clone(),
					Countdown:  l.remaining(),
				}

			case Shutdown:
				l.shutdown()
				return
			}
			l.flushOrphans()
		}
	}
}

func (l *Lobby) handleJoin(msg Join) {
	if _, ok := l.clients[msg.ClientID]; ok {
		return
	}
	events, newState, err := l.engine.Apply(l.state, engine.Command{
		Type:     engine.CmdJoin,
		PlayerID: msg.PlayerID,
		Name:     msg.Name,
		Bot:      msg.Bot,
	})
	if err != nil {
		l.log.Info("join rejected", zap.String("player", msg.PlayerID), zap.Error(err))
		select {
		case msg.Outbox <- types.Delivery{Version: l.version, Broadcast: types.Rejected{
			Intent:  types.IntentJoin,
			Reason:  types.ReasonOf(err),
			Message: err.Error(),
		}}:
		default:
		}
		close(msg.Outbox)
		return
	}

	l.commit(newState, events)

	// Register after the commit so the joiner gets one snapshot instead of
	// its own join delta.
	c := &client{id: msg.ClientID, playerID: msg.PlayerID, outbox: msg.Outbox}
	l.clients[c.id] = c
	l.log.Debug("client joined", zap.String("player", c.playerID), zap.Int("clients", len(l.clients)))
	l.send(c, l.snapshotFor(c.playerID))
}

func (l *Lobby) handleCommand(msg FromClient) {
	c, ok := l.clients[msg.ClientID]
	if !ok {
		return
	}
	cmd := msg.Cmd
	cmd.PlayerID = c.playerID

	key := c.playerID + "/" + msg.RequestID
	if msg.RequestID != "" {
		if prev, ok := l.seen.Get(key); ok {
			l.reply(c, msg.RequestID, cmd, prev)
			return
		}
	}

	if cmd.Type == engine.CmdSetPaused && cmd.Paused {
		cmd.Countdown = l.remaining()
	}

	events, newState, err := l.engine.Apply(l.state, cmd)
	if len(events) > 0 {
		l.commit(newState, events)
	}
	if err != nil {
		if errors.Is(err, card.ErrGenerationFailed) {
			l.log.Error("card generation failed", zap.Error(err))
		} else {
			l.log.Debug("command rejected",
				zap.String("player", c.playerID),
				zap.String("command", string(cmd.Type)),
				zap.Error(err))
		}
	}
	if msg.RequestID != "" {
		l.seen.Add(key, err)
	}
	l.reply(c, msg.RequestID, cmd, err)
}

func (l *Lobby) handleChat(msg Chat) {
	c, ok := l.clients[msg.ClientID]
	if !ok {
		return
	}
	name := c.playerID
	if p := l.state.Player(c.playerID); p != nil && p.Name != "" {
		name = p.Name
	}
	l.broadcast(types.Delivery{Version: l.version, Broadcast: types.Chat{
		PlayerID: c.playerID,
		Name:     name,
		Text:     strings.TrimSpace(msg.Text),
		SentAt:   time.Now().UTC(),
	}})
	if c, ok := l.clients[msg.ClientID]; ok {
		l.reply(c, msg.RequestID, engine.Command{}, nil)
	}
}

func (l *Lobby) handleTimer(msg timerFired) {
	if msg.gen != l.timerGen || l.timer == nil {
		return // stale fire from a timer that was stopped or re-armed
	}
	l.timer = nil

	events, newState, err := l.engine.Apply(l.state, engine.Command{Type: engine.CmdAutoDraw})
	if len(events) > 0 {
		l.commit(newState, events)
	}
	if err != nil && !errors.Is(err, engine.ErrExhausted) {
		l.log.Warn("auto draw failed", zap.Error(err))
	}
	l.syncTimer(false)
}

// commit installs newState and delivers one versioned broadcast per event.
func (l *Lobby) commit(newState engine.State, events []engine.Event) {
	prev := l.state
	l.state = newState

	restart := false
	for _, ev := range events {
		l.version++
		switch ev.Type {
		case engine.EvtGameStarted, engine.EvtGameReset:
			// The snapshot countdown reads the timer, so settle it first.
			l.syncTimer(true)
			// Cards are private, so everyone gets their own snapshot.
			for _, c := range l.clients {
				l.send(c, l.snapshotFor(c.playerID))
			}
			l.publish(types.Delivery{Version: l.version, Broadcast: types.Snapshot{Session: types.NewSessionView(l.state)}})
			restart = true
			continue
		case engine.EvtNumberDrawn, engine.EvtStatusChanged:
			restart = true
		}
		l.broadcast(types.Delivery{Version: l.version, Broadcast: toBroadcast(l.state, ev)})
	}

	l.syncTimer(restart)
	l.checkpoint()

	if prev.Status != engine.StatusFinished && l.state.Status == engine.StatusFinished {
		l.recordFinished()
	}
}

func (l *Lobby) reply(c *client, requestID string, cmd engine.Command, err error) {
	var b types.Broadcast
	switch {
	case err == nil:
		if requestID == "" {
			return
		}
		b = types.Ack{RequestID: requestID}
	case cmd.Type == engine.CmdClaim:
		b = types.ClaimRejected{RequestID: requestID, Tier: cmd.Tier, Reason: types.ReasonOf(err), Message: err.Error()}
	default:
		b = types.Rejected{RequestID: requestID, Intent: intentName(cmd.Type), Reason: types.ReasonOf(err), Message: err.Error()}
	}
	l.send(c, types.Delivery{Version: l.version, Broadcast: b})
}

func (l *Lobby) snapshotFor(playerID string) types.Delivery {
	view := types.NewSessionView(l.state)
	view.Draw.Countdown = l.remaining()
	snap := types.Snapshot{Session: view, PlayerID: playerID}
	if c, ok := l.state.Card(playerID); ok {
		snap.Card = &c
	}
	return types.Delivery{Version: l.version, Broadcast: snap}
}

func (l *Lobby) shutdown() {
	l.stopTimer()
	for id, c := range l.clients {
		close(c.outbox) // Tell client no more deliveries
		delete(l.clients, id)
	}
	l.cancel()
}

func (l *Lobby) broadcast(d types.Delivery) {
	for _, c := range l.clients {
		l.send(c, d)
	}
	if types.Stateful(d.Broadcast) {
		l.publish(d)
	}
}

func (l *Lobby) publish(d types.Delivery) {
	if l.opts.Publisher == nil {
		return
	}
	if err := l.opts.Publisher.Publish(l.id, d); err != nil {
		l.log.Warn("publish failed", zap.Int("version", d.Version), zap.Error(err))
	}
}

func (l *Lobby) send(c *client, d types.Delivery) {
	if _, ok := l.clients[c.id]; !ok {
		return // dropped earlier in this turn, outbox already closed
	}
	select {
	case c.outbox <- d:
		//ok
	default:
		// Client is slow/full - drop them. They recover with a fresh snapshot on reconnect.
		l.log.Info("dropping slow client", zap.String("player", c.playerID))
		l.drop(c)
	}
}

// drop unregisters a client; the player is marked offline once no other
// client of theirs remains.
func (l *Lobby) drop(c *client) {
	if _, ok := l.clients[c.id]; !ok {
		return
	}
	close(c.outbox)
	delete(l.clients, c.id)
	l.orphaned = append(l.orphaned, c.playerID)
}

func (l *Lobby) flushOrphans() {
	for len(l.orphaned) > 0 {
		playerID := l.orphaned[0]
		l.orphaned = l.orphaned[1:]
		if l.online(playerID) {
			continue
		}
		events, newState, err := l.engine.Apply(l.state, engine.Command{Type: engine.CmdLeave, PlayerID: playerID})
		if err != nil || len(events) == 0 {
			continue
		}
		l.commit(newState, events)
	}
}

func (l *Lobby) online(playerID string) bool {
	for _, c := range l.clients {
		if c.playerID == playerID {
			return true
		}
	}
	return false
}

func (l *Lobby) syncTimer(restart bool) {
	running := l.opts.AutoDraw && l.state.Status == engine.StatusPlaying && !l.state.Paused
	if !running {
		l.stopTimer()
		return
	}
	if l.timer != nil && !restart {
		return
	}
	l.armTimer(l.state.Draw.Countdown)
}

func (l *Lobby) armTimer(countdown int) {
	l.stopTimer()
	if countdown <= 0 {
		countdown = l.state.Settings.DrawInterval.Seconds()
	}
	d := time.Duration(countdown) * l.opts.CountdownUnit
	gen := l.timerGen
	l.deadline = time.Now().Add(d)
	l.timer = time.AfterFunc(d, func() {
		select {
		case l.inbox <- timerFired{gen: gen}:
		case <-l.ctx.Done():
		}
	})
}

// stopTimer cancels the pending auto draw; bumping the generation also
// invalidates a fire already queued in the inbox.
func (l *Lobby) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.timerGen++
}

// remaining is the countdown, in units, until the next auto draw.
func (l *Lobby) remaining() int {
	if l.timer == nil {
		return l.state.Draw.Countdown
	}
	left := time.Until(l.deadline)
	n := int(math.Ceil(float64(left) / float64(l.opts.CountdownUnit)))
	if n < 1 {
		n = 1
	}
	return n
}

func (l *Lobby) checkpoint() {
	if l.checkpoints == nil {
		return
	}
	data, err := json.Marshal(l.state)
	if err != nil {
		l.log.Error("encode checkpoint", zap.Error(err))
		return
	}
	// Latest wins: replace a checkpoint the writer has not picked up yet.
	select {
	case <-l.checkpoints:
	default:
	}
	l.checkpoints <- data
}

func (l *Lobby) checkpointLoop() {
	for {
		select {
		case data := <-l.checkpoints:
			l.writeCheckpoint(data)
		case <-l.ctx.Done():
			select {
			case data := <-l.checkpoints:
				l.writeCheckpoint(data)
			default:
			}
			return
		}
	}
}

func (l *Lobby) writeCheckpoint(data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.opts.Checkpoints.Put(ctx, store.CheckpointKey(l.id), data); err != nil {
		l.log.Warn("checkpoint failed", zap.Error(err))
	}
}

func (l *Lobby) recordFinished() {
	if l.opts.Recorder == nil {
		return
	}
	s := l.state.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.opts.Recorder.RecordFinished(ctx, s); err != nil {
			l.log.Warn("record result failed", zap.Error(err))
		}
	}()
}

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Send delivers msg unless the lobby has shut down.
func (l *Lobby) Send(msg Msg) bool {
	select {
	case l.inbox <- msg:
		return true
	case <-l.ctx.Done():
		return false
	}
}

// Snapshot asks the actor for a consistent view.
func (l *Lobby) Snapshot(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if !l.Send(GetState{Reply: reply}) {
		return View{}, context.Canceled
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-l.ctx.Done():
		return View{}, context.Canceled
	}
}

func (l *Lobby) ID() string { return l.id }

func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }
