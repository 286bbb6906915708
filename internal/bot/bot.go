// Package bot runs computer players. A bot is an ordinary participant: it
// joins through the lobby inbox, keeps a replica from broadcasts and claims
// tiers its own card satisfies after a reaction delay. It gets no special
// treatment when claims race.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amil1105/tombala-sub000/internal/card"
	"github.com/amil1105/tombala-sub000/internal/engine"
	"github.com/amil1105/tombala-sub000/internal/lobby"
	"github.com/amil1105/tombala-sub000/internal/syncagent"
	"github.com/amil1105/tombala-sub000/internal/types"
)

var ErrSessionClosed = errors.New("session closed")

const (
	// maxRejoins bounds reconnect attempts that end without a snapshot.
	maxRejoins  = 3
	rejoinDelay = 50 * time.Millisecond
)

var names = []string{"Ahmet", "Ayşe", "Mehmet", "Fatma", "Ali", "Zeynep", "Mustafa", "Elif", "Hasan", "Emine"}

type Options struct {
	Logger        *zap.Logger
	ReactionDelay time.Duration
	// Jitter adds up to this much random delay to each claim.
	Jitter     time.Duration
	OutboxSize int
	Rand       *rand.Rand
}

type Spawner struct {
	ctx  context.Context
	opts Options

	mu  sync.Mutex
	rng *rand.Rand
	n   int
}

func NewSpawner(ctx context.Context, opts Options) *Spawner {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ReactionDelay < 0 {
		opts.ReactionDelay = 0
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 64
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Spawner{ctx: ctx, opts: opts, rng: rng}
}

// Spawn adds one bot to the session and returns its player id once the
// lobby has accepted it.
func (s *Spawner) Spawn(ctx context.Context, lb *lobby.Lobby) (string, error) {
	id := "bot-" + uuid.NewString()[:8]
	name := s.nextName()

	out := make(chan types.Delivery, s.opts.OutboxSize)
	if !lb.Send(lobby.Join{ClientID: id, PlayerID: id, Name: name, Bot: true, Outbox: out}) {
		return "", ErrSessionClosed
	}

	var first types.Delivery
	select {
	case d, ok := <-out:
		if !ok {
			return "", ErrSessionClosed
		}
		first = d
	case <-ctx.Done():
		lb.Send(lobby.Leave{ClientID: id})
		return "", ctx.Err()
	}
	if rej, ok := first.Broadcast.(types.Rejected); ok {
		return "", fmt.Errorf("%w: %s", rej.Reason.Err(), rej.Message)
	}

	b := &bot{
		id:         id,
		name:       name,
		lb:         lb,
		out:        out,
		outboxSize: s.opts.OutboxSize,
		fire:       make(chan card.Tier, 1),
		delay:      s.delay,
		log:        s.opts.Logger.With(zap.String("session", lb.ID()), zap.String("player", id)),
	}
	b.replica, _ = b.replica.Apply(first)
	go b.run(s.ctx)
	b.log.Debug("bot joined", zap.String("name", name))
	return id, nil
}

func (s *Spawner) nextName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := fmt.Sprintf("%s (bot)", names[s.n%len(names)])
	s.n++
	return name
}

func (s *Spawner) delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.opts.ReactionDelay
	if s.opts.Jitter > 0 {
		d += time.Duration(s.rng.Int63n(int64(s.opts.Jitter)))
	}
	return d
}

type bot struct {
	id         string
	name       string
	lb         *lobby.Lobby
	out        chan types.Delivery
	outboxSize int
	replica    syncagent.Replica
	fire       chan card.Tier
	delay      func() time.Duration
	log        *zap.Logger

	// rejoins since the last snapshot
	rejoins int

	// claim in flight: scheduled or awaiting the authority's reply
	pending   card.Tier
	requestID string
	timer     *time.Timer
}

func (b *bot) run(ctx context.Context) {
	defer func() {
		if b.timer != nil {
			b.timer.Stop()
		}
	}()
	b.consider()
	for {
		select {
		case d, ok := <-b.out:
			if !ok {
				if !b.rejoin(ctx) {
					return
				}
				continue
			}
			b.handle(d)

		case tier := <-b.fire:
			b.timer = nil
			b.requestID = uuid.NewString()
			if !b.lb.Send(lobby.FromClient{
				ClientID:  b.id,
				RequestID: b.requestID,
				Cmd:       engine.Command{Type: engine.CmdClaim, Tier: tier},
			}) {
				return
			}

		case <-b.lb.Done():
			return

		case <-ctx.Done():
			b.lb.Send(lobby.Leave{ClientID: b.id})
			return
		}
	}
}

// rejoin reconnects after the lobby closed the outbox while the session is
// still live, e.g. when the bot fell behind and was dropped as a slow
// client. The player id is unchanged, so the next snapshot carries the
// same card.
func (b *bot) rejoin(ctx context.Context) bool {
	if b.rejoins >= maxRejoins {
		b.log.Warn("giving up after repeated drops", zap.Int("rejoins", b.rejoins))
		return false
	}
	b.rejoins++

	select {
	case <-time.After(time.Duration(b.rejoins) * rejoinDelay):
	case <-b.lb.Done():
		return false
	case <-ctx.Done():
		return false
	}

	b.reset()
	b.out = make(chan types.Delivery, b.outboxSize)
	b.log.Info("rejoining after drop", zap.Int("attempt", b.rejoins))
	return b.lb.Send(lobby.Join{ClientID: b.id, PlayerID: b.id, Name: b.name, Bot: true, Outbox: b.out})
}

func (b *bot) handle(d types.Delivery) {
	switch r := d.Broadcast.(type) {
	case types.Ack:
		if r.RequestID == b.requestID {
			b.settle()
		}
		return
	case types.ClaimRejected:
		if r.RequestID == b.requestID {
			b.log.Debug("claim lost", zap.String("tier", string(r.Tier)), zap.String("reason", string(r.Reason)))
			b.settle()
		}
		return
	}

	next, res := b.replica.Apply(d)
	switch res {
	case syncagent.Applied:
		b.replica = next
		if _, ok := d.Broadcast.(types.Snapshot); ok {
			b.reset()
			b.rejoins = 0
		}
		b.consider()
	case syncagent.Gap:
		b.lb.Send(lobby.Resync{ClientID: b.id})
	}
}

func (b *bot) settle() {
	b.pending = ""
	b.requestID = ""
	b.consider()
}

// reset forgets a claim from a previous game.
func (b *bot) reset() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	select {
	case <-b.fire:
	default:
	}
	b.pending = ""
	b.requestID = ""
}

// consider schedules a claim for the lowest open tier the card satisfies.
func (b *bot) consider() {
	if b.pending != "" || b.replica.Session.Status != engine.StatusPlaying {
		return
	}
	result, ok := b.replica.Marked()
	if !ok {
		return
	}
	for _, tier := range card.Tiers {
		if b.replica.Session.Wins.Get(tier) != nil {
			continue
		}
		if !result.Has(tier) {
			return
		}
		b.pending = tier
		b.timer = time.AfterFunc(b.delay(), func() {
			select {
			case b.fire <- tier:
			default:
			}
		})
		return
	}
}
