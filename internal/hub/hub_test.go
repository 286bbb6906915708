package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amil1105/tombala-sub000/internal/engine"
	"github.com/amil1105/tombala-sub000/internal/lobby"
	"github.com/amil1105/tombala-sub000/internal/store"
)

func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, opts)
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	h := newTestHub(t, Options{})
	reply := make(chan *lobby.Lobby, 1)

	h.Inbox() <- CreateLobby{Code: "ZED123", State: engine.NewState(""), Reply: reply}
	lb1 := <-reply

	h.Inbox() <- GetLobby{Code: "ZED123", Reply: reply}
	lb2 := <-reply

	if lb1 == nil || lb2 == nil || lb1 != lb2 {
		t.Fatalf("expected same lobby pointer")
	}
	assert.Equal(t, "ZED123", lb1.ID())
}

func TestHub_GetUnknown(t *testing.T) {
	h := newTestHub(t, Options{Lobby: lobby.Options{Checkpoints: store.NewMemory()}})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := h.Get(ctx, "NOPE00")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHub_RestoresFromCheckpoint(t *testing.T) {
	s := engine.NewState("ABC123")
	s.Players = []engine.Player{{ID: "p1", Name: "Ayse", Connected: true}}
	s.HostID = "p1"
	raw, err := json.Marshal(s)
	require.NoError(t, err)

	mem := store.NewMemory()
	require.NoError(t, mem.Put(context.Background(), store.CheckpointKey("ABC123"), raw))

	h := newTestHub(t, Options{Lobby: lobby.Options{Checkpoints: mem}})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	lb, err := h.Get(ctx, "ABC123")
	require.NoError(t, err)

	view, err := lb.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p1", view.State.HostID)
	require.NotNil(t, view.State.Player("p1"))
	assert.False(t, view.State.Player("p1").Connected)

	codes, err := h.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC123"}, codes)
}

// gatedStore holds every Get until release is closed.
type gatedStore struct {
	*store.Memory
	release chan struct{}
}

func (g gatedStore) Get(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Memory.Get(ctx, key)
}

func TestHub_SlowCheckpointDoesNotBlockOtherSessions(t *testing.T) {
	s := engine.NewState("SLOW01")
	s.Players = []engine.Player{{ID: "p1", Name: "Ayse", Connected: true}}
	s.HostID = "p1"
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	mem := store.NewMemory()
	require.NoError(t, mem.Put(context.Background(), store.CheckpointKey("SLOW01"), raw))

	gated := gatedStore{Memory: mem, release: make(chan struct{})}
	h := newTestHub(t, Options{Lobby: lobby.Options{Checkpoints: gated}})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		lb  *lobby.Lobby
		err error
	}
	done := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			lb, err := h.Get(ctx, "SLOW01")
			done <- result{lb, err}
		}()
	}

	// the hub keeps serving while the checkpoint is being read
	quick, qcancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer qcancel()
	_, err = h.Create(quick, "FAST01", engine.NewState(""))
	require.NoError(t, err)
	codes, err := h.List(quick)
	require.NoError(t, err)
	assert.Equal(t, []string{"FAST01"}, codes)

	close(gated.release)
	first, second := <-done, <-done
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Same(t, first.lb, second.lb, "concurrent lookups share one restore")
	assert.Equal(t, "SLOW01", first.lb.ID())
}

func TestHub_RejectsCorruptCheckpoint(t *testing.T) {
	for name, drawn := range map[string][]int{
		"out of range": {5, 91},
		"zero":         {0},
		"duplicate":    {7, 7},
	} {
		t.Run(name, func(t *testing.T) {
			s := engine.NewState("BAD001")
			s.Status = engine.StatusPlaying
			s.Draw.Drawn = drawn
			raw, err := json.Marshal(s)
			require.NoError(t, err)
			mem := store.NewMemory()
			require.NoError(t, mem.Put(context.Background(), store.CheckpointKey("BAD001"), raw))

			h := newTestHub(t, Options{Lobby: lobby.Options{Checkpoints: mem}})
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, err = h.Get(ctx, "BAD001")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestHub_ForgetsLobbyAfterShutdown(t *testing.T) {
	h := newTestHub(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	lb, err := h.Create(ctx, "GONE01", engine.NewState(""))
	require.NoError(t, err)
	lb.Inbox() <- lobby.Shutdown{}

	require.Eventually(t, func() bool {
		codes, err := h.List(ctx)
		return err == nil && len(codes) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_EachLobbyGetsItsOwnEngine(t *testing.T) {
	var built int
	h := newTestHub(t, Options{NewEngine: func() *engine.Engine {
		built++ // only called from the hub goroutine
		return engine.New()
	}})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := h.Create(ctx, "A00001", engine.NewState(""))
	require.NoError(t, err)
	_, err = h.Create(ctx, "B00002", engine.NewState(""))
	require.NoError(t, err)
	_, err = h.Create(ctx, "A00001", engine.NewState(""))
	require.NoError(t, err)

	codes, err := h.List(ctx)
	require.NoError(t, err)
	assert.Len(t, codes, 2)
	assert.Equal(t, 2, built)
}
