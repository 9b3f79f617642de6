// Package turnstate replicates the shared game-state snapshot.
package turnstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nydren/boardsync/internal/game"
	"github.com/nydren/boardsync/internal/store"
)

// Handle identifies one local snapshot listener.
type Handle int64

// Replicator publishes and mirrors the snapshot for one group. Incoming
// snapshots replace the mirror wholesale in delivery order; LastUpdate is
// stamped on publish but not consulted on receipt, so a stale publisher whose
// write is delivered later wins. That matches the deployed protocol and must
// not be "fixed" unilaterally: every client has to resolve races the same way.
type Replicator struct {
	adapter store.Adapter
	code    string
	log     *zap.Logger

	mu          sync.Mutex
	mirror      game.Snapshot
	hasMirror   bool
	subs        map[Handle]func(game.Snapshot)
	nextHandle  Handle
	storeHandle store.Handle
	now         func() int64
}

func New(adapter store.Adapter, code string, log *zap.Logger) (*Replicator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Replicator{
		adapter: adapter,
		code:    code,
		log:     log,
		subs:    make(map[Handle]func(game.Snapshot)),
		now:     func() int64 { return time.Now().UnixMilli() },
	}

	h, err := adapter.Subscribe(game.GameStatePath(code), r.onUpdate)
	if err != nil {
		return nil, fmt.Errorf("subscribe game state: %w", err)
	}
	r.storeHandle = h
	return r, nil
}

// Publish writes the snapshot wholesale, stamped with the current time. By
// protocol convention only the client holding the turn calls this; nothing
// store-side enforces it.
func (r *Replicator) Publish(ctx context.Context, snap game.Snapshot) error {
	r.mu.Lock()
	snap.LastUpdate = r.now()
	r.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.adapter.Write(ctx, game.GameStatePath(r.code), raw); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// Subscribe registers fn for every snapshot from now on, including the
// currently mirrored one if there is any.
func (r *Replicator) Subscribe(fn func(game.Snapshot)) Handle {
	r.mu.Lock()
	r.nextHandle++
	h := r.nextHandle
	r.subs[h] = fn
	snap, ok := r.mirror, r.hasMirror
	r.mu.Unlock()

	if ok {
		fn(snap)
	}
	return h
}

// Unsubscribe releases a listener. Unknown handles are a no-op.
func (r *Replicator) Unsubscribe(h Handle) {
	r.mu.Lock()
	delete(r.subs, h)
	r.mu.Unlock()
}

// Mirror returns a copy of the last delivered snapshot.
func (r *Replicator) Mirror() (game.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mirror, r.hasMirror
}

// IsMyTurn reports whether the mirrored snapshot puts username on the clock.
func (r *Replicator) IsMyTurn(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.mirror.CurrentPlayer()
	return r.hasMirror && ok && current.Username == username
}

// Close releases the store subscription. Local listeners stop firing.
func (r *Replicator) Close() {
	r.adapter.Unsubscribe(r.storeHandle)
}

func (r *Replicator) onUpdate(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var snap game.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		r.log.Warn("ignoring malformed snapshot", zap.String("code", r.code), zap.Error(err))
		return
	}

	r.mu.Lock()
	r.mirror = snap
	r.hasMirror = true
	fns := make([]func(game.Snapshot), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Advance moves the snapshot to the next player, bumping the round when the
// turn wraps back to the first player.
func Advance(snap game.Snapshot) game.Snapshot {
	if len(snap.Players) == 0 {
		return snap
	}
	snap.CurrentPlayerIndex = (snap.CurrentPlayerIndex + 1) % len(snap.Players)
	if snap.CurrentPlayerIndex == 0 {
		snap.Round++
	}
	return snap
}
