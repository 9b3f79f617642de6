// Package session owns one user's connection to the multiplayer core: the
// store adapter, the joined group, and every live subscription, so teardown
// can release all of it in one place. No state here outlives the session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nydren/boardsync/internal/chat"
	"github.com/nydren/boardsync/internal/directory"
	"github.com/nydren/boardsync/internal/game"
	"github.com/nydren/boardsync/internal/membership"
	"github.com/nydren/boardsync/internal/store"
	"github.com/nydren/boardsync/internal/turnstate"
)

var (
	ErrNoGroup          = errors.New("not in a group")
	ErrAlreadyInGroup   = errors.New("already in a group")
	ErrNotCreator       = errors.New("only the creator can start the game")
	ErrNotEnoughPlayers = errors.New("need at least 2 players to start")
	ErrGameInProgress   = errors.New("game already started")
)

// Mode of the session's connection to the store.
type Mode string

const (
	ModeConnecting Mode = "connecting"
	ModeConnected  Mode = "connected"
	ModeDegraded   Mode = "degraded"
	ModeTornDown   Mode = "torn_down"
)

// Dial produces the adapter a session runs on. Returning an error puts the
// session in degraded mode instead of failing construction.
type Dial func(ctx context.Context) (store.Adapter, error)

type Session struct {
	user    game.User
	log     *zap.Logger
	adapter store.Adapter
	dir     *directory.Directory
	members *membership.Controller

	mu            sync.Mutex
	mode          Mode
	groupCode     string
	chatCh        *chat.Channel
	turns         *turnstate.Replicator
	playersHandle store.Handle
	statusHandle  store.Handle
	onPlayers     func(map[string]game.PlayerRecord)
	onStatus      func(game.Status)
}

// New validates the identity, dials the store, and returns a session in
// Connected or Degraded mode. Validation failures never reach the store.
func New(ctx context.Context, user game.User, dial Dial, log *zap.Logger) (*Session, error) {
	if err := game.ValidateUser(user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Session{user: user, log: log, mode: ModeConnecting}

	adapter, err := dial(ctx)
	if err != nil || adapter == nil {
		log.Warn("store unreachable, running degraded", zap.String("username", user.Username), zap.Error(err))
		s.adapter = store.Unavailable{}
		s.mode = ModeDegraded
	} else {
		s.adapter = adapter
		s.mode = ModeConnected
	}

	s.dir = directory.New(s.adapter, log)
	s.members = membership.New(s.adapter, log)
	return s, nil
}

func (s *Session) User() game.User { return s.user }

func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// GroupCode returns the joined group's code, empty when not in one.
func (s *Session) GroupCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupCode
}

// OnPlayersChanged registers the lobby-roster callback. Set before joining.
func (s *Session) OnPlayersChanged(fn func(map[string]game.PlayerRecord)) {
	s.mu.Lock()
	s.onPlayers = fn
	s.mu.Unlock()
}

// OnStatusChanged registers the group-status callback. Set before joining.
func (s *Session) OnStatusChanged(fn func(game.Status)) {
	s.mu.Lock()
	s.onStatus = fn
	s.mu.Unlock()
}

// ListGroups enumerates joinable groups.
func (s *Session) ListGroups(ctx context.Context) (iter.Seq[game.Group], error) {
	return s.dir.List(ctx)
}

// CreateGroup creates a group with this user as creator and attaches to it.
func (s *Session) CreateGroup(ctx context.Context, name string, invited []string) (string, error) {
	if code := s.GroupCode(); code != "" {
		return "", ErrAlreadyInGroup
	}
	code, err := s.dir.Create(ctx, name, s.user, invited)
	if err != nil {
		return "", err
	}
	if err := s.attach(code); err != nil {
		return "", err
	}
	// The creator's record must also vanish if this client disappears.
	if err := s.adapter.RegisterDisconnectCleanup(ctx, game.PlayerPath(code, s.user.Username), nil); err != nil {
		s.log.Warn("disconnect cleanup registration failed", zap.String("code", code), zap.Error(err))
	}
	return code, nil
}

// JoinGroup admits this user into the group and attaches on success.
// AlreadyMember also attaches: it means a previous session for this user
// still holds the slot.
func (s *Session) JoinGroup(ctx context.Context, code string) (membership.Outcome, error) {
	if current := s.GroupCode(); current != "" {
		return "", ErrAlreadyInGroup
	}
	outcome, err := s.members.Join(ctx, code, s.user)
	if err != nil {
		return outcome, err
	}
	if outcome == membership.Full {
		return outcome, nil
	}
	if err := s.attach(code); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// attach wires the per-group components: roster watch, status watch, chat,
// and the turn-state replicator. Attaching twice to the same group is a
// no-op, so handlers are never duplicated.
func (s *Session) attach(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groupCode == code {
		return nil
	}
	if s.groupCode != "" {
		return ErrAlreadyInGroup
	}
	degraded := s.mode == ModeDegraded

	chatCh, err := chat.New(s.adapter, code, s.user, degraded, s.log)
	if err != nil {
		return fmt.Errorf("attach chat: %w", err)
	}
	turns, err := turnstate.New(s.adapter, code, s.log)
	if err != nil {
		chatCh.Close()
		return fmt.Errorf("attach turn state: %w", err)
	}

	playersHandle, err := s.adapter.Subscribe(game.PlayersPath(code), s.handlePlayers)
	if err != nil {
		chatCh.Close()
		turns.Close()
		return fmt.Errorf("watch players: %w", err)
	}
	statusHandle, err := s.adapter.Subscribe(game.StatusPath(code), s.handleStatus)
	if err != nil {
		chatCh.Close()
		turns.Close()
		s.adapter.Unsubscribe(playersHandle)
		return fmt.Errorf("watch status: %w", err)
	}

	s.groupCode = code
	s.chatCh = chatCh
	s.turns = turns
	s.playersHandle = playersHandle
	s.statusHandle = statusHandle
	return nil
}

// Chat returns the joined group's chat channel, nil when not in a group.
func (s *Session) Chat() *chat.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatCh
}

// Turns returns the joined group's turn-state replicator, nil when not in a
// group.
func (s *Session) Turns() *turnstate.Replicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// StartGame flips the group to playing and publishes the initial snapshot.
// Creator only; the lobby needs at least two players.
func (s *Session) StartGame(ctx context.Context) error {
	s.mu.Lock()
	code := s.groupCode
	turns := s.turns
	s.mu.Unlock()
	if code == "" {
		return ErrNoGroup
	}

	raw, err := s.adapter.Read(ctx, game.GroupPath(code))
	if err != nil {
		return fmt.Errorf("read group: %w", err)
	}
	if len(raw) == 0 {
		return membership.ErrNotFound
	}
	var group game.Group
	if err := json.Unmarshal(raw, &group); err != nil {
		return fmt.Errorf("decode group: %w", err)
	}
	if group.Creator != s.user.Username {
		return ErrNotCreator
	}
	// Status only moves forward; restarting would clobber a live snapshot.
	if !group.Status.Joinable() {
		return ErrGameInProgress
	}
	if len(group.Players) < game.MinPlayersToStart {
		return ErrNotEnoughPlayers
	}

	if err := turns.Publish(ctx, InitialSnapshot(group)); err != nil {
		return err
	}
	status, _ := json.Marshal(game.StatusPlaying)
	if err := s.adapter.Write(ctx, game.StatusPath(code), status); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	s.log.Info("game started", zap.String("code", code), zap.Int("players", len(group.Players)))
	return nil
}

// HandOffTurn advances the snapshot to the next player and publishes it.
// Called by the turn owner once its local move fully resolves; everyone else
// just observes the published snapshot.
func (s *Session) HandOffTurn(ctx context.Context, snap game.Snapshot) error {
	s.mu.Lock()
	turns := s.turns
	s.mu.Unlock()
	if turns == nil {
		return ErrNoGroup
	}
	return turns.Publish(ctx, turnstate.Advance(snap))
}

// LeaveGroup removes this user's record and releases everything attached to
// the group. Calling it while not in a group is a no-op.
func (s *Session) LeaveGroup(ctx context.Context) error {
	s.mu.Lock()
	code := s.groupCode
	s.mu.Unlock()
	if code == "" {
		return nil
	}
	if err := s.members.Leave(ctx, code, s.user.Username); err != nil {
		return err
	}
	s.detach()
	return nil
}

func (s *Session) detach() {
	s.mu.Lock()
	chatCh, turns := s.chatCh, s.turns
	playersHandle, statusHandle := s.playersHandle, s.statusHandle
	s.chatCh, s.turns = nil, nil
	s.playersHandle, s.statusHandle = 0, 0
	s.groupCode = ""
	s.mu.Unlock()

	if chatCh != nil {
		chatCh.Close()
	}
	if turns != nil {
		turns.Close()
	}
	if playersHandle != 0 {
		s.adapter.Unsubscribe(playersHandle)
	}
	if statusHandle != 0 {
		s.adapter.Unsubscribe(statusHandle)
	}
}

// Close tears the session down: every subscription is released and the
// adapter's disconnect cleanups run. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.mode == ModeTornDown {
		s.mu.Unlock()
		return nil
	}
	s.mode = ModeTornDown
	s.mu.Unlock()

	s.detach()
	return s.adapter.Close()
}

func (s *Session) handlePlayers(raw json.RawMessage) {
	s.mu.Lock()
	fn := s.onPlayers
	s.mu.Unlock()
	if fn == nil {
		return
	}
	players := make(map[string]game.PlayerRecord)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &players); err != nil {
			s.log.Warn("ignoring malformed players update", zap.Error(err))
			return
		}
	}
	fn(players)
}

func (s *Session) handleStatus(raw json.RawMessage) {
	s.mu.Lock()
	fn := s.onStatus
	s.mu.Unlock()
	if fn == nil || len(raw) == 0 {
		return
	}
	var status game.Status
	if err := json.Unmarshal(raw, &status); err != nil {
		s.log.Warn("ignoring malformed status update", zap.Error(err))
		return
	}
	fn(status)
}

// InitialSnapshot derives the first snapshot from the lobby roster: players
// in join order at tile 0, colors by seat, round 1, creator's seat first only
// if the creator joined first.
func InitialSnapshot(group game.Group) game.Snapshot {
	players := make([]game.PlayerState, 0, len(group.Players))
	for username, record := range group.Players {
		class := record.SelectedClass
		if class == "" {
			class = game.DefaultClass
		}
		players = append(players, game.PlayerState{
			Username: username,
			Name:     record.Name,
			Class:    class,
		})
	}
	records := group.Players
	sort.Slice(players, func(i, j int) bool {
		a, b := records[players[i].Username], records[players[j].Username]
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		return players[i].Username < players[j].Username
	})
	for i := range players {
		players[i].Color = game.TokenColors[i%len(game.TokenColors)]
	}
	return game.Snapshot{
		Players:            players,
		CurrentPlayerIndex: 0,
		Round:              1,
	}
}
