package directory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nydren/boardsync/internal/game"
	"github.com/nydren/boardsync/internal/store"
	"github.com/nydren/boardsync/internal/store/memory"
)

func newAdapter(t *testing.T) *memory.Session {
	t.Helper()
	st := memory.New(context.Background(), nil)
	t.Cleanup(st.Shutdown)
	sess := st.Session()
	t.Cleanup(func() { sess.Close() })
	return sess
}

func alice() game.User {
	return game.User{Name: "Alice", Username: "alice", ID: "u-alice"}
}

func TestCreateWritesFullGroup(t *testing.T) {
	adapter := newAdapter(t)
	dir := New(adapter, nil)
	ctx := context.Background()

	code, err := dir.Create(ctx, "Quiz Night", alice(), []string{"bob", "", "alice"})
	require.NoError(t, err)
	require.Len(t, code, 6)

	raw, err := adapter.Read(ctx, game.GroupPath(code))
	require.NoError(t, err)
	var group game.Group
	require.NoError(t, json.Unmarshal(raw, &group))

	require.Equal(t, code, group.Code)
	require.Equal(t, "Quiz Night", group.Name)
	require.Equal(t, "alice", group.Creator)
	require.Equal(t, game.StatusWaiting, group.Status)
	require.Equal(t, game.DefaultMaxPlayers, group.MaxPlayers)
	// Blanks and self-invites are dropped.
	require.Equal(t, []string{"bob"}, group.InvitedUsers)

	require.Len(t, group.Players, 1)
	creator := group.Players["alice"]
	require.True(t, creator.IsCreator)
	require.False(t, creator.IsReady)
	require.Equal(t, "Alice", creator.Name)
}

func TestCreateValidatesLocally(t *testing.T) {
	// Validation failures must never reach the store, so even the degraded
	// adapter works here.
	dir := New(store.Unavailable{}, nil)
	ctx := context.Background()

	_, err := dir.Create(ctx, "", alice(), nil)
	require.ErrorIs(t, err, ErrEmptyGroupName)

	bad := game.User{Name: "Mallory", Username: "mallory!!", ID: "u-m"}
	_, err = dir.Create(ctx, "Game", bad, nil)
	require.ErrorIs(t, err, game.ErrInvalidUsername)
}

func TestCreateFailsWhenStoreUnavailable(t *testing.T) {
	dir := New(store.Unavailable{}, nil)
	_, err := dir.Create(context.Background(), "Game", alice(), nil)
	require.ErrorIs(t, err, store.ErrUnavailable)
}

func TestListFiltersJoinableGroups(t *testing.T) {
	adapter := newAdapter(t)
	dir := New(adapter, nil)
	ctx := context.Background()

	write := func(code string, group game.Group) {
		raw, err := json.Marshal(group)
		require.NoError(t, err)
		require.NoError(t, adapter.Write(ctx, game.GroupPath(code), raw))
	}

	player := func(username string) map[string]game.PlayerRecord {
		return map[string]game.PlayerRecord{
			username: {Name: username, Username: username, IsCreator: true},
		}
	}
	fullPlayers := map[string]game.PlayerRecord{
		"a": {Username: "a"}, "b": {Username: "b"},
		"c": {Username: "c"}, "d": {Username: "d"},
	}

	write("OPEN01", game.Group{Name: "open", Creator: "x", CreatedAt: 1, Status: game.StatusWaiting, Players: player("x"), MaxPlayers: 4})
	write("LEGACY", game.Group{Name: "legacy", Creator: "y", CreatedAt: 2, Status: game.StatusWaitingLegacy, Players: player("y"), MaxPlayers: 4})
	write("FULL01", game.Group{Name: "full", Creator: "a", CreatedAt: 3, Status: game.StatusWaiting, Players: fullPlayers, MaxPlayers: 4})
	write("BUSY01", game.Group{Name: "busy", Creator: "z", CreatedAt: 4, Status: game.StatusPlaying, Players: player("z"), MaxPlayers: 4})
	write("DONE01", game.Group{Name: "done", Creator: "w", CreatedAt: 5, Status: game.StatusFinished, Players: player("w"), MaxPlayers: 4})
	write("GHOST1", game.Group{Name: "ghost", Creator: "g", CreatedAt: 6, Status: game.StatusWaiting, MaxPlayers: 4})

	groups, err := dir.List(ctx)
	require.NoError(t, err)

	var codes []string
	for g := range groups {
		codes = append(codes, g.Code)
		require.Less(t, len(g.Players), g.Capacity())
		require.True(t, g.Status.Joinable())
	}
	require.Equal(t, []string{"OPEN01", "LEGACY"}, codes)

	// The sequence is restartable.
	count := 0
	for range groups {
		count++
	}
	require.Equal(t, 2, count)
}

func TestListSkipsMalformedRecords(t *testing.T) {
	adapter := newAdapter(t)
	dir := New(adapter, nil)
	ctx := context.Background()

	good := game.Group{
		Name: "open", Creator: "x", CreatedAt: 1, Status: game.StatusWaiting,
		Players:    map[string]game.PlayerRecord{"x": {Username: "x", IsCreator: true}},
		MaxPlayers: 4,
	}
	raw, err := json.Marshal(good)
	require.NoError(t, err)
	require.NoError(t, adapter.Write(ctx, game.GroupPath("OPEN01"), raw))
	// A record some other client corrupted must not hide the healthy ones.
	require.NoError(t, adapter.Write(ctx, game.GroupPath("BAD001"), json.RawMessage(`"garbage"`)))

	groups, err := dir.List(ctx)
	require.NoError(t, err)
	var codes []string
	for g := range groups {
		codes = append(codes, g.Code)
	}
	require.Equal(t, []string{"OPEN01"}, codes)
}

func TestListEmptyStoreIsNotAnError(t *testing.T) {
	adapter := newAdapter(t)
	dir := New(adapter, nil)

	groups, err := dir.List(context.Background())
	require.NoError(t, err)
	for range groups {
		t.Fatal("expected empty sequence")
	}
}

func TestListEarlyBreak(t *testing.T) {
	adapter := newAdapter(t)
	dir := New(adapter, nil)
	ctx := context.Background()

	for _, code := range []string{"AAAAAA", "BBBBBB"} {
		_, err := dir.Create(ctx, "g-"+code, game.User{Name: code, Username: "u" + code, ID: code}, nil)
		require.NoError(t, err)
	}

	groups, err := dir.List(ctx)
	require.NoError(t, err)
	seen := 0
	for range groups {
		seen++
		break
	}
	require.Equal(t, 1, seen)
}
