package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nydren/boardsync/internal/game"
)

func twoPlayerSnap() game.Snapshot {
	return game.Snapshot{
		Players: []game.PlayerState{
			{Username: "alice", Name: "Alice", Position: 10, Class: "6", Color: "#ff3366"},
			{Username: "bob", Name: "Bob", Position: 4, Class: "6", Color: "#00d4ff"},
		},
		CurrentPlayerIndex: 0,
		Round:              1,
	}
}

func apply(t *testing.T, s State, cmd Command) ([]Event, State) {
	t.Helper()
	events, next, err := Apply(s, cmd)
	require.NoError(t, err)
	return events, next
}

func hasEvent(events []Event, typ EventType) bool {
	for _, e := range events {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestFullTurnWithQuestion(t *testing.T) {
	s := NewState(twoPlayerSnap())

	events, s := apply(t, s, Command{Type: CmdRoll, Username: "alice"})
	require.Equal(t, PhaseRolling, s.Phase)
	require.True(t, hasEvent(events, EvtRollStarted))

	events, s = apply(t, s, Command{Type: CmdRollResult, Username: "alice", Value: 5})
	require.Equal(t, PhaseMoving, s.Phase)
	require.Equal(t, 5, s.LastRoll)
	require.True(t, hasEvent(events, EvtDiceRolled))

	events, s = apply(t, s, Command{Type: CmdMoveDone, Username: "alice", Position: 15})
	require.Equal(t, PhaseResolvingTile, s.Phase)
	require.Equal(t, 15, s.Snap.Players[0].Position)
	require.True(t, hasEvent(events, EvtMoved))

	events, s = apply(t, s, Command{Type: CmdTileEffect, Username: "alice", Effect: EffectNone})
	require.Equal(t, PhaseAwaitingAnswer, s.Phase)
	require.True(t, hasEvent(events, EvtQuestionDue))

	events, s = apply(t, s, Command{Type: CmdAnswer, Username: "alice", Correct: true})
	require.Equal(t, PhaseResolving, s.Phase)
	require.False(t, hasEvent(events, EvtPlayerReset))
	require.Equal(t, 15, s.Snap.Players[0].Position)

	_, s = apply(t, s, Command{Type: CmdResolve, Username: "alice"})
	require.Equal(t, PhaseNextTurn, s.Phase)

	events, s = apply(t, s, Command{Type: CmdAdvance})
	require.Equal(t, PhaseIdle, s.Phase)
	require.Equal(t, 1, s.Snap.CurrentPlayerIndex)
	require.Equal(t, 1, s.Snap.Round, "round only advances when the turn wraps")
	require.True(t, hasEvent(events, EvtTurnAdvanced))
	require.False(t, hasEvent(events, EvtRoundStarted))
}

func TestWrongAnswerResetsPlayer(t *testing.T) {
	s := NewState(twoPlayerSnap())
	_, s = apply(t, s, Command{Type: CmdRoll, Username: "alice"})
	_, s = apply(t, s, Command{Type: CmdRollResult, Username: "alice", Value: 3})
	_, s = apply(t, s, Command{Type: CmdMoveDone, Username: "alice", Position: 13})
	_, s = apply(t, s, Command{Type: CmdTileEffect, Username: "alice", Effect: EffectNone})

	events, s := apply(t, s, Command{Type: CmdAnswer, Username: "alice", Correct: false})
	require.True(t, hasEvent(events, EvtPlayerReset))
	require.Equal(t, 0, s.Snap.Players[0].Position)
	require.Equal(t, 4, s.Snap.Players[1].Position, "other players untouched")
}

func TestSnakeSkipsQuestion(t *testing.T) {
	s := NewState(twoPlayerSnap())
	_, s = apply(t, s, Command{Type: CmdRoll, Username: "alice"})
	_, s = apply(t, s, Command{Type: CmdRollResult, Username: "alice", Value: 6})
	_, s = apply(t, s, Command{Type: CmdMoveDone, Username: "alice", Position: 16})

	events, s := apply(t, s, Command{Type: CmdTileEffect, Username: "alice", Effect: EffectSnake, Position: 3})
	require.Equal(t, PhaseNextTurn, s.Phase)
	require.Equal(t, 3, s.Snap.Players[0].Position)
	require.True(t, hasEvent(events, EvtTileResolved))
	require.False(t, hasEvent(events, EvtQuestionDue))
}

func TestRoundAdvancesOnWrap(t *testing.T) {
	snap := twoPlayerSnap()
	snap.CurrentPlayerIndex = 1 // bob is last in the order
	s := NewState(snap)
	s.Phase = PhaseNextTurn

	events, s := apply(t, s, Command{Type: CmdAdvance})
	require.Equal(t, 0, s.Snap.CurrentPlayerIndex)
	require.Equal(t, 2, s.Snap.Round)
	require.True(t, hasEvent(events, EvtRoundStarted))
}

func TestWinAtFinalTile(t *testing.T) {
	snap := twoPlayerSnap()
	snap.Players[0].Position = 97
	s := NewState(snap)
	_, s = apply(t, s, Command{Type: CmdRoll, Username: "alice"})
	_, s = apply(t, s, Command{Type: CmdRollResult, Username: "alice", Value: 4})

	events, s := apply(t, s, Command{Type: CmdMoveDone, Username: "alice", Position: 101})
	require.Equal(t, PhaseWon, s.Phase)
	require.Equal(t, BoardSize, s.Snap.Players[0].Position, "position is clamped to the board")
	require.True(t, hasEvent(events, EvtGameWon))

	_, _, err := Apply(s, Command{Type: CmdRoll, Username: "bob"})
	require.ErrorIs(t, err, ErrGameOver)
}

func TestTurnAndPhaseGuards(t *testing.T) {
	s := NewState(twoPlayerSnap())

	_, _, err := Apply(s, Command{Type: CmdRoll, Username: "bob"})
	require.ErrorIs(t, err, ErrNotYourTurn)

	_, _, err = Apply(s, Command{Type: CmdAnswer, Username: "alice", Correct: true})
	require.ErrorIs(t, err, ErrWrongPhase)

	_, s = apply(t, s, Command{Type: CmdRoll, Username: "alice"})
	_, _, err = Apply(s, Command{Type: CmdRollResult, Username: "alice", Value: 9})
	require.ErrorIs(t, err, ErrBadRoll)

	// A failed command leaves the state untouched.
	require.Equal(t, PhaseRolling, s.Phase)
}
