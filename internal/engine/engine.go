// Package engine is the turn state machine for a single match. It is pure:
// Apply never touches the store, so the whole flow is testable without a
// network. Collaborators (dice animation, board, quiz) feed it commands as
// their local steps complete; the session publishes the resulting snapshot
// when a turn hands off.
package engine

import (
	"errors"

	"github.com/nydren/boardsync/internal/game"
)

var (
	ErrNotYourTurn = errors.New("not your turn")
	ErrWrongPhase  = errors.New("command not valid in this phase")
	ErrBadRoll     = errors.New("roll must be between 1 and 6")
	ErrGameOver    = errors.New("game already won")
)

// BoardSize is the winning tile.
const BoardSize = 100

type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseRolling        Phase = "rolling"
	PhaseMoving         Phase = "moving"
	PhaseResolvingTile  Phase = "resolving_tile"
	PhaseAwaitingAnswer Phase = "awaiting_answer"
	PhaseResolving      Phase = "resolving"
	PhaseNextTurn       Phase = "next_turn"
	PhaseWon            Phase = "won"
)

// Effect is what the landing tile did to the player.
type Effect string

const (
	EffectNone   Effect = "none"
	EffectSnake  Effect = "snake"
	EffectLadder Effect = "ladder"
)

type CommandType string

const (
	CmdRoll       CommandType = "Roll"
	CmdRollResult CommandType = "RollResult"
	CmdMoveDone   CommandType = "MoveDone"
	CmdTileEffect CommandType = "TileEffect"
	CmdAnswer     CommandType = "Answer"
	CmdResolve    CommandType = "Resolve"
	CmdAdvance    CommandType = "Advance"
)

type Command struct {
	Type     CommandType
	Username string // who issued it; checked against the snapshot's turn
	Value    int    // RollResult: dice value 1..6
	Position int    // MoveDone: landing tile; TileEffect: snake/ladder destination
	Effect   Effect // TileEffect
	Correct  bool   // Answer
}

type EventType string

const (
	EvtRollStarted  EventType = "RollStarted"
	EvtDiceRolled   EventType = "DiceRolled"
	EvtMoved        EventType = "Moved"
	EvtTileResolved EventType = "TileResolved"
	EvtQuestionDue  EventType = "QuestionDue"
	EvtAnswered     EventType = "Answered"
	EvtPlayerReset  EventType = "PlayerReset"
	EvtTurnAdvanced EventType = "TurnAdvanced"
	EvtRoundStarted EventType = "RoundStarted"
	EvtGameWon      EventType = "GameWon"
)

type Event struct {
	Type     EventType
	Username string
	Value    int
	Position int
}

// State is one client's view of the turn flow plus the snapshot it derives
// from. Only the snapshot crosses the network; the phase is local.
type State struct {
	Phase    Phase
	Snap     game.Snapshot
	LastRoll int
}

func NewState(snap game.Snapshot) State {
	return State{Phase: PhaseIdle, Snap: snap}
}

// Apply runs cmd against s and returns the events it produced plus the new
// state. On error the returned state is s unchanged.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseWon {
		return nil, s, ErrGameOver
	}

	current, ok := s.Snap.CurrentPlayer()
	if !ok {
		return nil, s, ErrWrongPhase
	}
	// Advance is driven by the replicated index, not by whoever acted.
	if cmd.Type != CmdAdvance && cmd.Username != current.Username {
		return nil, s, ErrNotYourTurn
	}

	next := s
	switch cmd.Type {
	case CmdRoll:
		if s.Phase != PhaseIdle {
			return nil, s, ErrWrongPhase
		}
		next.Phase = PhaseRolling
		return []Event{{Type: EvtRollStarted, Username: current.Username}}, next, nil

	case CmdRollResult:
		if s.Phase != PhaseRolling {
			return nil, s, ErrWrongPhase
		}
		if cmd.Value < 1 || cmd.Value > 6 {
			return nil, s, ErrBadRoll
		}
		next.Phase = PhaseMoving
		next.LastRoll = cmd.Value
		return []Event{{Type: EvtDiceRolled, Username: current.Username, Value: cmd.Value}}, next, nil

	case CmdMoveDone:
		if s.Phase != PhaseMoving {
			return nil, s, ErrWrongPhase
		}
		pos := cmd.Position
		if pos > BoardSize {
			pos = BoardSize
		}
		next.Snap = setPosition(next.Snap, next.Snap.CurrentPlayerIndex, pos)
		events := []Event{{Type: EvtMoved, Username: current.Username, Position: pos}}
		if pos == BoardSize {
			next.Phase = PhaseWon
			return append(events, Event{Type: EvtGameWon, Username: current.Username, Position: pos}), next, nil
		}
		next.Phase = PhaseResolvingTile
		return events, next, nil

	case CmdTileEffect:
		if s.Phase != PhaseResolvingTile {
			return nil, s, ErrWrongPhase
		}
		if cmd.Effect == EffectNone {
			// Plain tiles ask a question; snakes and ladders skip it.
			next.Phase = PhaseAwaitingAnswer
			return []Event{{Type: EvtQuestionDue, Username: current.Username}}, next, nil
		}
		next.Snap = setPosition(next.Snap, next.Snap.CurrentPlayerIndex, cmd.Position)
		next.Phase = PhaseNextTurn
		return []Event{{Type: EvtTileResolved, Username: current.Username, Position: cmd.Position}}, next, nil

	case CmdAnswer:
		if s.Phase != PhaseAwaitingAnswer {
			return nil, s, ErrWrongPhase
		}
		next.Phase = PhaseResolving
		events := []Event{{Type: EvtAnswered, Username: current.Username}}
		if !cmd.Correct {
			// A wrong answer sends the player back to the start.
			next.Snap = setPosition(next.Snap, next.Snap.CurrentPlayerIndex, 0)
			events = append(events, Event{Type: EvtPlayerReset, Username: current.Username})
		}
		return events, next, nil

	case CmdResolve:
		if s.Phase != PhaseResolving {
			return nil, s, ErrWrongPhase
		}
		next.Phase = PhaseNextTurn
		return nil, next, nil

	case CmdAdvance:
		if s.Phase != PhaseNextTurn {
			return nil, s, ErrWrongPhase
		}
		n := len(next.Snap.Players)
		next.Snap.CurrentPlayerIndex = (next.Snap.CurrentPlayerIndex + 1) % n
		next.LastRoll = 0
		events := []Event{{Type: EvtTurnAdvanced, Position: next.Snap.CurrentPlayerIndex}}
		if next.Snap.CurrentPlayerIndex == 0 {
			next.Snap.Round++
			events = append(events, Event{Type: EvtRoundStarted, Value: next.Snap.Round})
		}
		next.Phase = PhaseIdle
		return events, next, nil

	default:
		return nil, s, ErrWrongPhase
	}
}

// setPosition returns the snapshot with players[i] moved, without sharing the
// players slice with the input.
func setPosition(snap game.Snapshot, i, pos int) game.Snapshot {
	players := make([]game.PlayerState, len(snap.Players))
	copy(players, snap.Players)
	if i >= 0 && i < len(players) {
		players[i].Position = pos
	}
	snap.Players = players
	return snap
}
