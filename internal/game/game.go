// Package game holds the shared data model: groups, player records, the
// replicated game-state snapshot, and chat messages, together with the store
// path layout they live under.
package game

import (
	"errors"
	"regexp"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"

	// StatusWaitingLegacy is a misspelling written by older clients. It is
	// accepted as a synonym of StatusWaiting when filtering joinable groups
	// and is never written by this code.
	StatusWaitingLegacy Status = "wating"
)

// Joinable reports whether s means the group is still open.
func (s Status) Joinable() bool {
	return s == StatusWaiting || s == StatusWaitingLegacy
}

// DefaultMaxPlayers is used only when a group record predates the MaxPlayers
// field. The stored value is authoritative whenever present.
const DefaultMaxPlayers = 4

// MinPlayersToStart is the smallest lobby that can begin a match.
const MinPlayersToStart = 2

// TokenColors are assigned to players in join order.
var TokenColors = []string{"#ff3366", "#00d4ff", "#00ff88", "#ffaa00"}

// DefaultClass is assumed for players who never picked one.
const DefaultClass = "6"

// User is the self-asserted identity a session runs under.
type User struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	ID       string `json:"id"`
}

type PlayerRecord struct {
	Name          string `json:"name"`
	Username      string `json:"username"`
	ID            string `json:"id"`
	JoinedAt      int64  `json:"joinedAt"`
	IsReady       bool   `json:"isReady"`
	IsCreator     bool   `json:"isCreator"`
	SelectedClass string `json:"selectedClass,omitempty"`
}

type Group struct {
	Code         string                  `json:"code"`
	Name         string                  `json:"name"`
	Creator      string                  `json:"creator"`
	CreatedAt    int64                   `json:"createdAt"`
	Status       Status                  `json:"status"`
	Players      map[string]PlayerRecord `json:"players,omitempty"`
	InvitedUsers []string                `json:"invitedUsers,omitempty"`
	MaxPlayers   int                     `json:"maxPlayers"`
	GameState    *Snapshot               `json:"gameState,omitempty"`
}

// Capacity returns the authoritative player cap for the group.
func (g Group) Capacity() int {
	if g.MaxPlayers > 0 {
		return g.MaxPlayers
	}
	return DefaultMaxPlayers
}

// PlayerState is one player's entry in the replicated snapshot, ordered by
// join order so every client derives identical token indexes.
type PlayerState struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	Class    string `json:"class"`
	Color    string `json:"color"`
}

// Snapshot is the single shared record of game progress. It is replaced
// wholesale on every publish; fields are never merged.
type Snapshot struct {
	Players            []PlayerState `json:"players"`
	CurrentPlayerIndex int           `json:"currentPlayerIndex"`
	Round              int           `json:"round"`
	LastUpdate         int64         `json:"lastUpdate"`
}

// CurrentPlayer returns the player whose turn the snapshot says it is.
func (s Snapshot) CurrentPlayer() (PlayerState, bool) {
	if s.CurrentPlayerIndex < 0 || s.CurrentPlayerIndex >= len(s.Players) {
		return PlayerState{}, false
	}
	return s.Players[s.CurrentPlayerIndex], true
}

// ChatMessage is immutable once appended. Ordering comes from the store's
// append key, carried separately as Message.Key at delivery time.
type ChatMessage struct {
	Username  string `json:"username"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

var (
	ErrInvalidUsername = errors.New("username must contain only letters, numbers, and underscores")
	ErrEmptyName       = errors.New("name must not be empty")
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidateUser rejects malformed identities before anything touches the
// store.
func ValidateUser(u User) error {
	if u.Name == "" {
		return ErrEmptyName
	}
	if !usernameRe.MatchString(u.Username) {
		return ErrInvalidUsername
	}
	return nil
}
