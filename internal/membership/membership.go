// Package membership admits and removes players under the group capacity
// invariant.
package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nydren/boardsync/internal/game"
	"github.com/nydren/boardsync/internal/store"
)

// ErrNotFound means the referenced group code does not exist.
var ErrNotFound = errors.New("group not found")

// Outcome of a join attempt.
type Outcome string

const (
	Admitted      Outcome = "admitted"
	AlreadyMember Outcome = "already_member"
	Full          Outcome = "full"
)

type Controller struct {
	adapter store.Adapter
	log     *zap.Logger
}

func New(adapter store.Adapter, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{adapter: adapter, log: log}
}

// Join admits user into the group behind code, or reports why it could not.
//
// The insert runs as a transaction over the players subtree; that transaction
// is the only thing preventing two clients racing for the last slot from both
// being admitted. The capacity comes from the stored group record, which is
// immutable after creation.
func (c *Controller) Join(ctx context.Context, code string, user game.User) (Outcome, error) {
	if err := game.ValidateUser(user); err != nil {
		return "", err
	}

	group, err := c.readGroup(ctx, code)
	if err != nil {
		return "", err
	}
	capacity := group.Capacity()

	record := game.PlayerRecord{
		Name:          user.Name,
		Username:      user.Username,
		ID:            user.ID,
		JoinedAt:      time.Now().UnixMilli(),
		SelectedClass: game.DefaultClass,
	}

	var outcome Outcome
	_, err = c.adapter.Transaction(ctx, game.PlayersPath(code), func(current json.RawMessage) (json.RawMessage, error) {
		players := make(map[string]game.PlayerRecord)
		if len(current) > 0 {
			if err := json.Unmarshal(current, &players); err != nil {
				return nil, fmt.Errorf("decode players: %w", err)
			}
		}
		if _, ok := players[user.Username]; ok {
			outcome = AlreadyMember
			return nil, store.ErrAbort
		}
		if len(players) >= capacity {
			outcome = Full
			return nil, store.ErrAbort
		}
		outcome = Admitted
		players[user.Username] = record
		return json.Marshal(players)
	})
	if err != nil {
		return "", fmt.Errorf("join group %s: %w", code, err)
	}

	if outcome == Admitted {
		// Presence cleanup: the store removes this record by itself if the
		// connection drops without an explicit leave.
		if err := c.adapter.RegisterDisconnectCleanup(ctx, game.PlayerPath(code, user.Username), nil); err != nil {
			c.log.Warn("disconnect cleanup registration failed",
				zap.String("code", code),
				zap.String("username", user.Username),
				zap.Error(err))
		}
		c.log.Info("player admitted", zap.String("code", code), zap.String("username", user.Username))
	}
	return outcome, nil
}

// Leave removes the caller's own record. Leaving a group twice, or a group
// the caller never joined, is a no-op.
func (c *Controller) Leave(ctx context.Context, code, username string) error {
	if err := c.adapter.Write(ctx, game.PlayerPath(code, username), nil); err != nil {
		return fmt.Errorf("leave group %s: %w", code, err)
	}
	c.log.Info("player left", zap.String("code", code), zap.String("username", username))
	return nil
}

func (c *Controller) readGroup(ctx context.Context, code string) (game.Group, error) {
	raw, err := c.adapter.Read(ctx, game.GroupPath(code))
	if err != nil {
		return game.Group{}, fmt.Errorf("read group %s: %w", code, err)
	}
	if len(raw) == 0 {
		return game.Group{}, ErrNotFound
	}
	var group game.Group
	if err := json.Unmarshal(raw, &group); err != nil {
		return game.Group{}, fmt.Errorf("decode group %s: %w", code, err)
	}
	return group, nil
}
