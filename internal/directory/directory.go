// Package directory creates and enumerates groups.
package directory

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math/big"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nydren/boardsync/internal/game"
	"github.com/nydren/boardsync/internal/store"
)

var (
	ErrEmptyGroupName = errors.New("group name must not be empty")

	// ErrCodeCollision means two generated codes in a row were already taken.
	// Creation retries exactly once before giving up.
	ErrCodeCollision = errors.New("group code collision")
)

const codeLength = 6

type Directory struct {
	adapter store.Adapter
	log     *zap.Logger
}

func New(adapter store.Adapter, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{adapter: adapter, log: log}
}

// Create writes a new group with the creator as its only player and returns
// the generated code. If the first code is already taken it regenerates once.
func (d *Directory) Create(ctx context.Context, name string, creator game.User, invited []string) (string, error) {
	if name == "" {
		return "", ErrEmptyGroupName
	}
	if err := game.ValidateUser(creator); err != nil {
		return "", err
	}

	// Self-invites and blanks are dropped rather than rejected.
	var invitedUsers []string
	for _, username := range invited {
		if username != "" && username != creator.Username {
			invitedUsers = append(invitedUsers, username)
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		code, err := generateCode()
		if err != nil {
			return "", fmt.Errorf("generate group code: %w", err)
		}

		now := time.Now().UnixMilli()
		group := game.Group{
			Code:      code,
			Name:      name,
			Creator:   creator.Username,
			CreatedAt: now,
			Status:    game.StatusWaiting,
			Players: map[string]game.PlayerRecord{
				creator.Username: {
					Name:      creator.Name,
					Username:  creator.Username,
					ID:        creator.ID,
					JoinedAt:  now,
					IsCreator: true,
				},
			},
			InvitedUsers: invitedUsers,
			MaxPlayers:   game.DefaultMaxPlayers,
		}

		raw, err := json.Marshal(group)
		if err != nil {
			return "", fmt.Errorf("encode group: %w", err)
		}

		// The existence check and the write happen in one transaction so two
		// creators landing on the same code cannot both claim it.
		result, err := d.adapter.Transaction(ctx, game.GroupPath(code), func(current json.RawMessage) (json.RawMessage, error) {
			if len(current) > 0 {
				return nil, store.ErrAbort
			}
			return raw, nil
		})
		if err != nil {
			return "", fmt.Errorf("create group: %w", err)
		}
		if !result.Committed {
			d.log.Info("group code collision, regenerating", zap.String("code", code))
			continue
		}

		d.log.Info("group created",
			zap.String("code", code),
			zap.String("name", name),
			zap.String("creator", creator.Username))
		return code, nil
	}
	return "", ErrCodeCollision
}

// List reads every group and yields the joinable ones: status waiting (the
// legacy misspelling included) with at least one free slot. The sequence is
// backed by the snapshot read here, so it can be ranged over repeatedly.
func (d *Directory) List(ctx context.Context) (iter.Seq[game.Group], error) {
	raw, err := d.adapter.Read(ctx, game.GroupsPath)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	var records map[string]json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode groups: %w", err)
		}
	}

	joinable := make([]game.Group, 0, len(records))
	for code, entry := range records {
		var g game.Group
		if err := json.Unmarshal(entry, &g); err != nil {
			// One bad record must not hide every other group.
			d.log.Warn("skipping malformed group record", zap.String("code", code), zap.Error(err))
			continue
		}
		g.Code = code
		if !g.Status.Joinable() {
			continue
		}
		if len(g.Players) == 0 || len(g.Players) >= g.Capacity() {
			continue
		}
		joinable = append(joinable, g)
	}
	sort.Slice(joinable, func(i, j int) bool {
		if joinable[i].CreatedAt != joinable[j].CreatedAt {
			return joinable[i].CreatedAt < joinable[j].CreatedAt
		}
		return joinable[i].Code < joinable[j].Code
	})

	return func(yield func(game.Group) bool) {
		for _, g := range joinable {
			if !yield(g) {
				return
			}
		}
	}, nil
}

func generateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[n.Int64()]
	}
	return string(code), nil
}
