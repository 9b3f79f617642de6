// Package chat is the append-only message log of a group.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nydren/boardsync/internal/game"
	"github.com/nydren/boardsync/internal/store"
)

// ErrEmptyMessage is returned before any network call is made.
var ErrEmptyMessage = errors.New("message must not be empty")

// Handle identifies one local chat listener.
type Handle int64

// Message is a chat entry together with the store key that orders it.
type Message struct {
	Key string
	game.ChatMessage
}

// Channel sends and receives messages for one group. Subscribers see
// messages appended after they subscribed, in append order; no backlog is
// replayed.
//
// In degraded mode the channel never touches the store: Send loops the
// message straight back to local subscribers so the UI keeps working, which
// is an explicit fallback rather than silent loss across real participants.
type Channel struct {
	adapter  store.Adapter
	code     string
	user     game.User
	degraded bool
	log      *zap.Logger

	mu          sync.Mutex
	subs        map[Handle]func(Message)
	nextHandle  Handle
	storeHandle store.Handle
	closed      bool
}

func New(adapter store.Adapter, code string, user game.User, degraded bool, log *zap.Logger) (*Channel, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Channel{
		adapter:  adapter,
		code:     code,
		user:     user,
		degraded: degraded,
		log:      log,
		subs:     make(map[Handle]func(Message)),
	}
	if degraded {
		return c, nil
	}

	h, err := adapter.SubscribeAppended(game.ChatPath(code), c.onAppend)
	if err != nil {
		return nil, fmt.Errorf("subscribe chat: %w", err)
	}
	c.storeHandle = h
	return c, nil
}

// Send appends a message to the group log. Empty text is rejected locally.
func (c *Channel) Send(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyMessage
	}

	msg := game.ChatMessage{
		Username:  c.user.Username,
		Name:      c.user.Name,
		Message:   text,
		Timestamp: time.Now().UnixMilli(),
	}

	if c.degraded {
		c.deliver(Message{ChatMessage: msg})
		return nil
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode chat message: %w", err)
	}
	if _, err := c.adapter.Append(ctx, game.ChatPath(c.code), raw); err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}
	return nil
}

// Subscribe registers fn for messages appended from now on.
func (c *Channel) Subscribe(fn func(Message)) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandle++
	c.subs[c.nextHandle] = fn
	return c.nextHandle
}

// Unsubscribe releases a listener. Unknown handles are a no-op.
func (c *Channel) Unsubscribe(h Handle) {
	c.mu.Lock()
	delete(c.subs, h)
	c.mu.Unlock()
}

// Close releases the store subscription.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	h := c.storeHandle
	c.mu.Unlock()

	if h != 0 {
		c.adapter.Unsubscribe(h)
	}
}

func (c *Channel) onAppend(key string, raw json.RawMessage) {
	var msg game.ChatMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Warn("ignoring malformed chat message", zap.String("code", c.code), zap.Error(err))
		return
	}
	c.deliver(Message{Key: key, ChatMessage: msg})
}

func (c *Channel) deliver(msg Message) {
	c.mu.Lock()
	fns := make([]func(Message), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}
