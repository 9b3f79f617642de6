package remote

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nydren/boardsync/pkg/types"
)

func newBareClient() *Client {
	return &Client{
		log:      zap.NewNop(),
		pending:  make(map[int64]chan types.ServerMessage),
		valueFns: make(map[int64]func(json.RawMessage)),
		childFns: make(map[int64]func(string, json.RawMessage)),
		backlog:  make(map[int64][]types.ServerMessage),
		dead:     make(map[int64]struct{}),
		queue:    make(chan func(), 8),
	}
}

func TestForgetDropsHeldBacklog(t *testing.T) {
	c := newBareClient()
	c.backlog[9] = []types.ServerMessage{{Type: types.TypeValue, Handle: 9}}

	c.forget(9)
	require.Empty(t, c.backlog)
}

// Events arriving after the handle was released must not be held for a
// subscriber that will never register.
func TestEventsForDeadHandleAreDropped(t *testing.T) {
	c := newBareClient()
	c.valueFns[7] = func(json.RawMessage) {}
	c.forget(7)

	c.routeEvent(types.ServerMessage{Type: types.TypeValue, Handle: 7, Value: json.RawMessage(`"late"`)})
	c.routeEvent(types.ServerMessage{Type: types.TypeChild, Handle: 7, Key: "k", Value: json.RawMessage(`"late"`)})
	require.Empty(t, c.backlog)
	require.Empty(t, c.queue)
}

// Pre-result buffering for live handles keeps working.
func TestEventsForUnknownLiveHandleAreHeld(t *testing.T) {
	c := newBareClient()
	c.routeEvent(types.ServerMessage{Type: types.TypeValue, Handle: 3, Value: json.RawMessage(`"early"`)})
	require.Len(t, c.backlog[3], 1)
}
