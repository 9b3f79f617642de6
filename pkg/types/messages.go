// Package types defines the websocket wire protocol between store clients
// and the store server. One JSON object per text frame.
package types

import "encoding/json"

// Ops a client may request.
const (
	OpRead              = "read"
	OpWrite             = "write"
	OpCas               = "cas"
	OpAppend            = "append"
	OpSubscribe         = "subscribe"
	OpSubscribeAppended = "subscribe_appended"
	OpUnsubscribe       = "unsubscribe"
	OpOnDisconnect      = "on_disconnect"
)

// Server message types.
const (
	TypeResult = "result" // reply to a request, correlated by ID
	TypeValue  = "value"  // value change on a subscription
	TypeChild  = "child"  // appended child on a subscription
)

// ClientMessage is a request from adapter to server.
type ClientMessage struct {
	ID       int64           `json:"id"`
	Op       string          `json:"op"`
	Path     string          `json:"path,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Expected json.RawMessage `json:"expected,omitempty"` // cas only
	Handle   int64           `json:"handle,omitempty"`   // unsubscribe only
}

// ServerMessage is either a request result or a subscription event.
type ServerMessage struct {
	Type      string          `json:"type"`
	ID        int64           `json:"id,omitempty"`
	Handle    int64           `json:"handle,omitempty"`
	Key       string          `json:"key,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Committed bool            `json:"committed,omitempty"`
	Error     string          `json:"error,omitempty"`
}
