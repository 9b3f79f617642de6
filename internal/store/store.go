// Package store defines the contract every realtime-store adapter satisfies.
//
// The backing store is a JSON tree addressed by slash-separated paths. It only
// offers primitive operations: snapshot reads, wholesale writes, atomic
// read-modify-write transactions, ordered appends, change subscriptions, and
// server-enforced disconnect cleanups. Everything higher up (groups,
// membership, chat, turn state) is built on these primitives.
//
// Ordering: notifications for a single path are delivered in the order the
// store applied writes to that path. No ordering is guaranteed between
// different paths.
package store

import (
	"context"
	"encoding/json"
)

// Handle identifies one registered subscription. Required for Unsubscribe so
// that teardown is auditable and re-subscribing can never detach someone
// else's listener.
type Handle int64

// TxnFunc is applied to the current value at a path inside a transaction.
// current is nil when nothing exists at the path. Returning ErrAbort aborts
// without committing; any other error fails the transaction.
type TxnFunc func(current json.RawMessage) (json.RawMessage, error)

// TxnResult reports the outcome of a transaction.
type TxnResult struct {
	Committed bool
	Value     json.RawMessage // value at the path after the attempt
}

// Adapter is the stable interface over the external realtime store.
//
// Value subscriptions fire immediately with the current value on registration
// and then once per write affecting the path. Child subscriptions deliver new
// appends only; no backlog replay is guaranteed.
type Adapter interface {
	// Read returns the value at path, or nil if nothing exists there.
	Read(ctx context.Context, path string) (json.RawMessage, error)

	// Write replaces the subtree at path. A nil or JSON-null value deletes it.
	Write(ctx context.Context, path string, value json.RawMessage) error

	// Transaction atomically applies fn to the value at path using
	// compare-and-retry semantics. fn may run more than once.
	Transaction(ctx context.Context, path string, fn TxnFunc) (TxnResult, error)

	// Append stores value under a generated key that sorts after every key
	// previously generated for path, and returns that key.
	Append(ctx context.Context, path string, value json.RawMessage) (string, error)

	// Subscribe registers fn for value changes at path.
	Subscribe(path string, fn func(value json.RawMessage)) (Handle, error)

	// SubscribeAppended registers fn for children appended to path after
	// registration, delivered in append order.
	SubscribeAppended(path string, fn func(key string, value json.RawMessage)) (Handle, error)

	// Unsubscribe releases a subscription. Unknown handles are a no-op.
	Unsubscribe(h Handle)

	// RegisterDisconnectCleanup asks the store to write value at path when
	// this client's connection is lost. A nil value deletes the path.
	RegisterDisconnectCleanup(ctx context.Context, path string, value json.RawMessage) error

	// Close releases every subscription this adapter opened and applies its
	// registered disconnect cleanups.
	Close() error
}
