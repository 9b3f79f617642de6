package store

import (
	"context"
	"encoding/json"
)

// Unavailable is the adapter used in degraded mode: every operation fails
// fast with ErrUnavailable so higher components never hang on a store that
// was never reached. Close is a no-op.
type Unavailable struct{}

var _ Adapter = Unavailable{}

func (Unavailable) Read(context.Context, string) (json.RawMessage, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Write(context.Context, string, json.RawMessage) error {
	return ErrUnavailable
}

func (Unavailable) Transaction(context.Context, string, TxnFunc) (TxnResult, error) {
	return TxnResult{}, ErrUnavailable
}

func (Unavailable) Append(context.Context, string, json.RawMessage) (string, error) {
	return "", ErrUnavailable
}

func (Unavailable) Subscribe(string, func(json.RawMessage)) (Handle, error) {
	return 0, ErrUnavailable
}

func (Unavailable) SubscribeAppended(string, func(string, json.RawMessage)) (Handle, error) {
	return 0, ErrUnavailable
}

func (Unavailable) Unsubscribe(Handle) {}

func (Unavailable) RegisterDisconnectCleanup(context.Context, string, json.RawMessage) error {
	return ErrUnavailable
}

func (Unavailable) Close() error { return nil }
