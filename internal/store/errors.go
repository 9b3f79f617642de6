package store

import "errors"

var (
	// ErrUnavailable means the backing store is unreachable or was never
	// initialized. Sessions seeing this run in degraded mode.
	ErrUnavailable = errors.New("store unavailable")

	// ErrAborted means a transaction's update function declined to commit.
	ErrAborted = errors.New("transaction aborted")

	// ErrNotFound means the referenced path holds no value.
	ErrNotFound = errors.New("not found")

	// ErrClosed means the adapter was already torn down.
	ErrClosed = errors.New("store session closed")

	// ErrNetwork means a transient failure while talking to the store. The
	// operation is surfaced as failed; nothing retries automatically.
	ErrNetwork = errors.New("network error")

	// ErrAbort is returned by a TxnFunc to abort its transaction without
	// committing. Callers of Transaction observe Committed == false, not an
	// error.
	ErrAbort = errors.New("abort transaction")
)
