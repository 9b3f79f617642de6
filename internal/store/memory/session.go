package memory

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/nydren/boardsync/internal/store"
)

// Session is one client's connection to the store. Each session gets its own
// dispatch goroutine that runs subscription callbacks one at a time, in the
// order the store applied the corresponding writes, so client code sees the
// single-threaded event model it was written for.
type Session struct {
	store *Store
	log   *zap.Logger

	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

var _ store.Adapter = (*Session)(nil)

// Session opens a new client session on the store.
func (s *Store) Session() *Session {
	sess := &Session{
		store: s,
		log:   s.log,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go sess.dispatch()
	return sess
}

func (sess *Session) dispatch() {
	for {
		sess.mu.Lock()
		pending := sess.queue
		sess.queue = nil
		closed := sess.closed
		sess.mu.Unlock()

		for _, fn := range pending {
			sess.invoke(fn)
		}
		if closed {
			close(sess.done)
			return
		}
		<-sess.wake
	}
}

// invoke shields the dispatch loop from panicking callbacks: a handler error
// must never take down notification delivery for the whole session.
func (sess *Session) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			sess.log.Error("subscription handler panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (sess *Session) enqueue(fn func()) {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.queue = append(sess.queue, fn)
	sess.mu.Unlock()
	select {
	case sess.wake <- struct{}{}:
	default:
	}
}

func (sess *Session) send(ctx context.Context, m msg) error {
	if sess.isClosed() {
		return store.ErrClosed
	}
	select {
	case sess.store.inbox <- m:
		return nil
	case <-sess.store.ctx.Done():
		return store.ErrUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sess *Session) isClosed() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.closed
}

func (sess *Session) Read(ctx context.Context, path string) (json.RawMessage, error) {
	reply := make(chan json.RawMessage, 1)
	if err := sess.send(ctx, opRead{Path: path, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case raw := <-reply:
		return raw, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (sess *Session) Write(ctx context.Context, path string, value json.RawMessage) error {
	reply := make(chan error, 1)
	if err := sess.send(ctx, opWrite{Path: path, Value: value, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CompareAndSwap commits value at path only if the current value equals
// expected. Used by the wire protocol, where a TxnFunc cannot cross the
// connection.
func (sess *Session) CompareAndSwap(ctx context.Context, path string, expected, value json.RawMessage) (bool, json.RawMessage, error) {
	reply := make(chan casReply, 1)
	if err := sess.send(ctx, opCas{Path: path, Expected: expected, Value: value, Reply: reply}); err != nil {
		return false, nil, err
	}
	select {
	case r := <-reply:
		return r.Committed, r.Current, nil
	case <-ctx.Done():
		return false, nil, ctx.Err()
	}
}

func (sess *Session) Transaction(ctx context.Context, path string, fn store.TxnFunc) (store.TxnResult, error) {
	reply := make(chan txnReply, 1)
	if err := sess.send(ctx, opTxn{Path: path, Fn: fn, Reply: reply}); err != nil {
		return store.TxnResult{}, err
	}
	select {
	case r := <-reply:
		return r.Result, r.Err
	case <-ctx.Done():
		return store.TxnResult{}, ctx.Err()
	}
}

func (sess *Session) Append(ctx context.Context, path string, value json.RawMessage) (string, error) {
	reply := make(chan string, 1)
	if err := sess.send(ctx, opAppend{Path: path, Value: value, Reply: reply}); err != nil {
		return "", err
	}
	select {
	case key := <-reply:
		return key, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (sess *Session) Subscribe(path string, fn func(json.RawMessage)) (store.Handle, error) {
	return sess.subscribe(opSubscribe{Session: sess, Path: path, ValueFn: fn, Reply: make(chan store.Handle, 1)})
}

func (sess *Session) SubscribeAppended(path string, fn func(string, json.RawMessage)) (store.Handle, error) {
	return sess.subscribe(opSubscribe{Session: sess, Path: path, ChildFn: fn, Reply: make(chan store.Handle, 1)})
}

func (sess *Session) subscribe(op opSubscribe) (store.Handle, error) {
	if err := sess.send(context.Background(), op); err != nil {
		return 0, err
	}
	select {
	case h := <-op.Reply:
		return h, nil
	case <-sess.store.ctx.Done():
		return 0, store.ErrUnavailable
	}
}

func (sess *Session) Unsubscribe(h store.Handle) {
	if h == 0 || sess.isClosed() {
		return
	}
	select {
	case sess.store.inbox <- opUnsubscribe{Handle: h}:
	case <-sess.store.ctx.Done():
	}
}

func (sess *Session) RegisterDisconnectCleanup(ctx context.Context, path string, value json.RawMessage) error {
	reply := make(chan struct{}, 1)
	if err := sess.send(ctx, opCleanup{Session: sess, Path: path, Value: value, Reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the session's subscriptions and applies its disconnect
// cleanups. The effect is identical whether the client left politely or its
// connection dropped, which is what keeps presence cleanup reliable.
func (sess *Session) Close() error {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return nil
	}
	sess.closed = true
	sess.mu.Unlock()

	reply := make(chan struct{}, 1)
	select {
	case sess.store.inbox <- opCloseSession{Session: sess, Reply: reply}:
		select {
		case <-reply:
		case <-sess.store.ctx.Done():
		}
	case <-sess.store.ctx.Done():
	}

	select {
	case sess.wake <- struct{}{}:
	default:
	}
	<-sess.done
	return nil
}
