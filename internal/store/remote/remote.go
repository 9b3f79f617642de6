// Package remote implements the store adapter over a websocket connection to
// a store server. Subscription callbacks run one at a time on a single
// dispatch goroutine, in the order the server delivered the events.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/nydren/boardsync/internal/store"
	"github.com/nydren/boardsync/pkg/types"
)

const (
	writeTimeout = 10 * time.Second

	// txnMaxRetries bounds the compare-and-swap retry loop under heavy
	// contention before the transaction is surfaced as aborted.
	txnMaxRetries = 25
)

type Client struct {
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]chan types.ServerMessage
	valueFns map[int64]func(json.RawMessage)
	childFns map[int64]func(string, json.RawMessage)
	backlog  map[int64][]types.ServerMessage // events seen before the subscribe result
	dead     map[int64]struct{}              // unsubscribed handles; late events are dropped
	closed   bool

	queue chan func()
	done  chan struct{}
}

var _ store.Adapter = (*Client)(nil)

// Dial connects to the store server at url (e.g. ws://host:8080/ws).
func Dial(ctx context.Context, url string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", store.ErrUnavailable, url, err)
	}

	c := &Client{
		conn:     conn,
		log:      log,
		pending:  make(map[int64]chan types.ServerMessage),
		valueFns: make(map[int64]func(json.RawMessage)),
		childFns: make(map[int64]func(string, json.RawMessage)),
		backlog:  make(map[int64][]types.ServerMessage),
		dead:     make(map[int64]struct{}),
		queue:    make(chan func(), 256),
		done:     make(chan struct{}),
	}
	go c.dispatch()
	go c.readLoop()
	return c, nil
}

func (c *Client) dispatch() {
	for fn := range c.queue {
		c.invoke(fn)
	}
	close(c.done)
}

func (c *Client) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("subscription handler panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.fail(err)
			return
		}
		var msg types.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("bad server message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case types.TypeResult:
			c.mu.Lock()
			ch := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- msg
			}

		case types.TypeValue, types.TypeChild:
			c.routeEvent(msg)
		}
	}
}

// routeEvent hands the event to its callback in order. Events for a
// subscription whose result has not come back yet are held and flushed when
// the callback registers.
func (c *Client) routeEvent(msg types.ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	switch msg.Type {
	case types.TypeValue:
		if fn := c.valueFns[msg.Handle]; fn != nil {
			value := msg.Value
			c.queue <- func() { fn(value) }
			return
		}
	case types.TypeChild:
		if fn := c.childFns[msg.Handle]; fn != nil {
			key, value := msg.Key, msg.Value
			c.queue <- func() { fn(key, value) }
			return
		}
	}
	if _, gone := c.dead[msg.Handle]; gone {
		return
	}
	c.backlog[msg.Handle] = append(c.backlog[msg.Handle], msg)
}

// fail resolves every pending request with a network error after the
// connection is gone.
func (c *Client) fail(cause error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan types.ServerMessage)
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- types.ServerMessage{Error: store.ErrNetwork.Error()}
	}
	if !alreadyClosed {
		c.log.Warn("store connection lost", zap.Error(cause))
		close(c.queue)
	}
}

func (c *Client) request(ctx context.Context, msg types.ClientMessage) (types.ServerMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.ServerMessage{}, store.ErrClosed
	}
	c.nextID++
	msg.ID = c.nextID
	reply := make(chan types.ServerMessage, 1)
	c.pending[msg.ID] = reply
	c.mu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		return types.ServerMessage{}, fmt.Errorf("encode request: %w", err)
	}

	c.writeMu.Lock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	err = c.conn.Write(wctx, websocket.MessageText, payload)
	cancel()
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		return types.ServerMessage{}, fmt.Errorf("%w: %v", store.ErrNetwork, err)
	}

	select {
	case resp := <-reply:
		if resp.Error != "" {
			return resp, fmt.Errorf("%w: %s", store.ErrNetwork, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		return types.ServerMessage{}, ctx.Err()
	}
}

func (c *Client) Read(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := c.request(ctx, types.ClientMessage{Op: types.OpRead, Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (c *Client) Write(ctx context.Context, path string, value json.RawMessage) error {
	_, err := c.request(ctx, types.ClientMessage{Op: types.OpWrite, Path: path, Value: value})
	return err
}

// Transaction runs fn against the current value and commits with a
// compare-and-swap, retrying from the fresh value on contention.
func (c *Client) Transaction(ctx context.Context, path string, fn store.TxnFunc) (store.TxnResult, error) {
	current, err := c.Read(ctx, path)
	if err != nil {
		return store.TxnResult{}, err
	}

	for attempt := 0; attempt < txnMaxRetries; attempt++ {
		next, err := fn(current)
		if err == store.ErrAbort {
			return store.TxnResult{Committed: false, Value: current}, nil
		}
		if err != nil {
			return store.TxnResult{}, err
		}

		resp, err := c.request(ctx, types.ClientMessage{
			Op:       types.OpCas,
			Path:     path,
			Expected: current,
			Value:    next,
		})
		if err != nil {
			return store.TxnResult{}, err
		}
		if resp.Committed {
			return store.TxnResult{Committed: true, Value: resp.Value}, nil
		}
		current = resp.Value
	}
	return store.TxnResult{}, fmt.Errorf("%w: too many retries", store.ErrAborted)
}

func (c *Client) Append(ctx context.Context, path string, value json.RawMessage) (string, error) {
	resp, err := c.request(ctx, types.ClientMessage{Op: types.OpAppend, Path: path, Value: value})
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

func (c *Client) Subscribe(path string, fn func(json.RawMessage)) (store.Handle, error) {
	resp, err := c.request(context.Background(), types.ClientMessage{Op: types.OpSubscribe, Path: path})
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.valueFns[resp.Handle] = fn
	held := c.backlog[resp.Handle]
	delete(c.backlog, resp.Handle)
	if !c.closed {
		for _, msg := range held {
			value := msg.Value
			c.queue <- func() { fn(value) }
		}
	}
	c.mu.Unlock()
	return store.Handle(resp.Handle), nil
}

func (c *Client) SubscribeAppended(path string, fn func(string, json.RawMessage)) (store.Handle, error) {
	resp, err := c.request(context.Background(), types.ClientMessage{Op: types.OpSubscribeAppended, Path: path})
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.childFns[resp.Handle] = fn
	held := c.backlog[resp.Handle]
	delete(c.backlog, resp.Handle)
	if !c.closed {
		for _, msg := range held {
			key, value := msg.Key, msg.Value
			c.queue <- func() { fn(key, value) }
		}
	}
	c.mu.Unlock()
	return store.Handle(resp.Handle), nil
}

func (c *Client) Unsubscribe(h store.Handle) {
	c.forget(int64(h))
	_, _ = c.request(context.Background(), types.ClientMessage{Op: types.OpUnsubscribe, Handle: int64(h)})
}

// forget releases everything held for a handle and marks it dead, so events
// racing the unsubscribe do not pile up in the backlog.
func (c *Client) forget(h int64) {
	c.mu.Lock()
	delete(c.valueFns, h)
	delete(c.childFns, h)
	delete(c.backlog, h)
	c.dead[h] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) RegisterDisconnectCleanup(ctx context.Context, path string, value json.RawMessage) error {
	_, err := c.request(ctx, types.ClientMessage{Op: types.OpOnDisconnect, Path: path, Value: value})
	return err
}

// Close drops the connection; the server then runs this client's disconnect
// cleanups, same as if the connection had been lost.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	// readLoop notices the closed connection and finishes shutdown.
	<-c.done
	if err != nil {
		return fmt.Errorf("close store connection: %w", err)
	}
	return nil
}
