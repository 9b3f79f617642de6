// Package ws bridges websocket connections to store sessions. Each
// connection gets its own session, so dropping the connection runs that
// client's disconnect cleanups and nobody else's.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/nydren/boardsync/internal/store"
	"github.com/nydren/boardsync/internal/store/memory"
	"github.com/nydren/boardsync/pkg/types"
)

const writeTimeout = 10 * time.Second

// Handler upgrades to websocket and serves store ops until the connection
// drops.
func Handler(st *memory.Store, log *zap.Logger, originPatterns []string) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			log.Warn("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		sess := st.Session()
		// Close runs this client's disconnect cleanups whether the peer left
		// politely or vanished.
		defer sess.Close()

		c := &client{
			conn:   conn,
			sess:   sess,
			log:    log,
			outbox: make(chan types.ServerMessage, 64),
			gone:   make(chan struct{}),
		}

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go c.writer(writeCtx)

		c.reader(r.Context())
	}
}

type client struct {
	conn   *websocket.Conn
	sess   *memory.Session
	log    *zap.Logger
	outbox chan types.ServerMessage
	gone   chan struct{} // closed when the writer exits; senders stop blocking
}

func (c *client) writer(ctx context.Context) {
	defer close(c.gone)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.outbox:
			payload, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("encode server message", zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *client) reader(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					c.log.Debug("websocket read ended", zap.Error(err))
				}
			}
			return
		}

		var req types.ClientMessage
		if err := json.Unmarshal(data, &req); err != nil {
			c.send(ctx, types.ServerMessage{Type: types.TypeResult, Error: "bad json"})
			continue
		}
		c.send(ctx, c.handle(ctx, req))
	}
}

func (c *client) handle(ctx context.Context, req types.ClientMessage) types.ServerMessage {
	resp := types.ServerMessage{Type: types.TypeResult, ID: req.ID}

	switch req.Op {
	case types.OpRead:
		value, err := c.sess.Read(ctx, req.Path)
		resp.Value = value
		resp.Error = errString(err)

	case types.OpWrite:
		resp.Error = errString(c.sess.Write(ctx, req.Path, req.Value))

	case types.OpCas:
		committed, current, err := c.sess.CompareAndSwap(ctx, req.Path, req.Expected, req.Value)
		resp.Committed = committed
		resp.Value = current
		resp.Error = errString(err)

	case types.OpAppend:
		key, err := c.sess.Append(ctx, req.Path, req.Value)
		resp.Key = key
		resp.Error = errString(err)

	case types.OpSubscribe:
		// The handle is only known once registration returns, but the first
		// event may already be queued by then; the gate makes the callback
		// wait for it. Blocking happens on this client's dispatch goroutine
		// only.
		ready := make(chan struct{})
		var handle int64
		h, err := c.sess.Subscribe(req.Path, func(value json.RawMessage) {
			<-ready
			c.sendEvent(types.ServerMessage{Type: types.TypeValue, Handle: handle, Value: value})
		})
		handle = int64(h)
		close(ready)
		resp.Handle = int64(h)
		resp.Error = errString(err)

	case types.OpSubscribeAppended:
		ready := make(chan struct{})
		var handle int64
		h, err := c.sess.SubscribeAppended(req.Path, func(key string, value json.RawMessage) {
			<-ready
			c.sendEvent(types.ServerMessage{Type: types.TypeChild, Handle: handle, Key: key, Value: value})
		})
		handle = int64(h)
		close(ready)
		resp.Handle = int64(h)
		resp.Error = errString(err)

	case types.OpUnsubscribe:
		c.sess.Unsubscribe(store.Handle(req.Handle))

	case types.OpOnDisconnect:
		resp.Error = errString(c.sess.RegisterDisconnectCleanup(ctx, req.Path, req.Value))

	default:
		resp.Error = "unknown op"
	}
	return resp
}

func (c *client) send(ctx context.Context, msg types.ServerMessage) {
	select {
	case c.outbox <- msg:
	case <-c.gone:
	case <-ctx.Done():
	}
}

// sendEvent runs on the session's dispatch goroutine; blocking here slows
// only this client down, never the store loop. Once the writer is gone the
// event is dropped so the dispatch goroutine can drain and the session can
// close.
func (c *client) sendEvent(msg types.ServerMessage) {
	select {
	case c.outbox <- msg:
	case <-c.gone:
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
