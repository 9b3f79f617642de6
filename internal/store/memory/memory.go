// Package memory implements the realtime store in process: a JSON tree owned
// by a single actor goroutine, with per-client sessions that receive change
// notifications in write order. It backs the server binary and doubles as the
// adapter for same-process sessions and tests.
package memory

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/nydren/boardsync/internal/store"
)

type msg interface{ isStoreMsg() }

type opRead struct {
	Path  string
	Reply chan json.RawMessage
}

type opWrite struct {
	Path  string
	Value json.RawMessage
	Reply chan error
}

type opCas struct {
	Path     string
	Expected json.RawMessage
	Value    json.RawMessage
	Reply    chan casReply
}

type casReply struct {
	Committed bool
	Current   json.RawMessage
}

type opTxn struct {
	Path  string
	Fn    store.TxnFunc
	Reply chan txnReply
}

type txnReply struct {
	Result store.TxnResult
	Err    error
}

type opAppend struct {
	Path  string
	Value json.RawMessage
	Reply chan string
}

type opSubscribe struct {
	Session *Session
	Path    string
	ValueFn func(json.RawMessage)
	ChildFn func(string, json.RawMessage)
	Reply   chan store.Handle
}

type opUnsubscribe struct {
	Handle store.Handle
}

type opCleanup struct {
	Session *Session
	Path    string
	Value   json.RawMessage
	Reply   chan struct{}
}

type opCloseSession struct {
	Session *Session
	Reply   chan struct{}
}

type opShutdown struct{}

func (opRead) isStoreMsg()         {}
func (opWrite) isStoreMsg()        {}
func (opCas) isStoreMsg()          {}
func (opTxn) isStoreMsg()          {}
func (opAppend) isStoreMsg()       {}
func (opSubscribe) isStoreMsg()    {}
func (opUnsubscribe) isStoreMsg()  {}
func (opCleanup) isStoreMsg()      {}
func (opCloseSession) isStoreMsg() {}
func (opShutdown) isStoreMsg()     {}

type subscription struct {
	handle  store.Handle
	session *Session
	path    []string
	valueFn func(json.RawMessage)
	childFn func(string, json.RawMessage)
}

type cleanup struct {
	path  string
	value json.RawMessage
}

// Store is the shared tree. All mutations and notifications happen on its
// loop goroutine, so writes to one path are observed by every subscriber in
// the same order.
type Store struct {
	inbox      chan msg
	root       any
	subs       map[store.Handle]*subscription
	cleanups   map[*Session][]cleanup
	nextHandle store.Handle
	keys       keyGen
	ctx        context.Context
	cancel     context.CancelFunc
	log        *zap.Logger
}

func New(parent context.Context, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Store{
		inbox:    make(chan msg, 64),
		subs:     make(map[store.Handle]*subscription),
		cleanups: make(map[*Session][]cleanup),
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
	}
	go s.loop()
	return s
}

// Shutdown stops the loop. Sessions left open stop receiving notifications.
func (s *Store) Shutdown() {
	select {
	case s.inbox <- opShutdown{}:
	case <-s.ctx.Done():
	}
}

func (s *Store) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return

		case m := <-s.inbox:
			switch op := m.(type) {
			case opRead:
				op.Reply <- marshalAt(s.root, splitPath(op.Path))

			case opWrite:
				s.apply(op.Path, op.Value)
				op.Reply <- nil

			case opCas:
				segs := splitPath(op.Path)
				current := marshalAt(s.root, segs)
				if !jsonEqual(current, op.Expected) {
					op.Reply <- casReply{Committed: false, Current: current}
					break
				}
				s.apply(op.Path, op.Value)
				op.Reply <- casReply{Committed: true, Current: marshalAt(s.root, segs)}

			case opTxn:
				op.Reply <- s.runTxn(op.Path, op.Fn)

			case opAppend:
				key := s.keys.next()
				s.apply(op.Path+"/"+key, op.Value)
				s.notifyAppend(splitPath(op.Path), key, op.Value)
				op.Reply <- key

			case opSubscribe:
				s.nextHandle++
				sub := &subscription{
					handle:  s.nextHandle,
					session: op.Session,
					path:    splitPath(op.Path),
					valueFn: op.ValueFn,
					childFn: op.ChildFn,
				}
				s.subs[sub.handle] = sub
				if sub.valueFn != nil {
					// Value listeners hear the current state right away.
					current := marshalAt(s.root, sub.path)
					fn := sub.valueFn
					sub.session.enqueue(func() { fn(current) })
				}
				op.Reply <- sub.handle

			case opUnsubscribe:
				delete(s.subs, op.Handle)

			case opCleanup:
				s.cleanups[op.Session] = append(s.cleanups[op.Session], cleanup{
					path:  op.Path,
					value: op.Value,
				})
				op.Reply <- struct{}{}

			case opCloseSession:
				s.closeSession(op.Session)
				op.Reply <- struct{}{}

			case opShutdown:
				s.cancel()
				return
			}
		}
	}
}

// runTxn applies fn atomically: the loop owns the tree, so nothing can
// interleave between the read and the write.
func (s *Store) runTxn(path string, fn store.TxnFunc) txnReply {
	segs := splitPath(path)
	current := marshalAt(s.root, segs)
	next, err := fn(current)
	if err == store.ErrAbort {
		return txnReply{Result: store.TxnResult{Committed: false, Value: current}}
	}
	if err != nil {
		return txnReply{Err: err}
	}
	s.apply(path, next)
	return txnReply{Result: store.TxnResult{Committed: true, Value: marshalAt(s.root, segs)}}
}

// apply writes raw at path and notifies every value subscription whose path
// is an ancestor or descendant of the written path.
func (s *Store) apply(path string, raw json.RawMessage) {
	segs := splitPath(path)
	var value any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &value); err != nil {
			s.log.Warn("discarding unparseable write", zap.String("path", path), zap.Error(err))
			return
		}
	}
	s.root = setAt(s.root, segs, value)
	s.notifyValue(segs)
}

func (s *Store) notifyValue(written []string) {
	for _, sub := range s.subs {
		if sub.valueFn == nil {
			continue
		}
		if !isPrefix(sub.path, written) && !isPrefix(written, sub.path) {
			continue
		}
		current := marshalAt(s.root, sub.path)
		fn := sub.valueFn
		sub.session.enqueue(func() { fn(current) })
	}
}

func (s *Store) notifyAppend(parent []string, key string, raw json.RawMessage) {
	for _, sub := range s.subs {
		if sub.childFn == nil || !samePath(sub.path, parent) {
			continue
		}
		fn := sub.childFn
		sub.session.enqueue(func() { fn(key, raw) })
	}
}

// closeSession releases the session's subscriptions and applies its
// disconnect cleanups, exactly as the store would on a dropped connection.
func (s *Store) closeSession(sess *Session) {
	for h, sub := range s.subs {
		if sub.session == sess {
			delete(s.subs, h)
		}
	}
	for _, c := range s.cleanups[sess] {
		s.apply(c.path, c.value)
	}
	delete(s.cleanups, sess)
}

func splitPath(path string) []string {
	var segs []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}

func isPrefix(prefix, path []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, seg := range prefix {
		if path[i] != seg {
			return false
		}
	}
	return true
}

func samePath(a, b []string) bool {
	return len(a) == len(b) && isPrefix(a, b)
}

func getAt(root any, segs []string) (any, bool) {
	node := root
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	if node == nil {
		return nil, false
	}
	return node, true
}

// setAt replaces the subtree at segs, creating intermediate maps as needed.
// A nil value deletes the node and prunes maps left empty.
func setAt(root any, segs []string, value any) any {
	if len(segs) == 0 {
		return value
	}
	m, ok := root.(map[string]any)
	if !ok {
		if value == nil {
			return root
		}
		m = make(map[string]any)
	}
	child := setAt(m[segs[0]], segs[1:], value)
	if child == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func marshalAt(root any, segs []string) json.RawMessage {
	value, ok := getAt(root, segs)
	if !ok {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return raw
}

// jsonEqual compares two raw values semantically: encoding/json sorts map
// keys, so re-marshaling a decoded value is canonical.
func jsonEqual(a, b json.RawMessage) bool {
	if isNull(a) || isNull(b) {
		return isNull(a) == isNull(b)
	}
	return string(canonical(a)) == string(canonical(b))
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func canonical(raw json.RawMessage) json.RawMessage {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}
