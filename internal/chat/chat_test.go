package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nydren/boardsync/internal/game"
	"github.com/nydren/boardsync/internal/store"
	"github.com/nydren/boardsync/internal/store/memory"
)

func recvMsg(t *testing.T, ch <-chan Message, within time.Duration) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for chat message")
		return Message{}
	}
}

func user(username string) game.User {
	return game.User{Name: username, Username: username, ID: "id-" + username}
}

func TestSendRejectsEmptyTextLocally(t *testing.T) {
	// The degraded adapter errors on any network call, so a send that
	// reaches the store would fail loudly here.
	c, err := New(store.Unavailable{}, "ABC123", user("alice"), true, nil)
	require.NoError(t, err)
	require.ErrorIs(t, c.Send(context.Background(), ""), ErrEmptyMessage)
}

func TestAllSubscribersSeeSameOrder(t *testing.T) {
	st := memory.New(context.Background(), nil)
	t.Cleanup(st.Shutdown)

	aliceSess := st.Session()
	bobSess := st.Session()
	defer aliceSess.Close()
	defer bobSess.Close()

	aliceChat, err := New(aliceSess, "ABC123", user("alice"), false, nil)
	require.NoError(t, err)
	defer aliceChat.Close()
	bobChat, err := New(bobSess, "ABC123", user("bob"), false, nil)
	require.NoError(t, err)
	defer bobChat.Close()

	aliceGot := make(chan Message, 16)
	bobGot := make(chan Message, 16)
	aliceChat.Subscribe(func(m Message) { aliceGot <- m })
	bobChat.Subscribe(func(m Message) { bobGot <- m })

	ctx := context.Background()
	require.NoError(t, aliceChat.Send(ctx, "hello"))
	require.NoError(t, bobChat.Send(ctx, "hi alice"))
	require.NoError(t, aliceChat.Send(ctx, "ready?"))

	var aliceSeen, bobSeen []Message
	for i := 0; i < 3; i++ {
		aliceSeen = append(aliceSeen, recvMsg(t, aliceGot, time.Second))
		bobSeen = append(bobSeen, recvMsg(t, bobGot, time.Second))
	}

	for i := range aliceSeen {
		require.Equal(t, aliceSeen[i].Key, bobSeen[i].Key, "both subscribers see append order")
		require.Equal(t, aliceSeen[i].Message, bobSeen[i].Message)
		if i > 0 {
			require.Greater(t, aliceSeen[i].Key, aliceSeen[i-1].Key)
		}
	}
}

func TestLateSubscriberGetsNewMessagesOnly(t *testing.T) {
	st := memory.New(context.Background(), nil)
	t.Cleanup(st.Shutdown)

	earlySess := st.Session()
	lateSess := st.Session()
	defer earlySess.Close()
	defer lateSess.Close()

	early, err := New(earlySess, "ABC123", user("alice"), false, nil)
	require.NoError(t, err)
	defer early.Close()

	require.NoError(t, early.Send(context.Background(), "before anyone listened"))

	late, err := New(lateSess, "ABC123", user("bob"), false, nil)
	require.NoError(t, err)
	defer late.Close()
	got := make(chan Message, 16)
	late.Subscribe(func(m Message) { got <- m })

	require.NoError(t, early.Send(context.Background(), "after"))

	msg := recvMsg(t, got, time.Second)
	require.Equal(t, "after", msg.Message)
	select {
	case extra := <-got:
		t.Fatalf("backlog must not replay, got %q", extra.Message)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDegradedModeLoopsBackLocally(t *testing.T) {
	c, err := New(store.Unavailable{}, "ABC123", user("alice"), true, nil)
	require.NoError(t, err)

	got := make(chan Message, 4)
	c.Subscribe(func(m Message) { got <- m })

	require.NoError(t, c.Send(context.Background(), "anyone there?"))
	msg := recvMsg(t, got, time.Second)
	require.Equal(t, "anyone there?", msg.Message)
	require.Equal(t, "alice", msg.Username)
	require.Empty(t, msg.Key, "loopback messages never reach the store")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	st := memory.New(context.Background(), nil)
	t.Cleanup(st.Shutdown)
	sess := st.Session()
	defer sess.Close()

	c, err := New(sess, "ABC123", user("alice"), false, nil)
	require.NoError(t, err)
	defer c.Close()

	got := make(chan Message, 4)
	h := c.Subscribe(func(m Message) { got <- m })
	c.Unsubscribe(h)

	require.NoError(t, c.Send(context.Background(), "to nobody"))
	select {
	case <-got:
		t.Fatal("expected no delivery after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}
