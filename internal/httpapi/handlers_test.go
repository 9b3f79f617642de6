package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nydren/boardsync/internal/directory"
	"github.com/nydren/boardsync/internal/game"
	"github.com/nydren/boardsync/internal/store/memory"
)

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListGroups(t *testing.T) {
	st := memory.New(context.Background(), nil)
	t.Cleanup(st.Shutdown)
	ctx := context.Background()

	sess := st.Session()
	defer sess.Close()
	dir := directory.New(sess, nil)
	code, err := dir.Create(ctx, "Quiz Night", game.User{Name: "Alice", Username: "alice", ID: "u1"}, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(SetupRoutes(st, nil, nil))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/groups")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var summaries []struct {
		Code       string `json:"code"`
		Name       string `json:"name"`
		Creator    string `json:"creator"`
		Players    int    `json:"players"`
		MaxPlayers int    `json:"maxPlayers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	require.Len(t, summaries, 1)
	require.Equal(t, code, summaries[0].Code)
	require.Equal(t, "Quiz Night", summaries[0].Name)
	require.Equal(t, "alice", summaries[0].Creator)
	require.Equal(t, 1, summaries[0].Players)
	require.Equal(t, game.DefaultMaxPlayers, summaries[0].MaxPlayers)
}

func TestListGroupsEmpty(t *testing.T) {
	st := memory.New(context.Background(), nil)
	t.Cleanup(st.Shutdown)

	srv := httptest.NewServer(SetupRoutes(st, nil, nil))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/groups")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summaries []json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	require.Empty(t, summaries)
}
