// Package httpapi exposes the server's plain-HTTP surface: health checking
// and a read-only listing of joinable groups. Everything stateful goes over
// the websocket store protocol instead.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/nydren/boardsync/internal/directory"
	"github.com/nydren/boardsync/internal/store/memory"
)

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// groupSummary is what the listing exposes; player records stay private to
// group members.
type groupSummary struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Creator    string `json:"creator"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
}

// ListGroups serves the joinable groups as JSON, using the same filter the
// clients apply.
func ListGroups(st *memory.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := st.Session()
		defer sess.Close()

		dir := directory.New(sess, log)
		groups, err := dir.List(r.Context())
		if err != nil {
			http.Error(w, "failed to list groups", http.StatusInternalServerError)
			return
		}

		summaries := make([]groupSummary, 0)
		for g := range groups {
			summaries = append(summaries, groupSummary{
				Code:       g.Code,
				Name:       g.Name,
				Creator:    g.Creator,
				Players:    len(g.Players),
				MaxPlayers: g.Capacity(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(summaries)
	}
}
