package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nydren/boardsync/internal/store/memory"
	"github.com/nydren/boardsync/internal/ws"
)

// SetupRoutes builds the server router around the shared store.
func SetupRoutes(st *memory.Store, log *zap.Logger, originPatterns []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/groups", ListGroups(st, log))
	r.Get("/ws", ws.Handler(st, log, originPatterns))
	return r
}
