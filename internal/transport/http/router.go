package http

import (
	"net/http"
	"time"

	httpmw "github.com/cwrk-planet/code-room/internal/transport/http/middleware"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter mounts the websocket endpoint next to the JSON API. allowedOrigins
// empty means any origin.
func NewRouter(h *Handler, ws http.HandlerFunc, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(httpmw.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(httpmw.Tracing)
	r.Use(httpmw.RequestLogger)
	r.Use(middlewareChi.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// long-lived, so no timeout middleware
	r.Get("/ws", ws)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Group(func(api chi.Router) {
		api.Use(middlewareChi.Timeout(30 * time.Second))

		api.Get("/api/stats", h.Stats)
		api.Route("/api/rooms", func(rm chi.Router) {
			rm.Get("/", h.ListRooms)
			rm.Route("/{id}", func(rr chi.Router) {
				rr.Get("/", h.GetRoom)
				rr.Get("/runs", h.ListRuns)
			})
		})
	})

	// the model can take a while
	r.With(middlewareChi.Timeout(90*time.Second)).Post("/ai/fix-code", h.FixCode)

	return r
}
