package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/confidanthq/confidant/internal/engine"
	"github.com/confidanthq/confidant/internal/store"
)

// Server is the confidant HTTP API server.
type Server struct {
	db      *store.DB
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server with the given database, engine, and version
// string.
func New(db *store.DB, eng *engine.Engine, version string) *Server {
	s := &Server{
		db:      db,
		engine:  eng,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/clients", s.handleCreateClient)
		r.Post("/clients/{clientID}/cards", s.handleCreateCard)
		r.Get("/clients/{clientID}/cards", s.handleListCards)

		r.Put("/cards/{cardID}", s.handleEditCard)
		r.Post("/cards/{cardID}/pin", s.handlePin)
		r.Post("/cards/{cardID}/unpin", s.handleUnpin)
		r.Post("/cards/{cardID}/autoupdate", s.handleAutoUpdate)
		r.Get("/cards/{cardID}/history", s.handleHistory)

		r.Post("/sessions", s.handleStartSession)
		r.Post("/sessions/{sessionID}/messages", s.handleAddMessage)
		r.Post("/sessions/{sessionID}/end", s.handleEndSession)
		r.Post("/sessions/{sessionID}/reconcile", s.handleReconcile)

		r.Get("/context", s.handleGetContext)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}
