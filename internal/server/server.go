// Package server exposes the experiment service over a small JSON API so
// assignments and outcomes can be reported from other processes.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/expstat/expstat/internal/service"
	"github.com/expstat/expstat/internal/store"
)

type Server struct {
	svc       *service.Service
	store     store.Store
	port      int
	token     string
	router    *chi.Mux
	log       zerolog.Logger
	startTime time.Time
}

// New builds the API. An empty token generates a random one.
func New(svc *service.Service, s store.Store, port int, token string, log zerolog.Logger) *Server {
	if token == "" {
		token = generateToken()
	}
	srv := &Server{
		svc:       svc,
		store:     s,
		port:      port,
		token:     token,
		router:    chi.NewRouter(),
		log:       log.With().Str("component", "server").Logger(),
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	// Public endpoints
	s.router.Get("/health", s.handleHealth)

	// API endpoints (protected)
	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/api/experiments", s.handleListExperiments)
		r.Get("/api/experiments/{ref}", s.handleGetExperiment)
		r.Get("/api/experiments/{ref}/results", s.handleResults)
		r.Post("/api/experiments/{ref}/assignments", s.handleAssign)
		r.Post("/api/experiments/{ref}/select", s.handleSelect)
		r.Post("/api/experiments/{ref}/interim", s.handleInterim)
		r.Post("/api/events", s.handleEvent)
	})
}

// Start listens until the server fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)

	fmt.Println()
	fmt.Printf("expstat API running on http://localhost:%d\n", s.port)
	fmt.Printf("Token: %s\n", s.token)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	err := http.ListenAndServe(addr, s.router)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger logs each request at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func generateToken() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return hex.EncodeToString(bytes)
}
