// Package server exposes the pool over HTTP: a WebSocket status feed
// plus a REST API for accounts, programs, workout history, exports and
// program runs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/smash0190/endlesspool/internal/pool"
	"github.com/smash0190/endlesspool/internal/strava"
)

// Config holds the HTTP listener settings.
type Config struct {
	ListenAddr string
}

// Server wires the device-facing components to HTTP clients.
type Server struct {
	cfg      Config
	hub      *pool.Hub
	runner   *pool.Runner
	recorder *pool.Recorder
	users    pool.UserStore
	programs pool.ProgramStore
	workouts pool.WorkoutStore
	strava   *strava.Client
	logger   *log.Logger

	httpSrv *http.Server
}

// New creates a Server. Panics if any dependency is nil.
func New(cfg Config, hub *pool.Hub, runner *pool.Runner, recorder *pool.Recorder,
	users pool.UserStore, programs pool.ProgramStore, workouts pool.WorkoutStore,
	stravaClient *strava.Client, logger *log.Logger) *Server {
	if hub == nil {
		panic("New: hub cannot be nil")
	}
	if runner == nil {
		panic("New: runner cannot be nil")
	}
	if recorder == nil {
		panic("New: recorder cannot be nil")
	}
	if users == nil || programs == nil || workouts == nil {
		panic("New: stores cannot be nil")
	}
	if stravaClient == nil {
		panic("New: strava client cannot be nil")
	}
	if logger == nil {
		panic("New: logger cannot be nil")
	}

	s := &Server{
		cfg:      cfg,
		hub:      hub,
		runner:   runner,
		recorder: recorder,
		users:    users,
		programs: programs,
		workouts: workouts,
		strava:   stravaClient,
		logger:   logger,
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/users", s.handleListUsers)
	mux.HandleFunc("POST /api/users", s.handleCreateUser)
	mux.HandleFunc("POST /api/users/{userID}/login", s.handleLogin)
	mux.HandleFunc("DELETE /api/users/{userID}", s.handleDeleteUser)

	mux.HandleFunc("GET /api/users/{userID}/programs", s.handleListPrograms)
	mux.HandleFunc("POST /api/users/{userID}/programs", s.handleSaveProgram)
	mux.HandleFunc("DELETE /api/users/{userID}/programs/{programID}", s.handleDeleteProgram)

	mux.HandleFunc("GET /api/users/{userID}/workouts", s.handleListWorkouts)
	mux.HandleFunc("DELETE /api/users/{userID}/workouts/{workoutID}", s.handleDeleteWorkout)
	mux.HandleFunc("GET /api/users/{userID}/workouts/{workoutID}/export", s.handleExportWorkout)

	mux.HandleFunc("GET /api/users/{userID}/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/users/{userID}/settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /api/users/{userID}/strava/auth", s.handleStravaAuth)
	mux.HandleFunc("GET /api/strava/callback", s.handleStravaCallback)
	mux.HandleFunc("POST /api/users/{userID}/workouts/{workoutID}/strava", s.handleStravaUpload)

	mux.HandleFunc("GET /api/run", s.handleRunState)
	mux.HandleFunc("POST /api/run", s.handleRunStart)
	mux.HandleFunc("POST /api/run/pace", s.handleRunAdjustPace)
	mux.HandleFunc("DELETE /api/run", s.handleRunCancel)

	return mux
}

// Start begins serving. Blocks until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Printf("Server: listening on %s", s.cfg.ListenAddr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Printf("Server: shutting down")
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("Server: write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}
