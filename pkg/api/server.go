/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/carverauto/registrar/pkg/agents"
	srHttp "github.com/carverauto/registrar/pkg/http"
	"github.com/carverauto/registrar/pkg/events"
	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
	"github.com/carverauto/registrar/pkg/registration"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
	maxRequestBody      = 1 << 20
)

// ErrServerNotStarted is returned by Shutdown before Start or Serve.
var ErrServerNotStarted = errors.New("api server not started")

// APIServer serves the registration and discovery endpoints.
type APIServer struct {
	router     *mux.Router
	corsConfig models.CORSConfig
	manager    *registration.Manager
	broker     *events.Broker[*models.ComponentEvent]
	history    HistoryReader
	agents     *agents.Directory
	version    string
	logger     logger.Logger

	mu  sync.Mutex
	srv *http.Server
}

// NewAPIServer builds the server and its routes.
func NewAPIServer(config models.CORSConfig, options ...func(server *APIServer)) *APIServer {
	s := &APIServer{
		router:     mux.NewRouter(),
		corsConfig: config,
		version:    "dev",
		logger:     logger.NewTestLogger(),
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

func WithManager(m *registration.Manager) func(server *APIServer) {
	return func(server *APIServer) {
		server.manager = m
	}
}

// WithBroker enables the /api/events stream.
func WithBroker(b *events.Broker[*models.ComponentEvent]) func(server *APIServer) {
	return func(server *APIServer) {
		server.broker = b
	}
}

// WithHistory enables /api/events/history.
func WithHistory(h HistoryReader) func(server *APIServer) {
	return func(server *APIServer) {
		server.history = h
	}
}

// WithAgents enables the /api/agents routes.
func WithAgents(d *agents.Directory) func(server *APIServer) {
	return func(server *APIServer) {
		server.agents = d
	}
}

func WithLogger(log logger.Logger) func(server *APIServer) {
	return func(server *APIServer) {
		server.logger = log
	}
}

func WithVersion(v string) func(server *APIServer) {
	return func(server *APIServer) {
		server.version = v
	}
}

func (s *APIServer) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return srHttp.CommonMiddleware(next, s.corsConfig, s.logger)
	})

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/heartbeat", s.handleHeartbeat).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/unregister", s.handleUnregister).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/services/{id}", s.handleGetService).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/history", s.handleEventHistory).Methods(http.MethodGet, http.MethodOptions)

	api.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/agents/register", s.handleRegisterAgent).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/agents/heartbeat", s.handleAgentHeartbeat).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/agents/unregister", s.handleUnregisterAgent).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/agents/{id}", s.handleGetAgent).Methods(http.MethodGet, http.MethodOptions)
}

// Handler returns the routed handler, middleware included.
func (s *APIServer) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown is called or the listener fails.
func (s *APIServer) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return s.Serve(l)
}

// Serve serves on l until Shutdown is called. It returns nil after a
// graceful shutdown.
func (s *APIServer) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", l.Addr().String()).Msg("Starting HTTP API")

	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully stops a server started with Start.
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return ErrServerNotStarted
	}

	return srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, models.ErrorResponse{
		Message: message,
		Status:  statusCode,
	})
}

// statusFor maps manager errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *registration.ValidationError

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, registration.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, registration.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(v)
}
