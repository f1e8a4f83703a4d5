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
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/carverauto/registrar/pkg/models"
	"github.com/carverauto/registrar/pkg/registry"
)

const (
	defaultHistoryLimit = 100
	healthStatusOK      = "healthy"
)

func (s *APIServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest

	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)

		return
	}

	result, err := s.manager.Register(r.Context(), &req)
	if err != nil {
		s.logger.Warn().Err(err).Str("name", req.Name).Msg("Registration rejected")
		writeError(w, err.Error(), statusFor(err))

		return
	}

	message := "Component registered"
	if result.Replaced {
		message = "Component re-registered"
	}

	writeJSON(w, http.StatusOK, models.RegisterResponse{
		Success:     true,
		ComponentID: result.ComponentID,
		Token:       result.Token,
		Message:     message,
	})
}

func (s *APIServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req models.HeartbeatRequest

	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)

		return
	}

	if req.ComponentID == "" {
		writeError(w, "component_id is required", http.StatusBadRequest)

		return
	}

	ts, err := s.manager.Heartbeat(r.Context(), req.ComponentID, r.Header.Get(models.AuthTokenHeader), req.Status)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))

		return
	}

	writeJSON(w, http.StatusOK, models.HeartbeatResponse{
		Success:   true,
		Timestamp: models.UnixSeconds(ts),
		Message:   "Heartbeat recorded",
	})
}

func (s *APIServer) handleUnregister(w http.ResponseWriter, r *http.Request) {
	componentID := r.URL.Query().Get("component_id")

	if componentID == "" {
		var req models.UnregisterRequest

		if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, "Invalid request body", http.StatusBadRequest)

			return
		}

		componentID = req.ComponentID
	}

	if componentID == "" {
		writeError(w, "component_id is required", http.StatusBadRequest)

		return
	}

	if err := s.manager.Unregister(r.Context(), componentID, r.Header.Get(models.AuthTokenHeader)); err != nil {
		writeError(w, err.Error(), statusFor(err))

		return
	}

	writeJSON(w, http.StatusOK, models.UnregisterResponse{
		Success: true,
		Message: "Component unregistered",
	})
}

func (s *APIServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q models.ServiceQuery

	if err := decodeBody(w, r, &q); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "Invalid request body", http.StatusBadRequest)

		return
	}

	views := s.manager.QueryServices(r.Context(), registry.FilterFromQuery(q))

	writeJSON(w, http.StatusOK, views)
}

func (s *APIServer) handleGetService(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	view, err := s.manager.GetService(r.Context(), id)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))

		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *APIServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:     healthStatusOK,
		Timestamp:  models.UnixSeconds(time.Now()),
		Version:    s.version,
		Components: s.manager.Count(),
	})
}

func (s *APIServer) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, "Event history is not enabled", http.StatusNotImplemented)

		return
	}

	componentID := r.URL.Query().Get("component_id")
	if componentID == "" {
		writeError(w, "component_id is required", http.StatusBadRequest)

		return
	}

	limit := defaultHistoryLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)

			return
		}

		limit = n
	}

	history, err := s.history.History(r.Context(), componentID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("component_id", componentID).Msg("Failed to read event history")
		writeError(w, "Failed to read event history", http.StatusInternalServerError)

		return
	}

	if history == nil {
		history = []models.ComponentEvent{}
	}

	writeJSON(w, http.StatusOK, history)
}
