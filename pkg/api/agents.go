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

	"github.com/gorilla/mux"

	"github.com/carverauto/registrar/pkg/models"
)

const agentsDisabled = "Agent directory is not enabled"

func (s *APIServer) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		writeError(w, agentsDisabled, http.StatusNotImplemented)

		return
	}

	var card models.AgentCard

	if err := decodeBody(w, r, &card); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)

		return
	}

	result, err := s.agents.Register(r.Context(), &card)
	if err != nil {
		s.logger.Warn().Err(err).Str("agent_id", card.AgentID).Msg("Agent registration rejected")
		writeError(w, err.Error(), statusFor(err))

		return
	}

	message := "Agent registered"
	if result.Replaced {
		message = "Agent re-registered"
	}

	writeJSON(w, http.StatusOK, models.AgentRegisterResponse{
		Success:     true,
		AgentID:     card.AgentID,
		ComponentID: result.ComponentID,
		Token:       result.Token,
		Message:     message,
	})
}

func (s *APIServer) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		writeError(w, agentsDisabled, http.StatusNotImplemented)

		return
	}

	var req models.AgentHeartbeatRequest

	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)

		return
	}

	if req.AgentID == "" {
		writeError(w, "agent_id is required", http.StatusBadRequest)

		return
	}

	ts, err := s.agents.Heartbeat(r.Context(), req.AgentID, r.Header.Get(models.AuthTokenHeader), req.Status)
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

func (s *APIServer) handleUnregisterAgent(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		writeError(w, agentsDisabled, http.StatusNotImplemented)

		return
	}

	agentID := r.URL.Query().Get("agent_id")

	if agentID == "" {
		var req models.AgentUnregisterRequest

		if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, "Invalid request body", http.StatusBadRequest)

			return
		}

		agentID = req.AgentID
	}

	if agentID == "" {
		writeError(w, "agent_id is required", http.StatusBadRequest)

		return
	}

	if err := s.agents.Unregister(r.Context(), agentID, r.Header.Get(models.AuthTokenHeader)); err != nil {
		writeError(w, err.Error(), statusFor(err))

		return
	}

	writeJSON(w, http.StatusOK, models.UnregisterResponse{
		Success: true,
		Message: "Agent unregistered",
	})
}

func (s *APIServer) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		writeError(w, agentsDisabled, http.StatusNotImplemented)

		return
	}

	healthyOnly := false

	if raw := r.URL.Query().Get("healthy_only"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, "healthy_only must be a boolean", http.StatusBadRequest)

			return
		}

		healthyOnly = v
	}

	writeJSON(w, http.StatusOK, s.agents.Find(r.Context(), r.URL.Query().Get("capability"), healthyOnly))
}

func (s *APIServer) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	if s.agents == nil {
		writeError(w, agentsDisabled, http.StatusNotImplemented)

		return
	}

	view, err := s.agents.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err.Error(), statusFor(err))

		return
	}

	writeJSON(w, http.StatusOK, view)
}
