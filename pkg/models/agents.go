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

package models

// AgentCard describes an agent taking part in agent-to-agent exchanges.
// Capabilities are grouped by category, either as a list or as a map of
// domain to list.
// @Description Agent identity, capabilities and contact information.
type AgentCard struct {
	AgentID      string                 `json:"agent_id" example:"planner"`
	Name         string                 `json:"name" example:"Planner"`
	Version      string                 `json:"version" example:"0.3.0"`
	Description  string                 `json:"description,omitempty"`
	Capabilities map[string]interface{} `json:"capabilities"`
	Limitations  map[string]interface{} `json:"limitations,omitempty"`
	Availability map[string]interface{} `json:"availability,omitempty"`
	Endpoint     string                 `json:"endpoint" example:"http://planner:8300"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// AgentRegisterResponse is returned by a successful agent registration.
type AgentRegisterResponse struct {
	Success     bool   `json:"success"`
	AgentID     string `json:"agent_id"`
	ComponentID string `json:"component_id"`
	Token       string `json:"token,omitempty"`
	Message     string `json:"message,omitempty"`
}

// AgentHeartbeatRequest reports agent liveness; the token travels in
// AuthTokenHeader.
type AgentHeartbeatRequest struct {
	AgentID string                 `json:"agent_id"`
	Status  map[string]interface{} `json:"status,omitempty"`
}

// AgentUnregisterRequest removes an agent.
type AgentUnregisterRequest struct {
	AgentID string `json:"agent_id"`
}

// AgentView is the discovery representation of a registered agent.
type AgentView struct {
	AgentID     string    `json:"agent_id"`
	ComponentID string    `json:"component_id"`
	Card        AgentCard `json:"card"`
	// Flattened capability set used for matching
	Capabilities []string `json:"capabilities"`
	Healthy      bool     `json:"healthy"`
	// Seconds since the Unix epoch, fractional.
	LastHeartbeat float64 `json:"last_heartbeat"`
}
