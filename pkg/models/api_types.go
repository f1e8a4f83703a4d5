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

import "encoding/json"

// AuthTokenHeader carries the registration token on authenticated calls.
const AuthTokenHeader = "X-Authentication-Token"

// RegisterRequest represents a component registration.
// @Description Registration of a component's identity and capabilities.
type RegisterRequest struct {
	// Optional; generated from name and type when empty
	ComponentID   string                 `json:"component_id,omitempty" example:"cache-primary"`
	Name          string                 `json:"name" example:"cache"`
	Version       string                 `json:"version" example:"1.2.0"`
	ComponentType string                 `json:"component_type" example:"kv"`
	Endpoint      string                 `json:"endpoint" example:"http://10.0.0.4:9000"`
	Capabilities  []string               `json:"capabilities,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts "type" as an alias of "component_type".
func (r *RegisterRequest) UnmarshalJSON(b []byte) error {
	type plain RegisterRequest

	var aux struct {
		plain
		Type string `json:"type"`
	}

	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	*r = RegisterRequest(aux.plain)
	if r.ComponentType == "" {
		r.ComponentType = aux.Type
	}

	return nil
}

// RegisterResponse is returned by a successful registration.
type RegisterResponse struct {
	Success     bool   `json:"success"`
	ComponentID string `json:"component_id"`
	Token       string `json:"token,omitempty"`
	Message     string `json:"message,omitempty"`
}

// RegisterResult is the manager-level outcome of a registration.
type RegisterResult struct {
	ComponentID string
	Token       string
	TokenID     string
	// Replaced is set when an existing record with the same id was overwritten.
	Replaced bool
}

// HeartbeatRequest reports liveness; the token travels in AuthTokenHeader.
type HeartbeatRequest struct {
	ComponentID string                 `json:"component_id"`
	Status      map[string]interface{} `json:"status,omitempty"`
}

// HeartbeatResponse acknowledges a heartbeat.
type HeartbeatResponse struct {
	Success bool `json:"success"`
	// Server time the heartbeat was recorded, seconds since the epoch
	Timestamp float64 `json:"timestamp"`
	Message   string  `json:"message,omitempty"`
}

// UnregisterRequest removes a component; the token travels in AuthTokenHeader.
type UnregisterRequest struct {
	ComponentID string `json:"component_id"`
}

// UnregisterResponse acknowledges an unregistration.
type UnregisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ServiceQuery filters discovery results. Empty fields match everything.
type ServiceQuery struct {
	Capability    string `json:"capability,omitempty"`
	ComponentType string `json:"component_type,omitempty"`
	HealthyOnly   bool   `json:"healthy_only"`
}

// HealthResponse describes the registrar's own health.
type HealthResponse struct {
	Status     string  `json:"status"`
	Timestamp  float64 `json:"timestamp"`
	Version    string  `json:"version"`
	Components int     `json:"components"`
}

// ErrorResponse represents an API error response.
// @Description Error information returned from the API.
type ErrorResponse struct {
	// Error message
	Message string `json:"message" example:"Invalid authentication token"`
	// HTTP status code
	Status int `json:"status" example:"401"`
}

// CORSConfig controls cross-origin access to the HTTP API.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials"`
}
