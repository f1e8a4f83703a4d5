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

import (
	"time"

	"github.com/google/uuid"
)

// ComponentEventType names a registration lifecycle transition.
type ComponentEventType string

const (
	EventRegistered    ComponentEventType = "registered"
	EventReregistered  ComponentEventType = "reregistered"
	EventUnregistered  ComponentEventType = "unregistered"
	EventHealthChanged ComponentEventType = "health_changed"
	EventExpired       ComponentEventType = "expired"
)

// ComponentEvent is published whenever a component's registration changes.
type ComponentEvent struct {
	ID              string             `json:"id"`
	Type            ComponentEventType `json:"type"`
	ComponentID     string             `json:"component_id"`
	ComponentType   string             `json:"component_type,omitempty"`
	Endpoint        string             `json:"endpoint,omitempty"`
	Capabilities    []string           `json:"capabilities,omitempty"`
	Healthy         bool               `json:"healthy"`
	PreviousHealthy *bool              `json:"previous_healthy,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}

// NewComponentEvent builds an event describing record at ts.
func NewComponentEvent(eventType ComponentEventType, record *ComponentRecord, ts time.Time) *ComponentEvent {
	return &ComponentEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		ComponentID:   record.ComponentID,
		ComponentType: record.ComponentType,
		Endpoint:      record.Endpoint,
		Capabilities:  append([]string(nil), record.Capabilities...),
		Healthy:       record.Healthy,
		Timestamp:     ts,
	}
}

// CloudEvent represents a CloudEvents v1.0 compliant event.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}
