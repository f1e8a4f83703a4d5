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

// Package agents keeps agent cards in the component registry so agents can
// find each other by capability.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
	"github.com/carverauto/registrar/pkg/registration"
	"github.com/carverauto/registrar/pkg/registry"
)

const (
	// ComponentType is the component type every agent is registered under.
	ComponentType = "a2a_agent"

	componentPrefix = "a2a.agent."
	cardKey         = "agent_card"
	markerKey       = "a2a_agent"
)

var errNoCard = errors.New("metadata carries no agent card")

// ComponentID maps an agent id to its component id.
func ComponentID(agentID string) string {
	return componentPrefix + agentID
}

// AgentID is the inverse of ComponentID.
func AgentID(componentID string) (string, bool) {
	if !strings.HasPrefix(componentID, componentPrefix) {
		return "", false
	}

	return strings.TrimPrefix(componentID, componentPrefix), true
}

// FlattenCapabilities collects every capability named in card, walking
// categories and domains in key order.
func FlattenCapabilities(capabilities map[string]interface{}) []string {
	var out []string

	for _, category := range sortedKeys(capabilities) {
		switch value := capabilities[category].(type) {
		case []interface{}:
			out = appendStrings(out, value)
		case []string:
			out = append(out, value...)
		case map[string]interface{}:
			for _, domain := range sortedKeys(value) {
				switch list := value[domain].(type) {
				case []interface{}:
					out = appendStrings(out, list)
				case []string:
					out = append(out, list...)
				}
			}
		}
	}

	return out
}

func appendStrings(out []string, values []interface{}) []string {
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}

	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Directory registers agents as components through the registration manager.
// It holds no state of its own; the registry is the only record.
type Directory struct {
	manager *registration.Manager
	logger  logger.Logger
}

// NewDirectory creates a Directory over manager.
func NewDirectory(manager *registration.Manager, log logger.Logger) *Directory {
	return &Directory{manager: manager, logger: log}
}

// Register validates card and registers it as component a2a.agent.<id>.
// The returned token authenticates the agent's heartbeats and unregister.
func (d *Directory) Register(ctx context.Context, card *models.AgentCard) (*models.RegisterResult, error) {
	if err := validateCard(card); err != nil {
		return nil, err
	}

	encoded, err := cardToMetadata(card)
	if err != nil {
		return nil, err
	}

	metadata := models.CloneMetadata(card.Metadata)
	if metadata == nil {
		metadata = make(map[string]interface{}, 2)
	}

	metadata[markerKey] = true
	metadata[cardKey] = encoded

	result, err := d.manager.Register(ctx, &models.RegisterRequest{
		ComponentID:   ComponentID(card.AgentID),
		Name:          card.Name,
		Version:       card.Version,
		ComponentType: ComponentType,
		Endpoint:      card.Endpoint,
		Capabilities:  FlattenCapabilities(card.Capabilities),
		Metadata:      metadata,
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info().
		Str("agent_id", card.AgentID).
		Str("component_id", result.ComponentID).
		Msg("Agent registered")

	return result, nil
}

// Heartbeat records liveness for agentID.
func (d *Directory) Heartbeat(ctx context.Context, agentID, tok string, status map[string]interface{}) (time.Time, error) {
	return d.manager.Heartbeat(ctx, ComponentID(agentID), tok, status)
}

// Unregister removes agentID. The caller must hold the agent's token.
func (d *Directory) Unregister(ctx context.Context, agentID, tok string) error {
	if err := d.manager.Unregister(ctx, ComponentID(agentID), tok); err != nil {
		return err
	}

	d.logger.Info().Str("agent_id", agentID).Msg("Agent unregistered")

	return nil
}

// Get returns the agent registered as agentID.
func (d *Directory) Get(ctx context.Context, agentID string) (models.AgentView, error) {
	view, err := d.manager.GetService(ctx, ComponentID(agentID))
	if err != nil {
		return models.AgentView{}, err
	}

	if view.ComponentType != ComponentType {
		return models.AgentView{}, fmt.Errorf("%w: %s is not an agent", registration.ErrNotFound, view.ComponentID)
	}

	return d.toAgentView(&view), nil
}

// Find returns the agents advertising capability; an empty capability lists
// every agent. The result is never nil.
func (d *Directory) Find(ctx context.Context, capability string, healthyOnly bool) []models.AgentView {
	views := d.manager.QueryServices(ctx, registry.Filter{
		Capability:    capability,
		ComponentType: ComponentType,
		HealthyOnly:   healthyOnly,
	})

	out := make([]models.AgentView, 0, len(views))
	for i := range views {
		out = append(out, d.toAgentView(&views[i]))
	}

	return out
}

func (d *Directory) toAgentView(view *models.ServiceView) models.AgentView {
	agentID, _ := AgentID(view.ComponentID)

	card, err := cardFromMetadata(view.Metadata)
	if err != nil {
		d.logger.Warn().Err(err).Str("component_id", view.ComponentID).Msg("Agent card unreadable, using component fields")

		card = models.AgentCard{
			AgentID:  agentID,
			Name:     view.Name,
			Version:  view.Version,
			Endpoint: view.Endpoint,
		}
	}

	return models.AgentView{
		AgentID:       agentID,
		ComponentID:   view.ComponentID,
		Card:          card,
		Capabilities:  view.Capabilities,
		Healthy:       view.Healthy,
		LastHeartbeat: view.LastHeartbeat,
	}
}

func validateCard(card *models.AgentCard) error {
	switch {
	case card == nil:
		return &registration.ValidationError{Field: "agent_card", Reason: "is required"}
	case card.AgentID == "":
		return &registration.ValidationError{Field: "agent_id", Reason: "is required"}
	case strings.ContainsAny(card.AgentID, "/ "):
		return &registration.ValidationError{Field: "agent_id", Reason: "must not contain '/' or spaces"}
	case card.Name == "":
		return &registration.ValidationError{Field: "name", Reason: "is required"}
	case card.Version == "":
		return &registration.ValidationError{Field: "version", Reason: "is required"}
	case card.Capabilities == nil:
		return &registration.ValidationError{Field: "capabilities", Reason: "is required"}
	}

	return nil
}

// cardToMetadata stores the card as plain JSON values so registry copies
// stay independent of the caller's card.
func cardToMetadata(card *models.AgentCard) (map[string]interface{}, error) {
	raw, err := json.Marshal(card)
	if err != nil {
		return nil, fmt.Errorf("encode agent card: %w", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("encode agent card: %w", err)
	}

	return out, nil
}

func cardFromMetadata(metadata map[string]interface{}) (models.AgentCard, error) {
	var card models.AgentCard

	stored, ok := metadata[cardKey]
	if !ok {
		return card, errNoCard
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return card, err
	}

	if err := json.Unmarshal(raw, &card); err != nil {
		return card, err
	}

	return card, nil
}
