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

// Package registration implements the register, heartbeat, unregister and
// discovery operations on top of the registry and the token issuer.
package registration

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
	"github.com/carverauto/registrar/pkg/registry"
	"github.com/carverauto/registrar/pkg/token"
)

const tracerName = "github.com/carverauto/registrar/pkg/registration"

// Manager owns the registry and token issuer and applies every registration
// operation to them.
type Manager struct {
	registry  *registry.ServiceRegistry
	issuer    *token.Issuer
	publisher EventPublisher
	now       func() time.Time
	random    io.Reader
	tracer    trace.Tracer
	logger    logger.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithPublisher sets the sink for lifecycle events.
func WithPublisher(p EventPublisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithRandom overrides the entropy used for generated component ids.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) {
		m.random = r
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// NewManager creates a Manager.
func NewManager(reg *registry.ServiceRegistry, issuer *token.Issuer, log logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		registry: reg,
		issuer:   issuer,
		now:      time.Now,
		random:   rand.Reader,
		tracer:   otel.Tracer(tracerName),
		logger:   log,
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

// Register stores a new record for req and returns its id and token. An
// existing record with the same id is overwritten.
func (m *Manager) Register(ctx context.Context, req *models.RegisterRequest) (*models.RegisterResult, error) {
	ctx, span := m.tracer.Start(ctx, "registration.Register")
	defer span.End()

	if err := validate(req); err != nil {
		fail(span, err)

		return nil, err
	}

	componentID := req.ComponentID
	if componentID == "" {
		id, err := generateComponentID(m.random, req.Name, req.ComponentType)
		if err != nil {
			fail(span, err)

			return nil, err
		}

		componentID = id
	}

	span.SetAttributes(
		attribute.String("component.id", componentID),
		attribute.String("component.type", req.ComponentType),
	)

	tok, tokenID, err := m.issuer.Issue(componentID)
	if err != nil {
		fail(span, err)

		return nil, fmt.Errorf("issue token for %s: %w", componentID, err)
	}

	now := m.now()
	record := models.ComponentRecord{
		ComponentID:   componentID,
		Name:          req.Name,
		Version:       req.Version,
		ComponentType: req.ComponentType,
		Endpoint:      req.Endpoint,
		Capabilities:  dedupe(req.Capabilities),
		Metadata:      copyMetadata(req.Metadata),
		Healthy:       true,
		LastHeartbeat: now,
		RegisteredAt:  now,
		TokenID:       tokenID,
	}

	replaced := m.registry.Put(record)

	eventType := models.EventRegistered

	if replaced {
		eventType = models.EventReregistered

		m.logger.Warn().
			Str("component_id", componentID).
			Str("component_type", record.ComponentType).
			Str("endpoint", record.Endpoint).
			Msg("Component re-registered, previous registration and its token replaced")
	} else {
		m.logger.Info().
			Str("component_id", componentID).
			Str("component_type", record.ComponentType).
			Str("endpoint", record.Endpoint).
			Strs("capabilities", record.Capabilities).
			Str("token_id", tokenID).
			Msg("Registered component")
	}

	m.publish(ctx, models.NewComponentEvent(eventType, &record, now))

	return &models.RegisterResult{
		ComponentID: componentID,
		Token:       tok,
		TokenID:     tokenID,
		Replaced:    replaced,
	}, nil
}

// Heartbeat records liveness for componentID and returns the server time it
// was recorded at. status["healthy"] sets the health flag.
func (m *Manager) Heartbeat(ctx context.Context, componentID, tok string, status map[string]interface{}) (time.Time, error) {
	ctx, span := m.tracer.Start(ctx, "registration.Heartbeat",
		trace.WithAttributes(attribute.String("component.id", componentID)))
	defer span.End()

	tokenID, err := m.authorize(componentID, tok)
	if err != nil {
		fail(span, err)

		return time.Time{}, err
	}

	healthy := healthFromStatus(status)
	now := m.now()

	rec, previous, err := m.registry.UpdateHeartbeatForToken(componentID, tokenID, healthy, now)
	if err != nil {
		err = m.mapRegistryError(componentID, err)
		fail(span, err)

		return time.Time{}, err
	}

	m.logger.Debug().
		Str("component_id", componentID).
		Bool("healthy", healthy).
		Msg("Heartbeat received")

	if previous != healthy {
		m.logger.Info().
			Str("component_id", componentID).
			Bool("healthy", healthy).
			Msg("Component health changed")

		event := models.NewComponentEvent(models.EventHealthChanged, &rec, now)
		event.PreviousHealthy = &previous

		m.publish(ctx, event)
	}

	return now, nil
}

// Unregister removes componentID. Only the holder of the current token may
// do so; a second call reports ErrNotFound.
func (m *Manager) Unregister(ctx context.Context, componentID, tok string) error {
	ctx, span := m.tracer.Start(ctx, "registration.Unregister",
		trace.WithAttributes(attribute.String("component.id", componentID)))
	defer span.End()

	tokenID, err := m.authorize(componentID, tok)
	if err != nil {
		fail(span, err)

		return err
	}

	removed, err := m.registry.RemoveForToken(componentID, tokenID)
	if err != nil {
		err = m.mapRegistryError(componentID, err)
		fail(span, err)

		return err
	}

	m.logger.Info().
		Str("component_id", componentID).
		Str("component_type", removed.ComponentType).
		Msg("Unregistered component")

	m.publish(ctx, models.NewComponentEvent(models.EventUnregistered, &removed, m.now()))

	return nil
}

// QueryServices returns the components matching filter. It never fails.
func (m *Manager) QueryServices(ctx context.Context, filter registry.Filter) []models.ServiceView {
	_, span := m.tracer.Start(ctx, "registration.QueryServices",
		trace.WithAttributes(
			attribute.String("query.capability", filter.Capability),
			attribute.String("query.component_type", filter.ComponentType),
			attribute.Bool("query.healthy_only", filter.HealthyOnly),
		))
	defer span.End()

	records := m.registry.Query(filter)

	views := make([]models.ServiceView, 0, len(records))
	for i := range records {
		views = append(views, records[i].View())
	}

	span.SetAttributes(attribute.Int("query.results", len(views)))

	return views
}

// GetService returns the view of a single component.
func (m *Manager) GetService(ctx context.Context, componentID string) (models.ServiceView, error) {
	_, span := m.tracer.Start(ctx, "registration.GetService",
		trace.WithAttributes(attribute.String("component.id", componentID)))
	defer span.End()

	rec, err := m.registry.Get(componentID)
	if err != nil {
		return models.ServiceView{}, fmt.Errorf("component %s: %w", componentID, err)
	}

	return rec.View(), nil
}

// Count reports how many components are registered.
func (m *Manager) Count() int {
	return m.registry.Len()
}

// HandleExpired publishes the expiry of rec. It is the expiry monitor callback.
func (m *Manager) HandleExpired(rec models.ComponentRecord) {
	m.logger.Warn().
		Str("component_id", rec.ComponentID).
		Time("last_heartbeat", rec.LastHeartbeat).
		Msg("Component expired")

	m.publish(context.Background(), models.NewComponentEvent(models.EventExpired, &rec, m.now()))
}

func (m *Manager) authorize(componentID, tok string) (string, error) {
	tokenID, err := m.issuer.Validate(tok, componentID)
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("component_id", componentID).
			Msg("Rejected component token")

		return "", fmt.Errorf("component %s: %w", componentID, err)
	}

	return tokenID, nil
}

func (m *Manager) mapRegistryError(componentID string, err error) error {
	if errors.Is(err, registry.ErrStaleToken) {
		m.logger.Warn().
			Str("component_id", componentID).
			Msg("Rejected token from a superseded registration")

		return fmt.Errorf("component %s: %w: %w", componentID, ErrUnauthorized, err)
	}

	return fmt.Errorf("component %s: %w", componentID, err)
}

func (m *Manager) publish(ctx context.Context, event *models.ComponentEvent) {
	if m.publisher == nil {
		return
	}

	if err := m.publisher.PublishComponentEvent(ctx, event); err != nil {
		m.logger.Warn().
			Err(err).
			Str("component_id", event.ComponentID).
			Str("event_type", string(event.Type)).
			Msg("Failed to publish component event")
	}
}

func validate(req *models.RegisterRequest) error {
	if req == nil {
		return missing("request")
	}

	if req.Name == "" {
		return missing("name")
	}

	if req.ComponentType == "" {
		return missing("component_type")
	}

	if req.Endpoint == "" {
		return missing("endpoint")
	}

	return nil
}

func copyMetadata(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return map[string]interface{}{}
	}

	return models.CloneMetadata(in)
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
