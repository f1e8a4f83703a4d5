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

// Package natsutil publishes component lifecycle events to NATS JetStream.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
)

const (
	DefaultStream        = "REGISTRY_EVENTS"
	DefaultSubjectPrefix = "registry.components"

	cloudEventSource   = "registrar"
	cloudEventTypeBase = "com.carverauto.registrar.component."
)

// Config describes the NATS connection and the stream events land in.
type Config struct {
	URL           string                 `json:"url" yaml:"url"`
	Stream        string                 `json:"stream" yaml:"stream"`
	SubjectPrefix string                 `json:"subject_prefix" yaml:"subject_prefix"`
	Domain        string                 `json:"domain,omitempty" yaml:"domain,omitempty"`
	Security      *models.SecurityConfig `json:"security,omitempty" yaml:"security,omitempty"`
}

// Enabled reports whether a server URL is configured.
func (c *Config) Enabled() bool {
	return c != nil && c.URL != ""
}

func (c *Config) stream() string {
	if c.Stream == "" {
		return DefaultStream
	}

	return c.Stream
}

func (c *Config) prefix() string {
	if c.SubjectPrefix == "" {
		return DefaultSubjectPrefix
	}

	return strings.TrimSuffix(c.SubjectPrefix, ".")
}

// jsPublisher is the part of jetstream.JetStream the publisher needs.
type jsPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventPublisher provides methods for publishing CloudEvents to NATS JetStream.
type EventPublisher struct {
	js     jsPublisher
	prefix string
	logger logger.Logger
}

// NewEventPublisher creates a publisher that writes to subjects under prefix.
func NewEventPublisher(js jsPublisher, prefix string, log logger.Logger) *EventPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	return &EventPublisher{
		js:     js,
		prefix: prefix,
		logger: log,
	}
}

// Subject returns the subject events of eventType are published on.
func (p *EventPublisher) Subject(eventType models.ComponentEventType) string {
	return p.prefix + "." + string(eventType)
}

// PublishComponentEvent wraps event in a CloudEvent and publishes it.
func (p *EventPublisher) PublishComponentEvent(ctx context.Context, event *models.ComponentEvent) error {
	subject := p.Subject(event.Type)
	ts := event.Timestamp

	ce := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              event.ID,
		Source:          cloudEventSource,
		Type:            cloudEventTypeBase + string(event.Type),
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &ts,
		Data:            event,
	}

	payload, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("failed to marshal component event: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(event.ID))
	if err != nil {
		return fmt.Errorf("failed to publish component event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Str("component_id", event.ComponentID).
		Str("subject", subject).
		Uint64("seq", ack.Sequence).
		Msg("Published component event")

	return nil
}

// Connect dials NATS with reconnect handlers that log through log.
func Connect(cfg *Config, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("registrar"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	if cfg.Security != nil && cfg.Security.Mode == models.SecurityModeMTLS {
		tlsConf, err := TLSConfig(cfg.Security)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// CreateEventPublisher opens a JetStream context on nc, makes sure the
// configured stream captures the event subjects, and returns a publisher.
func CreateEventPublisher(ctx context.Context, nc *nats.Conn, cfg *Config, log logger.Logger) (*EventPublisher, error) {
	var (
		js  jetstream.JetStream
		err error
	)

	if cfg.Domain != "" {
		js, err = jetstream.NewWithDomain(nc, cfg.Domain)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context with domain %s: %w", cfg.Domain, err)
		}
	} else {
		js, err = jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
	}

	if err := ensureStream(ctx, js, cfg.stream(), cfg.prefix()+".>", log); err != nil {
		return nil, err
	}

	return NewEventPublisher(js, cfg.prefix(), log), nil
}

func ensureStream(ctx context.Context, js jetstream.StreamManager, name, subject string, log logger.Logger) error {
	stream, err := js.Stream(ctx, name)
	if err != nil {
		if !isStreamMissingErr(err) {
			return fmt.Errorf("failed to look up stream %s: %w", name, err)
		}

		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:     name,
			Subjects: []string{subject},
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", name, err)
		}

		log.Info().Str("stream", name).Str("subject", subject).Msg("Created NATS JetStream stream")

		return nil
	}

	cfg := stream.CachedInfo().Config

	subjects := ensureSubjectList(append([]string(nil), cfg.Subjects...), subject)
	if len(subjects) == len(cfg.Subjects) {
		return nil
	}

	cfg.Subjects = subjects

	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to add subject %s to stream %s: %w", subject, name, err)
	}

	log.Info().Str("stream", name).Str("subject", subject).Msg("Added subject to NATS JetStream stream")

	return nil
}

// ensureSubjectList appends subject unless an existing pattern already covers it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject applies NATS wildcard rules: '*' matches one token and a
// trailing '>' matches one or more.
func matchesSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	pTokens := strings.Split(pattern, ".")
	sTokens := strings.Split(subject, ".")

	for i, p := range pTokens {
		if p == ">" {
			return i == len(pTokens)-1 && len(sTokens) > i
		}

		if i >= len(sTokens) {
			return false
		}

		if p != "*" && p != sTokens[i] {
			return false
		}
	}

	return len(pTokens) == len(sTokens)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
