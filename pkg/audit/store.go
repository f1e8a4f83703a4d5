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

// Package audit records component lifecycle events in Postgres. The table is
// an append-only history; registry state is never rebuilt from it.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
)

const (
	DefaultTable = "component_events"

	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

var errMissingDatabaseURL = errors.New("audit: database_url is required")

// Config configures the audit trail. It is disabled when DatabaseURL is empty.
type Config struct {
	DatabaseURL    string `json:"database_url" yaml:"database_url"`
	Table          string `json:"table,omitempty" yaml:"table,omitempty"`
	MaxConnections int32  `json:"max_connections,omitempty" yaml:"max_connections,omitempty"`
}

// Enabled reports whether a database is configured.
func (c *Config) Enabled() bool {
	return c != nil && c.DatabaseURL != ""
}

// NewPool opens a pgx connection pool for cfg.
func NewPool(ctx context.Context, cfg *Config, log logger.Logger) (*pgxpool.Pool, error) {
	if !cfg.Enabled() {
		return nil, errMissingDatabaseURL
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to parse connection string: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = cfg.MaxConnections
	}

	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = make(map[string]string)
	}

	if _, ok := poolConfig.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = "registrar"
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to initialize pool: %w", err)
	}

	log.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("Connected to audit database")

	return pool, nil
}

// Store appends component events to a Postgres table.
type Store struct {
	db     QueryExecutor
	table  string
	logger logger.Logger
}

// NewStore creates a store writing to table (DefaultTable when empty).
func NewStore(db QueryExecutor, table string, log logger.Logger) *Store {
	return &Store{
		db:     db,
		table:  sanitizeTable(table),
		logger: log,
	}
}

// EnsureSchema creates the events table and its lookup index.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		event_id         UUID PRIMARY KEY,
		event_type       TEXT NOT NULL,
		component_id     TEXT NOT NULL,
		component_type   TEXT NOT NULL DEFAULT '',
		endpoint         TEXT NOT NULL DEFAULT '',
		capabilities     TEXT[] NOT NULL DEFAULT '{}',
		healthy          BOOLEAN NOT NULL,
		previous_healthy BOOLEAN,
		occurred_at      TIMESTAMPTZ NOT NULL
	)`, s.table)

	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("audit: create table: %w", err)
	}

	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (component_id, occurred_at DESC)`,
		pgx.Identifier{indexName(s.table)}.Sanitize(), s.table)

	if _, err := s.db.Exec(ctx, index); err != nil {
		return fmt.Errorf("audit: create index: %w", err)
	}

	s.logger.Info().Str("table", s.table).Msg("Audit schema ready")

	return nil
}

// PublishComponentEvent inserts event. Duplicate event ids are ignored.
func (s *Store) PublishComponentEvent(ctx context.Context, event *models.ComponentEvent) error {
	query := fmt.Sprintf(`INSERT INTO %s (
		event_id, event_type, component_id, component_type, endpoint,
		capabilities, healthy, previous_healthy, occurred_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) ON CONFLICT DO NOTHING`, s.table)

	capabilities := event.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}

	_, err := s.db.Exec(ctx, query,
		event.ID,
		string(event.Type),
		event.ComponentID,
		event.ComponentType,
		event.Endpoint,
		capabilities,
		event.Healthy,
		event.PreviousHealthy,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("audit: insert %s event for %s: %w", event.Type, event.ComponentID, err)
	}

	return nil
}

// History returns the most recent events, newest first. An empty
// componentID returns events for every component.
func (s *Store) History(ctx context.Context, componentID string, limit int) ([]models.ComponentEvent, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := fmt.Sprintf(`SELECT event_id::text, event_type, component_id, component_type, endpoint,
		capabilities, healthy, previous_healthy, occurred_at
	FROM %s
	WHERE ($1 = '' OR component_id = $1)
	ORDER BY occurred_at DESC
	LIMIT $2`, s.table)

	rows, err := s.db.Query(ctx, query, componentID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query history: %w", err)
	}
	defer rows.Close()

	events := make([]models.ComponentEvent, 0)

	for rows.Next() {
		var (
			ev         models.ComponentEvent
			eventType  string
			occurredAt time.Time
		)

		if err := rows.Scan(
			&ev.ID,
			&eventType,
			&ev.ComponentID,
			&ev.ComponentType,
			&ev.Endpoint,
			&ev.Capabilities,
			&ev.Healthy,
			&ev.PreviousHealthy,
			&occurredAt,
		); err != nil {
			return nil, fmt.Errorf("audit: scan history row: %w", err)
		}

		ev.Type = models.ComponentEventType(eventType)
		ev.Timestamp = occurredAt

		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate history: %w", err)
	}

	return events, nil
}

// sanitizeTable quotes a possibly schema-qualified table name.
func sanitizeTable(input string) string {
	parts := make([]string, 0, 2)

	for _, p := range strings.Split(input, ".") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	if len(parts) == 0 {
		parts = []string{DefaultTable}
	}

	return pgx.Identifier(parts).Sanitize()
}

func indexName(table string) string {
	name := strings.NewReplacer(`"`, "", ".", "_").Replace(table)

	return name + "_component_idx"
}
