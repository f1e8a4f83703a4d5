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

// Package registry holds the in-memory table of registered components and
// answers discovery queries against it.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
)

type entry struct {
	record models.ComponentRecord
	seq    uint64
}

// ServiceRegistry is a concurrency-safe map of component id to record.
// Every value handed out is a deep copy.
type ServiceRegistry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextSeq uint64
	logger  logger.Logger
}

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry(log logger.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		entries: make(map[string]*entry),
		logger:  log,
	}
}

// Put inserts record or replaces the record with the same id. It reports
// whether an existing record was replaced. A replaced record keeps its
// position in query order.
func (r *ServiceRegistry) Put(record models.ComponentRecord) bool {
	stored := record.Clone()

	r.mu.Lock()

	e, replaced := r.entries[record.ComponentID]
	if replaced {
		e.record = stored
	} else {
		r.nextSeq++
		r.entries[record.ComponentID] = &entry{record: stored, seq: r.nextSeq}
	}

	r.mu.Unlock()

	r.logger.Debug().
		Str("component_id", record.ComponentID).
		Str("component_type", record.ComponentType).
		Bool("replaced", replaced).
		Msg("Stored component record")

	return replaced
}

// Get returns a copy of the record for componentID.
func (r *ServiceRegistry) Get(componentID string) (models.ComponentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[componentID]
	if !ok {
		return models.ComponentRecord{}, ErrNotFound
	}

	return e.record.Clone(), nil
}

// Remove deletes the record for componentID and reports whether it existed.
func (r *ServiceRegistry) Remove(componentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[componentID]; !ok {
		return false
	}

	delete(r.entries, componentID)

	return true
}

// RemoveForToken deletes the record only if it is still bound to tokenID.
// The removed record is returned.
func (r *ServiceRegistry) RemoveForToken(componentID, tokenID string) (models.ComponentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[componentID]
	if !ok {
		return models.ComponentRecord{}, ErrNotFound
	}

	if e.record.TokenID != tokenID {
		return models.ComponentRecord{}, ErrStaleToken
	}

	delete(r.entries, componentID)

	return e.record, nil
}

// UpdateHeartbeat sets the health flag and heartbeat time of componentID and
// returns the previous health flag. No other field changes.
func (r *ServiceRegistry) UpdateHeartbeat(componentID string, healthy bool, ts time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[componentID]
	if !ok {
		return false, ErrNotFound
	}

	previous := e.record.Healthy
	e.record.Healthy = healthy
	e.record.LastHeartbeat = ts

	return previous, nil
}

// UpdateHeartbeatForToken is UpdateHeartbeat guarded by the record's token id.
// It also returns a copy of the updated record taken under the same lock.
func (r *ServiceRegistry) UpdateHeartbeatForToken(
	componentID, tokenID string, healthy bool, ts time.Time) (models.ComponentRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[componentID]
	if !ok {
		return models.ComponentRecord{}, false, ErrNotFound
	}

	if e.record.TokenID != tokenID {
		return models.ComponentRecord{}, false, ErrStaleToken
	}

	previous := e.record.Healthy
	e.record.Healthy = healthy
	e.record.LastHeartbeat = ts

	return e.record.Clone(), previous, nil
}

// Query returns copies of every record matching filter in registration
// order. The result is never nil.
func (r *ServiceRegistry) Query(filter Filter) []models.ComponentRecord {
	r.mu.RLock()

	matched := make([]*entry, 0, len(r.entries))

	for _, e := range r.entries {
		if filter.Matches(&e.record) {
			matched = append(matched, e)
		}
	}

	out := copyOrdered(matched)

	r.mu.RUnlock()

	return out
}

// All returns copies of every record in registration order.
func (r *ServiceRegistry) All() []models.ComponentRecord {
	return r.Query(Filter{})
}

// Len reports the number of registered components.
func (r *ServiceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// ExpireOlderThan removes every record whose last heartbeat is before cutoff
// and returns them.
func (r *ServiceRegistry) ExpireOlderThan(cutoff time.Time) []models.ComponentRecord {
	r.mu.Lock()

	var stale []*entry

	for id, e := range r.entries {
		if e.record.LastHeartbeat.Before(cutoff) {
			stale = append(stale, e)
			delete(r.entries, id)
		}
	}

	r.mu.Unlock()

	expired := copyOrdered(stale)

	for i := range expired {
		r.logger.Info().
			Str("component_id", expired[i].ComponentID).
			Time("last_heartbeat", expired[i].LastHeartbeat).
			Msg("Expired component after missed heartbeats")
	}

	return expired
}

func copyOrdered(entries []*entry) []models.ComponentRecord {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})

	out := make([]models.ComponentRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.record.Clone())
	}

	return out
}
