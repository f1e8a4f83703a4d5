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
	"maps"
	"reflect"
	"slices"
	"time"
)

// ComponentRecord is the registry's view of one registered component.
type ComponentRecord struct {
	ComponentID   string
	Name          string
	Version       string
	ComponentType string
	Endpoint      string
	Capabilities  []string
	Metadata      map[string]interface{}
	Healthy       bool
	LastHeartbeat time.Time
	RegisteredAt  time.Time
	TokenID       string
}

// Clone returns a copy that shares no slices or maps with r, including maps
// and slices nested inside Metadata.
func (r ComponentRecord) Clone() ComponentRecord {
	out := r
	out.Capabilities = slices.Clone(r.Capabilities)
	out.Metadata = CloneMetadata(r.Metadata)

	return out
}

// CloneMetadata deep-copies a metadata map.
func CloneMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}

	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v interface{}) interface{} {
	switch value := v.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return CloneMetadata(value)
	case []interface{}:
		if value == nil {
			return value
		}

		out := make([]interface{}, len(value))
		for i, item := range value {
			out[i] = cloneValue(item)
		}

		return out
	case map[string]string:
		return maps.Clone(value)
	case []string:
		return slices.Clone(value)
	}

	return cloneReflect(reflect.ValueOf(v)).Interface()
}

// cloneReflect copies other map and slice kinds; scalars are returned as is.
func cloneReflect(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}

		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())

		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneElem(iter.Value(), rv.Type().Elem()))
		}

		return out
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}

		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneElem(rv.Index(i), rv.Type().Elem()))
		}

		return out
	default:
		return rv
	}
}

func cloneElem(v reflect.Value, elemType reflect.Type) reflect.Value {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Zero(elemType)
		}

		return reflect.ValueOf(cloneValue(v.Interface())).Convert(elemType)
	}

	return cloneReflect(v)
}

// HasCapability reports whether the record advertises capability.
func (r ComponentRecord) HasCapability(capability string) bool {
	return slices.Contains(r.Capabilities, capability)
}

// View renders the record for discovery callers; the token id stays private.
func (r ComponentRecord) View() ServiceView {
	c := r.Clone()

	capabilities := c.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}

	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	return ServiceView{
		ComponentID:   c.ComponentID,
		Name:          c.Name,
		Version:       c.Version,
		ComponentType: c.ComponentType,
		Endpoint:      c.Endpoint,
		Capabilities:  capabilities,
		Metadata:      metadata,
		Healthy:       c.Healthy,
		LastHeartbeat: UnixSeconds(c.LastHeartbeat),
	}
}

// ServiceView is the discovery representation of a component.
// @Description A registered component as returned by discovery queries.
type ServiceView struct {
	ComponentID   string                 `json:"component_id" example:"cache_kv_3f9a01bc"`
	Name          string                 `json:"name" example:"cache"`
	Version       string                 `json:"version" example:"1.2.0"`
	ComponentType string                 `json:"component_type" example:"kv"`
	Endpoint      string                 `json:"endpoint" example:"http://10.0.0.4:9000"`
	Capabilities  []string               `json:"capabilities"`
	Metadata      map[string]interface{} `json:"metadata"`
	Healthy       bool                   `json:"healthy"`
	// Seconds since the Unix epoch, fractional.
	LastHeartbeat float64 `json:"last_heartbeat"`
}

// UnixSeconds renders t as fractional seconds since the epoch.
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}

	return float64(t.UnixNano()) / float64(time.Second)
}

// FromUnixSeconds is the inverse of UnixSeconds.
func FromUnixSeconds(s float64) time.Time {
	if s == 0 {
		return time.Time{}
	}

	return time.Unix(0, int64(s*float64(time.Second)))
}
