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

package registry

import "github.com/carverauto/registrar/pkg/models"

// Filter selects components for discovery. Empty fields are wildcards and
// the remaining criteria must all hold.
type Filter struct {
	Capability    string
	ComponentType string
	HealthyOnly   bool
}

// FilterFromQuery converts the wire query into a Filter.
func FilterFromQuery(q models.ServiceQuery) Filter {
	return Filter{
		Capability:    q.Capability,
		ComponentType: q.ComponentType,
		HealthyOnly:   q.HealthyOnly,
	}
}

// Query converts f back into its wire form.
func (f Filter) Query() models.ServiceQuery {
	return models.ServiceQuery{
		Capability:    f.Capability,
		ComponentType: f.ComponentType,
		HealthyOnly:   f.HealthyOnly,
	}
}

// Matches reports whether record satisfies every criterion of f.
func (f Filter) Matches(record *models.ComponentRecord) bool {
	if f.Capability != "" && !record.HasCapability(f.Capability) {
		return false
	}

	if f.ComponentType != "" && record.ComponentType != f.ComponentType {
		return false
	}

	if f.HealthyOnly && !record.Healthy {
		return false
	}

	return true
}
