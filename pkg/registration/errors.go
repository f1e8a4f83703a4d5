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

package registration

import (
	"fmt"

	"github.com/carverauto/registrar/pkg/registry"
	"github.com/carverauto/registrar/pkg/token"
)

var (
	// ErrUnauthorized covers every token rejection, including a token that
	// belonged to an earlier registration of the same component.
	ErrUnauthorized = token.ErrUnauthorized
	// ErrNotFound is returned when the component id is not registered.
	ErrNotFound = registry.ErrNotFound
)

// ValidationError reports a malformed registration request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid registration: %s %s", e.Field, e.Reason)
}

func missing(field string) error {
	return &ValidationError{Field: field, Reason: "is required"}
}
