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

import "errors"

var (
	// ErrNotFound is returned for operations on an unknown component id.
	ErrNotFound = errors.New("component not registered")
	// ErrStaleToken is returned when the presented token id is not the one
	// stored on the current record, i.e. the component re-registered since.
	ErrStaleToken = errors.New("token superseded by a newer registration")
)
