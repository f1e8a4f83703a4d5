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

package token

import (
	"errors"
)

var (
	// ErrUnauthorized is matched by every token rejection.
	ErrUnauthorized = errors.New("unauthorized")

	ErrInvalidSignature  = &rejection{reason: "invalid token signature"}
	ErrExpired           = &rejection{reason: "token expired"}
	ErrComponentMismatch = &rejection{reason: "token issued for a different component"}

	ErrEmptySecret = errors.New("token: signing secret must not be empty")
	ErrInvalidTTL  = errors.New("token: ttl must not be negative")
)

// rejection is a token failure that also matches ErrUnauthorized.
type rejection struct {
	reason string
}

func (r *rejection) Error() string {
	return r.reason
}

func (*rejection) Is(target error) bool {
	return target == ErrUnauthorized
}
