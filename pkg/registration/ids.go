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
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const idSuffixBytes = 4

// generateComponentID builds "<name>_<type>_<8 hex>" from slugged inputs.
func generateComponentID(random io.Reader, name, componentType string) (string, error) {
	buf := make([]byte, idSuffixBytes)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", fmt.Errorf("generate component id: %w", err)
	}

	return slug(name) + "_" + slug(componentType) + "_" + hex.EncodeToString(buf), nil
}

// slug lowercases s and collapses every run of other characters into '-'.
func slug(s string) string {
	var b strings.Builder

	pendingDash := false

	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}

			b.WriteRune(r)

			pendingDash = false

			continue
		}

		pendingDash = true
	}

	if b.Len() == 0 {
		return "component"
	}

	return b.String()
}

// dedupe drops repeated capabilities, keeping first occurrences in order.
func dedupe(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}

	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))

	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}

		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}

// healthFromStatus reads the "healthy" flag of a heartbeat status payload.
// Anything absent or unrecognised counts as healthy.
func healthFromStatus(status map[string]interface{}) bool {
	v, ok := status["healthy"]
	if !ok {
		return true
	}

	switch h := v.(type) {
	case bool:
		return h
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(h))
		if err != nil {
			return true
		}

		return parsed
	case float64:
		return h != 0
	default:
		return true
	}
}
