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
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errBadTimestamp = errors.New("malformed timestamp")

// Claims is the signed payload of a component token.
type Claims struct {
	ComponentID string      `json:"component_id"`
	TokenID     string      `json:"token_id"`
	IssuedAt    NumericTime `json:"iat"`
	ExpiresAt   NumericTime `json:"exp"`
}

// Valid satisfies jwt.Claims. Expiry and binding are checked by Validate.
func (Claims) Valid() error {
	return nil
}

// NumericTime is a JWT NumericDate carrying the full nanosecond value as a
// decimal fraction, so expiry lands exactly at issuance plus TTL.
type NumericTime struct {
	time.Time
}

func (n NumericTime) MarshalJSON() ([]byte, error) {
	if n.IsZero() {
		return []byte("0"), nil
	}

	return []byte(fmt.Sprintf("%d.%09d", n.Unix(), n.Nanosecond())), nil
}

func (n *NumericTime) UnmarshalJSON(b []byte) error {
	raw := string(bytes.TrimSpace(b))

	if raw == "null" || raw == "0" {
		n.Time = time.Time{}

		return nil
	}

	secPart, fracPart, hasFrac := strings.Cut(raw, ".")

	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil || sec < 0 {
		// Exponent notation from other encoders.
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f < 0 {
			return fmt.Errorf("%w: %s", errBadTimestamp, raw)
		}

		n.Time = time.Unix(0, int64(f*float64(time.Second)))

		return nil
	}

	var nsec int64

	if hasFrac {
		if fracPart == "" || len(fracPart) > 9 || strings.Trim(fracPart, "0123456789") != "" {
			return fmt.Errorf("%w: %s", errBadTimestamp, raw)
		}

		nsec, err = strconv.ParseInt(fracPart+strings.Repeat("0", 9-len(fracPart)), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s", errBadTimestamp, raw)
		}
	}

	n.Time = time.Unix(sec, nsec)

	return nil
}
