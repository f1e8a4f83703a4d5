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

// Package token issues and validates the signed, time-limited credentials
// that bind a caller to one registered component.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultTTL is the lifetime of an issued token.
	DefaultTTL = time.Hour

	tokenIDBytes = 16
	keyBytes     = 32
	hkdfInfo     = "registrar component token v1"
)

// Issuer mints and verifies component tokens with a process-wide secret.
type Issuer struct {
	key    []byte
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
	parser *jwt.Parser
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// WithRandom overrides the entropy source used for token ids.
func WithRandom(r io.Reader) Option {
	return func(i *Issuer) {
		i.random = r
	}
}

// NewIssuer derives the signing key from secret. A negative ttl is rejected;
// zero is allowed and yields tokens that are expired on arrival.
func NewIssuer(secret []byte, ttl time.Duration, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	if ttl < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}

	key := make([]byte, keyBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("token: derive signing key: %w", err)
	}

	i := &Issuer{
		key:    key,
		ttl:    ttl,
		now:    time.Now,
		random: rand.Reader,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}

	for _, o := range opts {
		o(i)
	}

	return i, nil
}

// TTL reports the configured token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue returns a signed token for componentID and the random id embedded in it.
func (i *Issuer) Issue(componentID string) (string, string, error) {
	tokenID, err := i.newTokenID()
	if err != nil {
		return "", "", err
	}

	now := i.now()
	claims := Claims{
		ComponentID: componentID,
		TokenID:     tokenID,
		IssuedAt:    NumericTime{now},
		ExpiresAt:   NumericTime{now.Add(i.ttl)},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", "", fmt.Errorf("token: sign: %w", err)
	}

	return signed, tokenID, nil
}

// Validate checks signature, expiry and component binding, in that order,
// and returns the embedded token id.
func (i *Issuer) Validate(tokenString, expectedComponentID string) (string, error) {
	claims, err := i.Parse(tokenString)
	if err != nil {
		return "", err
	}

	if claims.ExpiresAt.IsZero() || !i.now().Before(claims.ExpiresAt.Time) {
		return "", ErrExpired
	}

	if claims.ComponentID != expectedComponentID {
		return "", fmt.Errorf("%w: token bound to %q", ErrComponentMismatch, claims.ComponentID)
	}

	return claims.TokenID, nil
}

// Parse verifies the signature and decodes the claims without checking
// expiry or component binding.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}

	_, err := i.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return i.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	if claims.TokenID == "" || claims.ComponentID == "" {
		return nil, fmt.Errorf("%w: incomplete claims", ErrInvalidSignature)
	}

	return claims, nil
}

func (i *Issuer) newTokenID() (string, error) {
	buf := make([]byte, tokenIDBytes)
	if _, err := io.ReadFull(i.random, buf); err != nil {
		return "", fmt.Errorf("token: generate id: %w", err)
	}

	return hex.EncodeToString(buf), nil
}

// IsUnauthorized reports whether err is any token rejection.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
