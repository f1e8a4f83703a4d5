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


package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/registrar/pkg/audit"
	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
	"github.com/carverauto/registrar/pkg/natsutil"
	"github.com/carverauto/registrar/pkg/registry"
	"github.com/carverauto/registrar/pkg/token"
)

const (
	defaultListenAddr = ":8001"
	minSecretLength   = 16
)

var (
	ErrMissingSecret         = errors.New("secret_key is required")
	ErrWeakSecret            = fmt.Errorf("secret_key must be at least %d bytes", minSecretLength)
	errNegativeTTL           = errors.New("token_ttl must be positive")
	errNegativeTimeout       = errors.New("heartbeat_timeout must not be negative")
	errNegativeSweepInterval = errors.New("sweep_interval must not be negative")
)

// Config is the registrar service configuration.
type Config struct {
	ListenAddr string          `json:"listen_addr" yaml:"listen_addr"`
	SecretKey  string          `json:"secret_key" yaml:"secret_key" sensitive:"true"`
	TokenTTL   models.Duration `json:"token_ttl" yaml:"token_ttl"`

	// Zero disables expiry of silent components.
	HeartbeatTimeout  models.Duration   `json:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	SweepInterval     models.Duration   `json:"sweep_interval" yaml:"sweep_interval"`
	SelfRegister      bool              `json:"self_register" yaml:"self_register"`
	AdvertiseEndpoint string            `json:"advertise_endpoint,omitempty" yaml:"advertise_endpoint,omitempty"`
	CORS              models.CORSConfig `json:"cors" yaml:"cors"`
	NATS              natsutil.Config   `json:"nats" yaml:"nats"`
	Audit             audit.Config      `json:"audit" yaml:"audit"`
	Logging           *logger.Config    `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// DefaultConfig returns the configuration used for fields a config source
// leaves unset.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:    defaultListenAddr,
		TokenTTL:      models.Duration(token.DefaultTTL),
		SweepInterval: models.Duration(registry.DefaultSweepInterval),
		SelfRegister:  true,
		Logging:       logger.DefaultConfig(),
	}
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return ErrMissingSecret
	}

	if len(c.SecretKey) < minSecretLength {
		return ErrWeakSecret
	}

	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	switch {
	case c.TokenTTL == 0:
		c.TokenTTL = models.Duration(token.DefaultTTL)
	case c.TokenTTL < 0:
		return errNegativeTTL
	}

	if c.HeartbeatTimeout < 0 {
		return errNegativeTimeout
	}

	switch {
	case c.SweepInterval == 0:
		c.SweepInterval = models.Duration(registry.DefaultSweepInterval)
	case c.SweepInterval < 0:
		return errNegativeSweepInterval
	}

	if c.Logging == nil {
		c.Logging = logger.DefaultConfig()
	}

	return nil
}

// selfHeartbeatInterval keeps the registrar's own record well inside the
// expiry window.
func (c *Config) selfHeartbeatInterval() time.Duration {
	const defaultInterval = 60 * time.Second

	timeout := c.HeartbeatTimeout.Std()
	if timeout <= 0 {
		return defaultInterval
	}

	return timeout / 3
}
