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

import (
	"context"
	"sync"
	"time"

	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
)

// DefaultSweepInterval is how often the expiry monitor looks for stale records.
const DefaultSweepInterval = 30 * time.Second

// ExpiryMonitor removes components that stopped sending heartbeats.
type ExpiryMonitor struct {
	registry  *ServiceRegistry
	timeout   time.Duration
	interval  time.Duration
	clock     Clock
	onExpired func(models.ComponentRecord)
	logger    logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// ExpiryOption customizes an ExpiryMonitor.
type ExpiryOption func(*ExpiryMonitor)

// WithExpiryClock overrides the time source and ticker.
func WithExpiryClock(c Clock) ExpiryOption {
	return func(m *ExpiryMonitor) {
		m.clock = c
	}
}

// WithOnExpired registers a callback invoked once per removed record.
func WithOnExpired(fn func(models.ComponentRecord)) ExpiryOption {
	return func(m *ExpiryMonitor) {
		m.onExpired = fn
	}
}

// NewExpiryMonitor sweeps reg every interval and drops records whose last
// heartbeat is older than timeout. A zero timeout disables the monitor.
func NewExpiryMonitor(reg *ServiceRegistry, timeout, interval time.Duration, log logger.Logger, opts ...ExpiryOption) *ExpiryMonitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	m := &ExpiryMonitor{
		registry: reg,
		timeout:  timeout,
		interval: interval,
		clock:    RealClock{},
		logger:   log,
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

// Enabled reports whether a timeout is configured.
func (m *ExpiryMonitor) Enabled() bool {
	return m.timeout > 0
}

// Start launches the sweep loop. It returns immediately; calling it on a
// disabled or already running monitor is a no-op.
func (m *ExpiryMonitor) Start(ctx context.Context) {
	if !m.Enabled() {
		m.logger.Info().Msg("Heartbeat expiry disabled")

		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	m.wg.Add(1)

	go m.run(ctx)
}

func (m *ExpiryMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	m.logger.Info().
		Dur("timeout", m.timeout).
		Dur("interval", m.interval).
		Msg("Expiry monitor started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Expiry monitor stopping")

			return
		case <-ticker.Chan():
			m.Sweep()
		}
	}
}

// Sweep runs a single expiry pass and returns the removed records.
func (m *ExpiryMonitor) Sweep() []models.ComponentRecord {
	if !m.Enabled() {
		return nil
	}

	expired := m.registry.ExpireOlderThan(m.clock.Now().Add(-m.timeout))

	if m.onExpired != nil {
		for _, rec := range expired {
			m.onExpired(rec)
		}
	}

	return expired
}

// Stop cancels the loop and waits for it to exit.
func (m *ExpiryMonitor) Stop() {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()

		return
	}

	m.cancel()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
}
