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

package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/carverauto/registrar/pkg/logger"
)

const (
	// DefaultHeartbeatInterval is the time between heartbeats.
	DefaultHeartbeatInterval = 60 * time.Second
	// DefaultStopTimeout bounds how long Stop waits for the current beat.
	DefaultStopTimeout = 5 * time.Second

	defaultBeatTimeout = 10 * time.Second
)

var (
	ErrLoopRunning = errors.New("heartbeat loop already started")
	ErrStopTimeout = errors.New("heartbeat loop did not stop in time")
)

// HeartbeatSender delivers one heartbeat for a component.
type HeartbeatSender interface {
	SendHeartbeat(ctx context.Context, componentID string, status map[string]interface{}) error
}

// StatusFunc supplies the status payload of each heartbeat.
type StatusFunc func() map[string]interface{}

// HeartbeatLoop sends a heartbeat every interval until stopped. A failed
// heartbeat is logged and retried on the next tick.
type HeartbeatLoop struct {
	sender      HeartbeatSender
	componentID string
	interval    time.Duration
	beatTimeout time.Duration
	status      StatusFunc
	logger      logger.Logger

	mu       sync.Mutex
	started  bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// HeartbeatOption customizes a HeartbeatLoop.
type HeartbeatOption func(*HeartbeatLoop)

// WithStatusFunc sets the status payload source.
func WithStatusFunc(fn StatusFunc) HeartbeatOption {
	return func(l *HeartbeatLoop) {
		l.status = fn
	}
}

// WithBeatTimeout bounds a single heartbeat request.
func WithBeatTimeout(d time.Duration) HeartbeatOption {
	return func(l *HeartbeatLoop) {
		if d > 0 {
			l.beatTimeout = d
		}
	}
}

// NewHeartbeatLoop creates a loop for componentID. A non-positive interval
// selects DefaultHeartbeatInterval.
func NewHeartbeatLoop(sender HeartbeatSender, componentID string, interval time.Duration, log logger.Logger, opts ...HeartbeatOption) *HeartbeatLoop {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	l := &HeartbeatLoop{
		sender:      sender,
		componentID: componentID,
		interval:    interval,
		beatTimeout: defaultBeatTimeout,
		logger:      log,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	for _, o := range opts {
		o(l)
	}

	return l
}

// Start launches the loop goroutine. Cancelling ctx also ends the loop, but
// never aborts a heartbeat that is already in flight.
func (l *HeartbeatLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return ErrLoopRunning
	}

	l.started = true

	go l.run(ctx)

	return nil
}

func (l *HeartbeatLoop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info().
		Str("component_id", l.componentID).
		Dur("interval", l.interval).
		Msg("Heartbeat loop started")

	for {
		select {
		case <-l.stop:
			l.logger.Info().Str("component_id", l.componentID).Msg("Heartbeat loop stopped")

			return
		case <-ctx.Done():
			l.logger.Info().Str("component_id", l.componentID).Msg("Heartbeat loop stopping due to context cancellation")

			return
		case <-ticker.C:
		}

		// a tick and a stop can be ready together
		select {
		case <-l.stop:
			continue
		default:
		}

		l.beat(ctx)
	}
}

func (l *HeartbeatLoop) beat(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), l.beatTimeout)
	defer cancel()

	var status map[string]interface{}
	if l.status != nil {
		status = l.status()
	}

	if err := l.sender.SendHeartbeat(ctx, l.componentID, status); err != nil {
		l.logger.Warn().
			Err(err).
			Str("component_id", l.componentID).
			Msg("Heartbeat failed, will retry on next tick")

		return
	}

	l.logger.Debug().Str("component_id", l.componentID).Msg("Heartbeat sent")
}

// Stop asks the loop to exit and waits up to timeout for the current
// heartbeat to finish. A non-positive timeout selects DefaultStopTimeout.
// Stopping a loop that was never started returns immediately.
func (l *HeartbeatLoop) Stop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	l.stopOnce.Do(func() { close(l.stop) })

	l.mu.Lock()
	started := l.started
	l.mu.Unlock()

	if !started {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.done:
		return nil
	case <-timer.C:
		l.logger.Warn().
			Str("component_id", l.componentID).
			Dur("timeout", timeout).
			Msg("Heartbeat loop did not stop in time")

		return ErrStopTimeout
	}
}

// Done is closed once the loop goroutine has exited.
func (l *HeartbeatLoop) Done() <-chan struct{} {
	return l.done
}
