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
	"context"
	"errors"
	"sync"

	"github.com/carverauto/registrar/pkg/client"
	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
	"github.com/carverauto/registrar/pkg/registration"
)

// localSender heartbeats the registrar's own record in process. When the
// token expires or the record was swept it registers again.
type localSender struct {
	manager *registration.Manager
	request *models.RegisterRequest
	logger  logger.Logger

	mu    sync.Mutex
	token string
}

var _ client.HeartbeatSender = (*localSender)(nil)

func (l *localSender) register(ctx context.Context) error {
	res, err := l.manager.Register(ctx, l.request)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.token = res.Token
	l.mu.Unlock()

	return nil
}

func (l *localSender) SendHeartbeat(ctx context.Context, componentID string, status map[string]interface{}) error {
	l.mu.Lock()
	tok := l.token
	l.mu.Unlock()

	_, err := l.manager.Heartbeat(ctx, componentID, tok, status)
	if err == nil {
		return nil
	}

	if !errors.Is(err, registration.ErrUnauthorized) && !errors.Is(err, registration.ErrNotFound) {
		return err
	}

	l.logger.Info().Err(err).Str("component_id", componentID).Msg("Refreshing self registration")

	return l.register(ctx)
}
