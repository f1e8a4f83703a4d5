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

package events

import (
	"context"
	"errors"

	"github.com/carverauto/registrar/pkg/models"
	"github.com/carverauto/registrar/pkg/registration"
)

var (
	_ registration.EventPublisher = (*BrokerPublisher)(nil)
	_ registration.EventPublisher = MultiPublisher(nil)
)

// BrokerPublisher feeds component events into an in-process Broker.
type BrokerPublisher struct {
	broker *Broker[*models.ComponentEvent]
}

// NewBrokerPublisher wraps broker.
func NewBrokerPublisher(broker *Broker[*models.ComponentEvent]) *BrokerPublisher {
	return &BrokerPublisher{broker: broker}
}

func (p *BrokerPublisher) PublishComponentEvent(_ context.Context, event *models.ComponentEvent) error {
	p.broker.Publish(event)

	return nil
}

// MultiPublisher publishes each event to every member, returning the joined
// errors of the members that failed.
type MultiPublisher []registration.EventPublisher

func (m MultiPublisher) PublishComponentEvent(ctx context.Context, event *models.ComponentEvent) error {
	var errs []error

	for _, p := range m {
		if p == nil {
			continue
		}

		if err := p.PublishComponentEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
