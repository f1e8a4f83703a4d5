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

//go:generate mockgen -destination=mock_registration.go -package=registration github.com/carverauto/registrar/pkg/registration EventPublisher

import (
	"context"

	"github.com/carverauto/registrar/pkg/models"
)

// EventPublisher receives registration lifecycle events.
type EventPublisher interface {
	PublishComponentEvent(ctx context.Context, event *models.ComponentEvent) error
}
