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
	"bytes"
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"pgregory.net/rapid"

	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
	"github.com/carverauto/registrar/pkg/registry"
	"github.com/carverauto/registrar/pkg/token"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type fixture struct {
	manager  *Manager
	registry *registry.ServiceRegistry
	clock    *testClock
}

func newFixture(t *testing.T, ttl time.Duration, opts ...Option) *fixture {
	t.Helper()

	clock := &testClock{now: time.Unix(1700000000, 0)}
	log := logger.NewTestLogger()

	issuer, err := token.NewIssuer([]byte("manager-secret"), ttl, token.WithClock(clock.Now))
	require.NoError(t, err)

	reg := registry.NewServiceRegistry(log)

	opts = append([]Option{WithClock(clock.Now)}, opts...)

	return &fixture{
		manager:  NewManager(reg, issuer, log, opts...),
		registry: reg,
		clock:    clock,
	}
}

func cacheRequest(id string) *models.RegisterRequest {
	return &models.RegisterRequest{
		ComponentID:   id,
		Name:          "Cache Service",
		Version:       "1.0.0",
		ComponentType: "cache",
		Endpoint:      "http://cache:9000",
		Capabilities:  []string{"kv"},
		Metadata:      map[string]interface{}{"region": "us-east"},
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t, token.DefaultTTL)

	tests := []struct {
		name  string
		req   *models.RegisterRequest
		field string
	}{
		{name: "nil request", req: nil, field: "request"},
		{name: "missing name", req: &models.RegisterRequest{ComponentType: "kv", Endpoint: "e"}, field: "name"},
		{name: "missing type", req: &models.RegisterRequest{Name: "n", Endpoint: "e"}, field: "component_type"},
		{name: "missing endpoint", req: &models.RegisterRequest{Name: "n", ComponentType: "kv"}, field: "endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Register(context.Background(), tt.req)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	assert.Equal(t, 0, f.registry.Len())
}

func TestRegisterStoresRecord(t *testing.T) {
	f := newFixture(t, token.DefaultTTL)

	req := cacheRequest("svc-a")
	req.Capabilities = []string{"kv", "kv", "ttl"}

	res, err := f.manager.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "svc-a", res.ComponentID)
	assert.False(t, res.Replaced)
	assert.NotEmpty(t, res.Token)

	rec, err := f.registry.Get("svc-a")
	require.NoError(t, err)
	assert.True(t, rec.Healthy)
	assert.Equal(t, f.clock.now, rec.LastHeartbeat)
	assert.Equal(t, []string{"kv", "ttl"}, rec.Capabilities)
	assert.Equal(t, res.TokenID, rec.TokenID)
	assert.Equal(t, "us-east", rec.Metadata["region"])
}

func TestRegisterGeneratesComponentID(t *testing.T) {
	f := newFixture(t, token.DefaultTTL, WithRandom(bytes.NewReader([]byte{0xde, 0xad, 0xbe, 0xef})))

	res, err := f.manager.Register(context.Background(), cacheRequest(""))
	require.NoError(t, err)
	assert.Equal(t, "cache-service_cache_deadbeef", res.ComponentID)
}

func TestGeneratedIDsAreWellFormed(t *testing.T) {
	f := newFixture(t, token.DefaultTTL)
	pattern := regexp.MustCompile(`^[a-z0-9-]+_[a-z0-9-]+_[0-9a-f]{8}$`)

	rapid.Check(t, func(t *rapid.T) {
		req := &models.RegisterRequest{
			Name:          rapid.String().Draw(t, "name"),
			ComponentType: rapid.String().Draw(t, "type"),
			Endpoint:      "http://x",
		}

		if req.Name == "" || req.ComponentType == "" {
			return
		}

		res, err := f.manager.Register(context.Background(), req)
		if err != nil {
			t.Fatalf("register: %v", err)
		}

		if !pattern.MatchString(res.ComponentID) {
			t.Fatalf("malformed id %q", res.ComponentID)
		}
	})
}

func TestTokenBindsToRegisteredComponent(t *testing.T) {
	f := newFixture(t, token.DefaultTTL)
	ctx := context.Background()

	a, err := f.manager.Register(ctx, cacheRequest("svc-a"))
	require.NoError(t, err)

	b, err := f.manager.Register(ctx, cacheRequest("svc-b"))
	require.NoError(t, err)

	before, err := f.registry.Get("svc-b")
	require.NoError(t, err)

	f.clock.now = f.clock.now.Add(time.Minute)

	_, err = f.manager.Heartbeat(ctx, "svc-b", a.Token, map[string]interface{}{"healthy": false})
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, err, token.ErrComponentMismatch)

	after, err := f.registry.Get("svc-b")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = f.manager.Heartbeat(ctx, "svc-b", b.Token, nil)
	require.NoError(t, err)
}

func TestHeartbeatExpiredToken(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	res, err := f.manager.Register(ctx, cacheRequest("svc-a"))
	require.NoError(t, err)

	f.clock.now = f.clock.now.Add(time.Minute)

	_, err = f.manager.Heartbeat(ctx, "svc-a", res.Token, nil)
	require.ErrorIs(t, err, token.ErrExpired)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestHeartbeatUpdatesHealth(t *testing.T) {
	f := newFixture(t, token.DefaultTTL)
	ctx := context.Background()

	res, err := f.manager.Register(ctx, cacheRequest("svc-a"))
	require.NoError(t, err)

	tests := []struct {
		status  map[string]interface{}
		healthy bool
	}{
		{status: nil, healthy: true},
		{status: map[string]interface{}{"healthy": false}, healthy: false},
		{status: map[string]interface{}{"healthy": "true"}, healthy: true},
		{status: map[string]interface{}{"healthy": "false"}, healthy: false},
		{status: map[string]interface{}{"healthy": "garbage"}, healthy: true},
		{status: map[string]interface{}{"healthy": float64(0)}, healthy: false},
		{status: map[string]interface{}{"load": 0.4}, healthy: true},
	}

	for _, tt := range tests {
		f.clock.now = f.clock.now.Add(time.Second)

		ts, err := f.manager.Heartbeat(ctx, "svc-a", res.Token, tt.status)
		require.NoError(t, err)
		assert.Equal(t, f.clock.now, ts)

		rec, err := f.registry.Get("svc-a")
		require.NoError(t, err)
		assert.Equal(t, tt.healthy, rec.Healthy, "status %v", tt.status)
		assert.Equal(t, f.clock.now, rec.LastHeartbeat)
	}
}

func TestHeartbeatAfterUnregisterIsNotFound(t *testing.T) {
	f := newFixture(t, token.DefaultTTL)
	ctx := context.Background()

	res, err := f.manager.Register(ctx, cacheRequest("C1"))
	require.NoError(t, err)

	require.NoError(t, f.manager.Unregister(ctx, "C1", res.Token))

	_, err = f.manager.Heartbeat(ctx, "C1", res.Token, nil)
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, errors.Is(err, ErrUnauthorized))
}

func TestUnregisterTwice(t *testing.T) {
	f := newFixture(t, token.DefaultTTL)
	ctx := context.Background()

	res, err := f.manager.Register(ctx, cacheRequest("svc-a"))
	require.NoError(t, err)

	require.NoError(t, f.manager.Unregister(ctx, "svc-a", res.Token))

	err = f.manager.Unregister(ctx, "svc-a", res.Token)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUnregisterWithWrongToken(t *testing.T) {
	f := newFixture(t, token.DefaultTTL)
	ctx := context.Background()

	_, err := f.manager.Register(ctx, cacheRequest("svc-a"))
	require.NoError(t, err)

	err = f.manager.Unregister(ctx, "svc-a", "not-a-token")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, f.registry.Len())
}

func TestReregistrationSupersedesOldToken(t *testing.T) {
	f := newFixture(t, token.DefaultTTL)
	ctx := context.Background()

	first, err := f.manager.Register(ctx, cacheRequest("svc-a"))
	require.NoError(t, err)

	second, err := f.manager.Register(ctx, cacheRequest("svc-a"))
	require.NoError(t, err)
	assert.True(t, second.Replaced)
	assert.Equal(t, 1, f.registry.Len())

	_, err = f.manager.Heartbeat(ctx, "svc-a", first.Token, nil)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, err, registry.ErrStaleToken)

	err = f.manager.Unregister(ctx, "svc-a", first.Token)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.manager.Heartbeat(ctx, "svc-a", second.Token, nil)
	require.NoError(t, err)
}

func TestQueryServicesScenario(t *testing.T) {
	f := newFixture(t, token.DefaultTTL)
	ctx := context.Background()

	res, err := f.manager.Register(ctx, &models.RegisterRequest{
		ComponentID:   "svc-a",
		Name:          "svc-a",
		ComponentType: "cache",
		Endpoint:      "http://svc-a",
		Capabilities:  []string{"kv"},
	})
	require.NoError(t, err)

	views := f.manager.QueryServices(ctx, registry.Filter{ComponentType: "cache"})
	require.Len(t, views, 1)
	assert.Equal(t, "svc-a", views[0].ComponentID)

	_, err = f.manager.Heartbeat(ctx, "svc-a", "wrong-token", nil)
	require.Error(t, err)

	_, err = f.manager.Heartbeat(ctx, "svc-a", res.Token, map[string]interface{}{"healthy": false})
	require.NoError(t, err)

	assert.Empty(t, f.manager.QueryServices(ctx, registry.Filter{HealthyOnly: true}))

	require.NoError(t, f.manager.Unregister(ctx, "svc-a", res.Token))

	views = f.manager.QueryServices(ctx, registry.Filter{ComponentType: "cache"})
	require.NotNil(t, views)
	assert.Empty(t, views)
}

func TestQueryIgnoresNonMatchingChanges(t *testing.T) {
	f := newFixture(t, token.DefaultTTL)
	ctx := context.Background()

	_, err := f.manager.Register(ctx, cacheRequest("svc-a"))
	require.NoError(t, err)

	baseline := f.manager.QueryServices(ctx, registry.Filter{Capability: "kv"})

	other := &models.RegisterRequest{ComponentID: "svc-x", Name: "x", ComponentType: "search", Endpoint: "e", Capabilities: []string{"index"}}
	res, err := f.manager.Register(ctx, other)
	require.NoError(t, err)

	assert.Equal(t, baseline, f.manager.QueryServices(ctx, registry.Filter{Capability: "kv"}))

	require.NoError(t, f.manager.Unregister(ctx, "svc-x", res.Token))
	assert.Equal(t, baseline, f.manager.QueryServices(ctx, registry.Filter{Capability: "kv"}))
}

func TestGetService(t *testing.T) {
	f := newFixture(t, token.DefaultTTL)
	ctx := context.Background()

	_, err := f.manager.Register(ctx, cacheRequest("svc-a"))
	require.NoError(t, err)

	view, err := f.manager.GetService(ctx, "svc-a")
	require.NoError(t, err)
	assert.Equal(t, "cache", view.ComponentType)
	assert.Equal(t, 1, f.manager.Count())

	_, err = f.manager.GetService(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLifecycleEventsPublished(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	publisher := NewMockEventPublisher(ctrl)
	f := newFixture(t, token.DefaultTTL, WithPublisher(publisher))
	ctx := context.Background()

	var events []*models.ComponentEvent

	publisher.EXPECT().
		PublishComponentEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e *models.ComponentEvent) error {
			events = append(events, e)

			return nil
		}).
		Times(5)

	res, err := f.manager.Register(ctx, cacheRequest("svc-a"))
	require.NoError(t, err)

	res, err = f.manager.Register(ctx, cacheRequest("svc-a"))
	require.NoError(t, err)

	// unchanged health publishes nothing
	_, err = f.manager.Heartbeat(ctx, "svc-a", res.Token, nil)
	require.NoError(t, err)

	_, err = f.manager.Heartbeat(ctx, "svc-a", res.Token, map[string]interface{}{"healthy": false})
	require.NoError(t, err)

	require.NoError(t, f.manager.Unregister(ctx, "svc-a", res.Token))

	f.manager.HandleExpired(models.ComponentRecord{ComponentID: "svc-z"})

	require.Len(t, events, 5)
	assert.Equal(t, models.EventRegistered, events[0].Type)
	assert.Equal(t, models.EventReregistered, events[1].Type)
	assert.Equal(t, models.EventHealthChanged, events[2].Type)
	require.NotNil(t, events[2].PreviousHealthy)
	assert.True(t, *events[2].PreviousHealthy)
	assert.False(t, events[2].Healthy)
	assert.Equal(t, models.EventUnregistered, events[3].Type)
	assert.Equal(t, models.EventExpired, events[4].Type)
	assert.Equal(t, "svc-z", events[4].ComponentID)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.ComponentEvent
}

func (p *recordingPublisher) PublishComponentEvent(_ context.Context, e *models.ComponentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, e)

	return nil
}

func (p *recordingPublisher) ofType(eventType models.ComponentEventType) []*models.ComponentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*models.ComponentEvent

	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}

	return out
}

func TestHealthChangedDescribesHeartbeatingRegistration(t *testing.T) {
	publisher := &recordingPublisher{}
	f := newFixture(t, token.DefaultTTL, WithPublisher(publisher))
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		first, err := f.manager.Register(ctx, cacheRequest("svc-a"))
		require.NoError(t, err)

		takeover := cacheRequest("svc-a")
		takeover.Endpoint = "http://takeover:9000"

		var wg sync.WaitGroup

		wg.Add(1)

		go func() {
			defer wg.Done()

			_, _ = f.manager.Register(ctx, takeover)
		}()

		_, _ = f.manager.Heartbeat(ctx, "svc-a", first.Token, map[string]interface{}{"healthy": false})

		wg.Wait()
	}

	for _, e := range publisher.ofType(models.EventHealthChanged) {
		assert.Equal(t, "http://cache:9000", e.Endpoint)
		assert.False(t, e.Healthy)
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	publisher := NewMockEventPublisher(ctrl)
	publisher.EXPECT().
		PublishComponentEvent(gomock.Any(), gomock.Any()).
		Return(errors.New("nats down")).
		AnyTimes()

	f := newFixture(t, token.DefaultTTL, WithPublisher(publisher))

	res, err := f.manager.Register(context.Background(), cacheRequest("svc-a"))
	require.NoError(t, err)
	require.NoError(t, f.manager.Unregister(context.Background(), "svc-a", res.Token))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "cache-service", slug("Cache Service"))
	assert.Equal(t, "a-b", slug("--a__b--"))
	assert.Equal(t, "component", slug("!!!"))
}
