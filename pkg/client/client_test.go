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
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/registrar/pkg/agents"
	"github.com/carverauto/registrar/pkg/api"
	"github.com/carverauto/registrar/pkg/events"
	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
	"github.com/carverauto/registrar/pkg/registration"
	"github.com/carverauto/registrar/pkg/registry"
	"github.com/carverauto/registrar/pkg/token"
)

type registrarEnv struct {
	url      string
	registry *registry.ServiceRegistry
	broker   *events.Broker[*models.ComponentEvent]
	agents   *agents.Directory
}

func newRegistrar(t *testing.T) *registrarEnv {
	t.Helper()

	log := logger.NewTestLogger()

	issuer, err := token.NewIssuer([]byte("client-secret"), time.Hour)
	require.NoError(t, err)

	reg := registry.NewServiceRegistry(log)
	broker := events.NewBroker[*models.ComponentEvent](16)
	manager := registration.NewManager(reg, issuer, log,
		registration.WithPublisher(events.NewBrokerPublisher(broker)))
	directory := agents.NewDirectory(manager, log)

	srv := httptest.NewServer(api.NewAPIServer(models.CORSConfig{},
		api.WithManager(manager),
		api.WithBroker(broker),
		api.WithAgents(directory),
		api.WithLogger(log),
	).Handler())

	t.Cleanup(func() {
		broker.Close()
		srv.Close()
	})

	return &registrarEnv{url: srv.URL, registry: reg, broker: broker, agents: directory}
}

func newClient(t *testing.T, env *registrarEnv, opts ...Option) *Client {
	t.Helper()

	c := New(env.url+"/", logger.NewTestLogger(), opts...)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func TestClientRegisterStartsHeartbeats(t *testing.T) {
	env := newRegistrar(t)

	var healthy atomic.Bool

	c := newClient(t, env,
		WithHeartbeatInterval(10*time.Millisecond),
		WithHeartbeatStatus(func() map[string]interface{} {
			return map[string]interface{}{"healthy": healthy.Load()}
		}))

	resp, err := c.Register(context.Background(), &models.RegisterRequest{
		ComponentID:   "worker-1",
		Name:          "worker",
		ComponentType: "worker",
		Endpoint:      "http://worker:8080",
		Capabilities:  []string{"jobs"},
	})
	require.NoError(t, err)
	assert.Equal(t, "worker-1", resp.ComponentID)
	assert.Equal(t, "worker-1", c.ComponentID())

	require.Eventually(t, func() bool {
		rec, err := env.registry.Get("worker-1")

		return err == nil && !rec.Healthy
	}, 2*time.Second, 5*time.Millisecond)

	healthy.Store(true)

	require.Eventually(t, func() bool {
		rec, err := env.registry.Get("worker-1")

		return err == nil && rec.Healthy
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClientDiscovery(t *testing.T) {
	env := newRegistrar(t)

	cache := newClient(t, env, WithHeartbeatInterval(time.Hour))
	_, err := cache.Register(context.Background(), &models.RegisterRequest{
		ComponentID:   "cache-1",
		Name:          "cache",
		ComponentType: "cache",
		Endpoint:      "http://cache:9000",
		Capabilities:  []string{"kv"},
	})
	require.NoError(t, err)

	db := newClient(t, env, WithHeartbeatInterval(time.Hour))
	_, err = db.Register(context.Background(), &models.RegisterRequest{
		ComponentID:   "db-1",
		Name:          "db",
		ComponentType: "database",
		Endpoint:      "postgres://db:5432",
		Capabilities:  []string{"sql"},
	})
	require.NoError(t, err)

	views, err := cache.FindServices(context.Background(), registry.Filter{Capability: "sql"})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "postgres://db:5432", views[0].Endpoint)

	none, err := cache.FindServices(context.Background(), registry.Filter{Capability: "gpu"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	view, err := cache.GetService(context.Background(), "db-1")
	require.NoError(t, err)
	assert.Equal(t, "database", view.ComponentType)

	_, err = cache.GetService(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	health, err := cache.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, health.Components)
}

func TestClientFindAgents(t *testing.T) {
	env := newRegistrar(t)

	for _, card := range []models.AgentCard{
		{
			AgentID:      "planner",
			Name:         "Planner",
			Version:      "1.0.0",
			Capabilities: map[string]interface{}{"reasoning": []interface{}{"plan"}},
			Endpoint:     "http://planner:8300",
		},
		{
			AgentID:      "scout",
			Name:         "Scout",
			Version:      "1.0.0",
			Capabilities: map[string]interface{}{"tools": map[string]interface{}{"web": []interface{}{"search"}}},
			Endpoint:     "http://scout:8300",
		},
	} {
		_, err := env.agents.Register(context.Background(), &card)
		require.NoError(t, err)
	}

	c := newClient(t, env)

	found, err := c.FindAgents(context.Background(), "search", false)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "scout", found[0].AgentID)
	assert.Equal(t, "http://scout:8300", found[0].Card.Endpoint)

	all, err := c.FindAgents(context.Background(), "", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := c.FindAgents(context.Background(), "teleport", false)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestClientUnregister(t *testing.T) {
	env := newRegistrar(t)
	c := newClient(t, env, WithHeartbeatInterval(5*time.Millisecond))

	require.ErrorIs(t, c.Unregister(context.Background()), ErrNotRegistered)
	require.ErrorIs(t, c.Heartbeat(context.Background()), ErrNotRegistered)

	_, err := c.Register(context.Background(), &models.RegisterRequest{
		ComponentID:   "svc-1",
		Name:          "svc",
		ComponentType: "api",
		Endpoint:      "http://svc",
	})
	require.NoError(t, err)

	require.NoError(t, c.Heartbeat(context.Background()))
	require.NoError(t, c.Unregister(context.Background()))

	assert.Empty(t, c.ComponentID())

	_, err = env.registry.Get("svc-1")
	require.ErrorIs(t, err, registry.ErrNotFound)

	// no heartbeat may resurrect the record once unregister returned
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, env.registry.Len())
}

func TestClientRegisterValidationError(t *testing.T) {
	env := newRegistrar(t)
	c := newClient(t, env)

	_, err := c.Register(context.Background(), &models.RegisterRequest{Name: "x"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, c.ComponentID())
}

func TestClientReregistrationRevokesPreviousToken(t *testing.T) {
	env := newRegistrar(t)

	req := &models.RegisterRequest{
		ComponentID:   "svc-1",
		Name:          "svc",
		ComponentType: "api",
		Endpoint:      "http://svc",
	}

	first := newClient(t, env, WithHeartbeatInterval(time.Hour))
	_, err := first.Register(context.Background(), req)
	require.NoError(t, err)

	second := newClient(t, env, WithHeartbeatInterval(time.Hour))
	_, err = second.Register(context.Background(), req)
	require.NoError(t, err)

	err = first.Heartbeat(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	require.NoError(t, second.Heartbeat(context.Background()))
}

func TestClientAutoReregisterAfterExpiry(t *testing.T) {
	env := newRegistrar(t)

	c := newClient(t, env, WithHeartbeatInterval(10*time.Millisecond), WithAutoReregister())

	_, err := c.Register(context.Background(), &models.RegisterRequest{
		Name:          "svc",
		ComponentType: "api",
		Endpoint:      "http://svc",
	})
	require.NoError(t, err)

	id := c.ComponentID()
	require.NotEmpty(t, id)

	// swept by the registrar
	require.True(t, env.registry.Remove(id))

	require.Eventually(t, func() bool {
		_, err := env.registry.Get(id)

		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, id, c.ComponentID())
	require.NoError(t, c.Heartbeat(context.Background()))
}

func TestClientAutoReregisterAfterTokenRevoked(t *testing.T) {
	env := newRegistrar(t)

	req := &models.RegisterRequest{
		ComponentID:   "svc-1",
		Name:          "svc",
		ComponentType: "api",
		Endpoint:      "http://svc",
	}

	first := newClient(t, env, WithHeartbeatInterval(time.Hour), WithAutoReregister())
	_, err := first.Register(context.Background(), req)
	require.NoError(t, err)

	other := newClient(t, env, WithHeartbeatInterval(time.Hour))
	_, err = other.Register(context.Background(), req)
	require.NoError(t, err)

	require.NoError(t, first.Heartbeat(context.Background()))
	require.NoError(t, first.Heartbeat(context.Background()))
	require.ErrorIs(t, other.Heartbeat(context.Background()), ErrUnauthorized)
}

// flakyUnregister forwards to the registrar but answers unregister calls
// with 503 while failing is set.
func flakyUnregister(t *testing.T, env *registrarEnv, failing *atomic.Bool) string {
	t.Helper()

	target, err := url.Parse(env.url)
	require.NoError(t, err)

	proxy := httputil.NewSingleHostReverseProxy(target)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/unregister" && failing.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)

			return
		}

		proxy.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	return srv.URL
}

func TestClientFailedUnregisterResumesHeartbeats(t *testing.T) {
	env := newRegistrar(t)

	var failing atomic.Bool
	failing.Store(true)

	c := New(flakyUnregister(t, env, &failing), logger.NewTestLogger(), WithHeartbeatInterval(10*time.Millisecond))
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Register(context.Background(), &models.RegisterRequest{
		ComponentID:   "svc-1",
		Name:          "svc",
		ComponentType: "api",
		Endpoint:      "http://svc",
	})
	require.NoError(t, err)

	err = c.Unregister(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "svc-1", c.ComponentID())

	before, err := env.registry.Get("svc-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec, err := env.registry.Get("svc-1")

		return err == nil && rec.LastHeartbeat.After(before.LastHeartbeat)
	}, 2*time.Second, 5*time.Millisecond)

	failing.Store(false)

	require.NoError(t, c.Unregister(context.Background()))
	assert.Empty(t, c.ComponentID())
	assert.Equal(t, 0, env.registry.Len())
}

func TestClientUnregisterForgetsMissingRegistration(t *testing.T) {
	env := newRegistrar(t)
	c := newClient(t, env, WithHeartbeatInterval(time.Hour))

	_, err := c.Register(context.Background(), &models.RegisterRequest{
		ComponentID:   "svc-1",
		Name:          "svc",
		ComponentType: "api",
		Endpoint:      "http://svc",
	})
	require.NoError(t, err)

	require.True(t, env.registry.Remove("svc-1"))

	require.ErrorIs(t, c.Unregister(context.Background()), ErrNotFound)
	assert.Empty(t, c.ComponentID())
}

func TestClientWatchEvents(t *testing.T) {
	env := newRegistrar(t)
	c := newClient(t, env, WithHeartbeatInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *models.ComponentEvent, 4)
	watchErr := make(chan error, 1)

	go func() {
		watchErr <- c.WatchEvents(ctx, func(e *models.ComponentEvent) { received <- e })
	}()

	require.Eventually(t, func() bool { return env.broker.SubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := c.Register(context.Background(), &models.RegisterRequest{
		ComponentID:   "svc-1",
		Name:          "svc",
		ComponentType: "api",
		Endpoint:      "http://svc",
	})
	require.NoError(t, err)

	select {
	case e := <-received:
		assert.Equal(t, models.EventRegistered, e.Type)
		assert.Equal(t, "svc-1", e.ComponentID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()

	select {
	case err := <-watchErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WatchEvents did not return after cancel")
	}
}

func TestAPIErrorIs(t *testing.T) {
	tests := []struct {
		status int
		target error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadRequest, ErrInvalidRequest},
	}

	for _, tt := range tests {
		err := error(&APIError{StatusCode: tt.status, Message: "x"})
		assert.True(t, errors.Is(err, tt.target), "status %d", tt.status)
	}

	assert.False(t, errors.Is(&APIError{StatusCode: http.StatusInternalServerError}, ErrNotFound))
}

func TestDecodeErrorFallsBackToBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, logger.NewTestLogger()).Health(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream exploded", apiErr.Message)
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://host:8001", websocketURL("http://host:8001"))
	assert.Equal(t, "wss://host", websocketURL("https://host"))
	assert.Equal(t, "ws://x", websocketURL("ws://x"))
}

func TestClientWithCredentials(t *testing.T) {
	env := newRegistrar(t)

	owner := newClient(t, env, WithHeartbeatInterval(time.Hour))
	resp, err := owner.Register(context.Background(), &models.RegisterRequest{
		ComponentID:   "svc-1",
		Name:          "svc",
		ComponentType: "api",
		Endpoint:      "http://svc",
	})
	require.NoError(t, err)

	wrong := newClient(t, env, WithCredentials("svc-1", "not-a-token"))
	require.ErrorIs(t, wrong.Unregister(context.Background()), ErrUnauthorized)

	other := newClient(t, env, WithCredentials("svc-1", resp.Token))
	require.NoError(t, other.Heartbeat(context.Background()))
	require.NoError(t, other.Unregister(context.Background()))

	assert.Equal(t, 0, env.registry.Len())
}
