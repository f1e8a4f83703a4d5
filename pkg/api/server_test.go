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


package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/registrar/pkg/agents"
	"github.com/carverauto/registrar/pkg/events"
	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
	"github.com/carverauto/registrar/pkg/registration"
	"github.com/carverauto/registrar/pkg/registry"
	"github.com/carverauto/registrar/pkg/token"
)

type testEnv struct {
	server *httptest.Server
	issuer *token.Issuer
	broker *events.Broker[*models.ComponentEvent]
}

func newTestEnv(t *testing.T, opts ...func(*APIServer)) *testEnv {
	t.Helper()

	log := logger.NewTestLogger()

	issuer, err := token.NewIssuer([]byte("api-secret"), time.Hour)
	require.NoError(t, err)

	broker := events.NewBroker[*models.ComponentEvent](16)
	manager := registration.NewManager(registry.NewServiceRegistry(log), issuer, log,
		registration.WithPublisher(events.NewBrokerPublisher(broker)))

	opts = append([]func(*APIServer){
		WithManager(manager),
		WithBroker(broker),
		WithAgents(agents.NewDirectory(manager, log)),
		WithLogger(log),
		WithVersion("test"),
	}, opts...)

	srv := httptest.NewServer(NewAPIServer(models.CORSConfig{AllowedOrigins: []string{"*"}}, opts...).Handler())
	t.Cleanup(func() {
		broker.Close()
		srv.Close()
	})

	return &testEnv{server: srv, issuer: issuer, broker: broker}
}

func (e *testEnv) post(t *testing.T, path, tok string, body interface{}) *http.Response {
	t.Helper()

	var payload []byte

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	if tok != "" {
		req.Header.Set(models.AuthTokenHeader, tok)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()

	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func (e *testEnv) register(t *testing.T, req *models.RegisterRequest) models.RegisterResponse {
	t.Helper()

	resp := e.post(t, "/api/register", "", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	return decode[models.RegisterResponse](t, resp)
}

func cacheRequest(id string) *models.RegisterRequest {
	return &models.RegisterRequest{
		ComponentID:   id,
		Name:          "cache",
		Version:       "1.0.0",
		ComponentType: "cache",
		Endpoint:      "http://cache:9000",
		Capabilities:  []string{"kv", "ttl"},
	}
}

func TestRegisterEndpoint(t *testing.T) {
	env := newTestEnv(t)

	reg := env.register(t, cacheRequest("cache-1"))
	assert.True(t, reg.Success)
	assert.Equal(t, "cache-1", reg.ComponentID)
	assert.NotEmpty(t, reg.Token)

	again := env.register(t, cacheRequest("cache-1"))
	assert.Equal(t, "Component re-registered", again.Message)
	assert.NotEqual(t, reg.Token, again.Token)
}

func TestRegisterAcceptsTypeAlias(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/register", "", map[string]interface{}{
		"name":     "db",
		"type":     "database",
		"endpoint": "postgres://db:5432",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reg := decode[models.RegisterResponse](t, resp)
	assert.True(t, strings.HasPrefix(reg.ComponentID, "db_database_"), reg.ComponentID)
}

func TestRegisterRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "missing name", body: map[string]string{"component_type": "cache", "endpoint": "x"}},
		{name: "missing endpoint", body: map[string]string{"name": "a", "component_type": "cache"}},
		{name: "not json", body: "not-an-object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.post(t, "/api/register", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			errResp := decode[models.ErrorResponse](t, resp)
			assert.Equal(t, http.StatusBadRequest, errResp.Status)
			assert.NotEmpty(t, errResp.Message)
		})
	}
}

func TestHeartbeatEndpoint(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, cacheRequest("cache-1"))

	resp := env.post(t, "/api/heartbeat", reg.Token, models.HeartbeatRequest{
		ComponentID: "cache-1",
		Status:      map[string]interface{}{"healthy": false},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	hb := decode[models.HeartbeatResponse](t, resp)
	assert.True(t, hb.Success)
	assert.InDelta(t, models.UnixSeconds(time.Now()), hb.Timestamp, 5)

	view := decode[models.ServiceView](t, env.get(t, "/api/services/cache-1"))
	assert.False(t, view.Healthy)
}

func TestHeartbeatErrors(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, cacheRequest("cache-1"))
	other := env.register(t, cacheRequest("cache-2"))

	ghostToken, _, err := env.issuer.Issue("ghost")
	require.NoError(t, err)

	tests := []struct {
		name   string
		id     string
		tok    string
		status int
	}{
		{name: "missing token", id: "cache-1", status: http.StatusUnauthorized},
		{name: "garbage token", id: "cache-1", tok: "abc.def.ghi", status: http.StatusUnauthorized},
		{name: "token of another component", id: "cache-1", tok: other.Token, status: http.StatusUnauthorized},
		{name: "unknown component", id: "ghost", tok: ghostToken, status: http.StatusNotFound},
		{name: "missing id", tok: reg.Token, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.post(t, "/api/heartbeat", tt.tok, models.HeartbeatRequest{ComponentID: tt.id})
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestUnregisterEndpoint(t *testing.T) {
	env := newTestEnv(t)

	a := env.register(t, cacheRequest("cache-1"))
	b := env.register(t, cacheRequest("cache-2"))

	resp := env.post(t, "/api/unregister?component_id=cache-1", a.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[models.UnregisterResponse](t, resp).Success)

	resp = env.post(t, "/api/unregister", b.Token, models.UnregisterRequest{ComponentID: "cache-2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.post(t, "/api/unregister?component_id=cache-1", a.Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.post(t, "/api/unregister", a.Token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/services/cache-1").StatusCode)
}

func TestQueryEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.register(t, cacheRequest("cache-1"))

	db := env.register(t, &models.RegisterRequest{
		ComponentID:   "db-1",
		Name:          "db",
		ComponentType: "database",
		Endpoint:      "postgres://db:5432",
		Capabilities:  []string{"sql"},
	})

	views := decode[[]models.ServiceView](t, env.post(t, "/api/query", "", models.ServiceQuery{Capability: "kv"}))
	require.Len(t, views, 1)
	assert.Equal(t, "cache-1", views[0].ComponentID)
	assert.Equal(t, []string{"kv", "ttl"}, views[0].Capabilities)

	all := decode[[]models.ServiceView](t, env.post(t, "/api/query", "", nil))
	assert.Len(t, all, 2)

	resp := env.post(t, "/api/heartbeat", db.Token, models.HeartbeatRequest{
		ComponentID: "db-1",
		Status:      map[string]interface{}{"healthy": false},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	healthy := decode[[]models.ServiceView](t, env.post(t, "/api/query", "", models.ServiceQuery{HealthyOnly: true}))
	require.Len(t, healthy, 1)
	assert.Equal(t, "cache-1", healthy[0].ComponentID)

	resp = env.post(t, "/api/query", "", models.ServiceQuery{Capability: "nope"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, "[]", string(raw))
}

func TestGetServiceEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, cacheRequest("cache-1"))

	resp := env.get(t, "/api/services/cache-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	view := decode[models.ServiceView](t, resp)
	assert.Equal(t, "http://cache:9000", view.Endpoint)
	assert.True(t, view.Healthy)
	assert.NotNil(t, view.Metadata)

	missing := env.get(t, "/api/services/nope")
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.Equal(t, http.StatusNotFound, decode[models.ErrorResponse](t, missing).Status)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, cacheRequest("cache-1"))

	health := decode[models.HealthResponse](t, env.get(t, "/api/health"))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, 1, health.Components)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/events"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return env.broker.SubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	reg := env.register(t, cacheRequest("cache-1"))
	require.Equal(t, http.StatusOK, env.post(t, "/api/unregister?component_id=cache-1", reg.Token, nil).StatusCode)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first, second models.ComponentEvent

	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))

	assert.Equal(t, models.EventRegistered, first.Type)
	assert.Equal(t, "cache-1", first.ComponentID)
	assert.Equal(t, models.EventUnregistered, second.Type)
}

func TestEventStreamRejectsOrigin(t *testing.T) {
	log := logger.NewTestLogger()

	s := NewAPIServer(models.CORSConfig{AllowedOrigins: []string{"http://ui.local"}}, WithLogger(log))

	req := httptest.NewRequest(http.MethodGet, "/api/events", http.NoBody)
	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, s.checkWebSocketOrigin(req))

	req.Header.Set("Origin", "http://ui.local")
	assert.True(t, s.checkWebSocketOrigin(req))

	req.Header.Del("Origin")
	assert.True(t, s.checkWebSocketOrigin(req))
}

type fakeHistory struct {
	events []models.ComponentEvent
	err    error
	limit  int
}

func (f *fakeHistory) History(_ context.Context, _ string, limit int) ([]models.ComponentEvent, error) {
	f.limit = limit

	return f.events, f.err
}

func TestEventHistoryEndpoint(t *testing.T) {
	history := &fakeHistory{events: []models.ComponentEvent{{ID: "e1", Type: models.EventRegistered, ComponentID: "cache-1"}}}
	env := newTestEnv(t, WithHistory(history))

	resp := env.get(t, "/api/events/history?component_id=cache-1&limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decode[[]models.ComponentEvent](t, resp)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, 5, history.limit)

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/events/history").StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/events/history?component_id=x&limit=-1").StatusCode)

	history.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, env.get(t, "/api/events/history?component_id=x").StatusCode)
}

func TestEventHistoryDisabled(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotImplemented, env.get(t, "/api/events/history?component_id=x").StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&registration.ValidationError{Field: "name", Reason: "is required"}))
	assert.Equal(t, http.StatusUnauthorized, statusFor(token.ErrExpired))
	assert.Equal(t, http.StatusNotFound, statusFor(registry.ErrNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestShutdownBeforeStart(t *testing.T) {
	s := NewAPIServer(models.CORSConfig{})
	assert.ErrorIs(t, s.Shutdown(context.Background()), ErrServerNotStarted)
}
