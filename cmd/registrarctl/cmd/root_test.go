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


package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/registrar/pkg/agents"
	"github.com/carverauto/registrar/pkg/api"
	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
	"github.com/carverauto/registrar/pkg/registration"
	"github.com/carverauto/registrar/pkg/registry"
	"github.com/carverauto/registrar/pkg/token"
)

func newTestRegistrar(t *testing.T) string {
	t.Helper()

	url, _ := newTestRegistrarWithAgents(t)

	return url
}

func newTestRegistrarWithAgents(t *testing.T) (string, *agents.Directory) {
	t.Helper()

	log := logger.NewTestLogger()

	issuer, err := token.NewIssuer([]byte("registrarctl-secret"), time.Hour)
	require.NoError(t, err)

	manager := registration.NewManager(registry.NewServiceRegistry(log), issuer, log)
	directory := agents.NewDirectory(manager, log)

	srv := httptest.NewServer(api.NewAPIServer(models.CORSConfig{},
		api.WithManager(manager), api.WithAgents(directory), api.WithLogger(log)).Handler())
	t.Cleanup(srv.Close)

	return srv.URL, directory
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())

	return out.String(), err
}

func TestRegisterQueryUnregister(t *testing.T) {
	server := newTestRegistrar(t)

	out, err := run(t, "--server", server, "register",
		"--id", "cache-1", "--name", "cache", "--type", "kv",
		"--endpoint", "http://cache:9000", "-c", "kv", "-m", "region=eu")
	require.NoError(t, err)

	var reg models.RegisterResponse
	require.NoError(t, json.Unmarshal([]byte(out), &reg))
	assert.Equal(t, "cache-1", reg.ComponentID)
	require.NotEmpty(t, reg.Token)

	out, err = run(t, "--server", server, "query", "--capability", "kv")
	require.NoError(t, err)

	var views []models.ServiceView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "eu", views[0].Metadata["region"])

	out, err = run(t, "--server", server, "heartbeat", "--id", "cache-1", "--token", reg.Token, "--healthy=false")
	require.NoError(t, err)
	assert.Contains(t, out, "heartbeat recorded")

	out, err = run(t, "--server", server, "get", "cache-1")
	require.NoError(t, err)

	var view models.ServiceView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.False(t, view.Healthy)

	_, err = run(t, "--server", server, "unregister", "--id", "cache-1", "--token", "bogus")
	require.Error(t, err)

	out, err = run(t, "--server", server, "unregister", "--id", "cache-1", "--token", reg.Token)
	require.NoError(t, err)
	assert.Contains(t, out, "unregistered cache-1")

	out, err = run(t, "--server", server, "health")
	require.NoError(t, err)

	var health models.HealthResponse
	require.NoError(t, json.Unmarshal([]byte(out), &health))
	assert.Equal(t, 0, health.Components)
}

func TestAgentsCommand(t *testing.T) {
	server, directory := newTestRegistrarWithAgents(t)

	_, err := directory.Register(context.Background(), &models.AgentCard{
		AgentID:      "planner",
		Name:         "Planner",
		Version:      "1.0.0",
		Capabilities: map[string]interface{}{"reasoning": []interface{}{"plan"}},
		Endpoint:     "http://planner:8300",
	})
	require.NoError(t, err)

	out, err := run(t, "--server", server, "agents", "--capability", "plan")
	require.NoError(t, err)

	var found []models.AgentView
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	require.Len(t, found, 1)
	assert.Equal(t, "a2a.agent.planner", found[0].ComponentID)

	out, err = run(t, "--server", server, "agents", "--capability", "teleport")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestServerFromEnvironment(t *testing.T) {
	t.Setenv("REGISTRAR_SERVER", newTestRegistrar(t))

	out, err := run(t, "query")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestRegisterRequiresFlags(t *testing.T) {
	_, err := run(t, "register", "--name", "x")
	require.Error(t, err)
}

func TestParseMetadata(t *testing.T) {
	md, err := parseMetadata([]string{"a=1", "b=x=y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": "1", "b": "x=y"}, md)

	_, err = parseMetadata([]string{"novalue"})
	require.ErrorIs(t, err, errBadMetadata)

	md, err = parseMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, md)
}
