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

// Package client is the component side of registrar: it registers, keeps the
// registration alive with heartbeats and queries for other components.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
	"github.com/carverauto/registrar/pkg/registry"
)

const defaultRequestTimeout = 10 * time.Second

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("component not registered")
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotRegistered  = errors.New("client holds no registration")
)

// APIError is a non-2xx response from the registrar.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registrar returned %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrInvalidRequest:
		return e.StatusCode == http.StatusBadRequest
	default:
		return false
	}
}

// Client talks to a registrar over HTTP.
type Client struct {
	baseURL     string
	http        *http.Client
	interval    time.Duration
	stopTimeout time.Duration
	status      StatusFunc
	reregister  bool
	logger      logger.Logger

	mu          sync.Mutex
	componentID string
	token       string
	request     *models.RegisterRequest
	loop        *HeartbeatLoop
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithHeartbeatInterval sets the interval of the heartbeat loop.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) {
		c.interval = d
	}
}

// WithStopTimeout bounds how long Unregister and Close wait for the loop.
func WithStopTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.stopTimeout = d
	}
}

// WithHeartbeatStatus sets the status payload sent with each heartbeat.
func WithHeartbeatStatus(fn StatusFunc) Option {
	return func(c *Client) {
		c.status = fn
	}
}

// WithAutoReregister makes a heartbeat rejected as unauthorized or unknown
// register the component again under the same id and resume with the new
// token.
func WithAutoReregister() Option {
	return func(c *Client) {
		c.reregister = true
	}
}

// WithCredentials attaches an existing registration without starting a
// heartbeat loop, e.g. to unregister a component registered elsewhere.
func WithCredentials(componentID, token string) Option {
	return func(c *Client) {
		c.componentID = componentID
		c.token = token
	}
}

// New creates a client for the registrar at baseURL.
func New(baseURL string, log logger.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		http:        &http.Client{Timeout: defaultRequestTimeout},
		interval:    DefaultHeartbeatInterval,
		stopTimeout: DefaultStopTimeout,
		logger:      log,
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// ComponentID returns the id of the current registration, if any.
func (c *Client) ComponentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.componentID
}

// Register registers req and starts the heartbeat loop. A previous
// registration held by this client is replaced.
func (c *Client) Register(ctx context.Context, req *models.RegisterRequest) (*models.RegisterResponse, error) {
	var resp models.RegisterResponse

	if err := c.do(ctx, http.MethodPost, "/api/register", "", req, &resp); err != nil {
		return nil, err
	}

	stored := *req
	stored.ComponentID = resp.ComponentID

	c.mu.Lock()
	previous := c.loop
	c.componentID = resp.ComponentID
	c.token = resp.Token
	c.request = &stored
	c.loop = c.newLoop(resp.ComponentID)
	loop := c.loop
	c.mu.Unlock()

	if previous != nil {
		_ = previous.Stop(c.stopTimeout)
	}

	if err := loop.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("component_id", resp.ComponentID).
		Dur("heartbeat_interval", c.interval).
		Msg("Registered with registrar")

	return &resp, nil
}

// Heartbeat sends a single heartbeat for the current registration.
func (c *Client) Heartbeat(ctx context.Context) error {
	id := c.ComponentID()
	if id == "" {
		return ErrNotRegistered
	}

	var status map[string]interface{}
	if c.status != nil {
		status = c.status()
	}

	return c.SendHeartbeat(ctx, id, status)
}

// SendHeartbeat implements HeartbeatSender.
func (c *Client) SendHeartbeat(ctx context.Context, componentID string, status map[string]interface{}) error {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()

	req := models.HeartbeatRequest{ComponentID: componentID, Status: status}

	var resp models.HeartbeatResponse

	err := c.do(ctx, http.MethodPost, "/api/heartbeat", tok, &req, &resp)
	if err == nil || !c.reregister {
		return err
	}

	if !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrNotFound) {
		return err
	}

	c.logger.Info().Err(err).Str("component_id", componentID).Msg("Registration lost, registering again")

	return c.refresh(ctx, componentID)
}

// refresh registers componentID again with the last request and swaps in the
// new token. The running heartbeat loop is kept.
func (c *Client) refresh(ctx context.Context, componentID string) error {
	c.mu.Lock()
	stored := c.request
	current := c.componentID
	c.mu.Unlock()

	if stored == nil || current != componentID {
		return ErrNotRegistered
	}

	var resp models.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/api/register", "", stored, &resp); err != nil {
		return fmt.Errorf("re-registration failed: %w", err)
	}

	c.mu.Lock()
	if c.componentID == componentID {
		c.token = resp.Token
	}
	c.mu.Unlock()

	return nil
}

func (c *Client) newLoop(componentID string) *HeartbeatLoop {
	var loopOpts []HeartbeatOption
	if c.status != nil {
		loopOpts = append(loopOpts, WithStatusFunc(c.status))
	}

	return NewHeartbeatLoop(c, componentID, c.interval, c.logger, loopOpts...)
}

// Unregister stops the heartbeat loop and removes the registration. If the
// registrar cannot be reached the registration is kept and heartbeats resume.
func (c *Client) Unregister(ctx context.Context) error {
	c.mu.Lock()
	id, tok, loop := c.componentID, c.token, c.loop
	c.mu.Unlock()

	if id == "" {
		return ErrNotRegistered
	}

	if loop != nil {
		if err := loop.Stop(c.stopTimeout); err != nil {
			c.logger.Warn().Err(err).Str("component_id", id).Msg("Unregistering with heartbeat still in flight")
		}
	}

	path := "/api/unregister?component_id=" + url.QueryEscape(id)

	var resp models.UnregisterResponse
	if err := c.do(ctx, http.MethodPost, path, tok, nil, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.clear(id)
		} else if loop != nil {
			c.resume(ctx, id)
		}

		return err
	}

	c.clear(id)

	c.logger.Info().Str("component_id", id).Msg("Unregistered from registrar")

	return nil
}

func (c *Client) clear(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.componentID == id {
		c.componentID, c.token, c.request, c.loop = "", "", nil, nil
	}
}

// resume restarts heartbeats after a failed Unregister.
func (c *Client) resume(ctx context.Context, id string) {
	c.mu.Lock()
	if c.componentID != id {
		c.mu.Unlock()

		return
	}

	c.loop = c.newLoop(id)
	loop := c.loop
	c.mu.Unlock()

	if err := loop.Start(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn().Err(err).Str("component_id", id).Msg("Failed to resume heartbeats")

		return
	}

	c.logger.Warn().Str("component_id", id).Msg("Unregister failed, heartbeats resumed")
}

// FindServices returns the components matching filter.
func (c *Client) FindServices(ctx context.Context, filter registry.Filter) ([]models.ServiceView, error) {
	q := filter.Query()

	var views []models.ServiceView
	if err := c.do(ctx, http.MethodPost, "/api/query", "", &q, &views); err != nil {
		return nil, err
	}

	if views == nil {
		views = []models.ServiceView{}
	}

	return views, nil
}

// GetService returns a single component.
func (c *Client) GetService(ctx context.Context, componentID string) (*models.ServiceView, error) {
	var view models.ServiceView
	if err := c.do(ctx, http.MethodGet, "/api/services/"+url.PathEscape(componentID), "", nil, &view); err != nil {
		return nil, err
	}

	return &view, nil
}

// FindAgents lists the registered agents advertising capability; an empty
// capability lists all of them.
func (c *Client) FindAgents(ctx context.Context, capability string, healthyOnly bool) ([]models.AgentView, error) {
	q := url.Values{}

	if capability != "" {
		q.Set("capability", capability)
	}

	if healthyOnly {
		q.Set("healthy_only", "true")
	}

	path := "/api/agents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var views []models.AgentView
	if err := c.do(ctx, http.MethodGet, path, "", nil, &views); err != nil {
		return nil, err
	}

	if views == nil {
		views = []models.AgentView{}
	}

	return views, nil
}

// Health returns the registrar's own health report.
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var health models.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", "", nil, &health); err != nil {
		return nil, err
	}

	return &health, nil
}

// Close stops the heartbeat loop without unregistering.
func (c *Client) Close() error {
	c.mu.Lock()
	loop := c.loop
	c.mu.Unlock()

	if loop == nil {
		return nil
	}

	return loop.Stop(c.stopTimeout)
}

func (c *Client) do(ctx context.Context, method, path, tok string, body, out interface{}) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if tok != "" {
		req.Header.Set(models.AuthTokenHeader, tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body models.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		apiErr.Message = body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	return apiErr
}
