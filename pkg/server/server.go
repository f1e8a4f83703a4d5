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


// Package server assembles the registrar service: token issuer, registry,
// registration manager, event fan-out and the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/carverauto/registrar/pkg/agents"
	"github.com/carverauto/registrar/pkg/api"
	"github.com/carverauto/registrar/pkg/audit"
	"github.com/carverauto/registrar/pkg/client"
	"github.com/carverauto/registrar/pkg/config"
	"github.com/carverauto/registrar/pkg/events"
	"github.com/carverauto/registrar/pkg/lifecycle"
	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/models"
	"github.com/carverauto/registrar/pkg/natsutil"
	"github.com/carverauto/registrar/pkg/registration"
	"github.com/carverauto/registrar/pkg/registry"
	"github.com/carverauto/registrar/pkg/token"
	"github.com/carverauto/registrar/pkg/version"
)

// SelfComponentID is the id the registrar registers itself under.
const SelfComponentID = "registrar"

var selfCapabilities = []string{"registration", "service_discovery", "events"}

// Server is the registrar service. It implements lifecycle.Service.
type Server struct {
	config   *Config
	registry *registry.ServiceRegistry
	manager  *registration.Manager
	broker   *events.Broker[*models.ComponentEvent]
	monitor  *registry.ExpiryMonitor
	api      *api.APIServer
	nc       *nats.Conn
	pool     *pgxpool.Pool
	logger   logger.Logger

	mu       sync.Mutex
	listener net.Listener
	self     *client.HeartbeatLoop
	stopOnce sync.Once
}

var _ lifecycle.Service = (*Server)(nil)

// NewServer wires every component from config. Connections to NATS and
// Postgres are opened here so misconfiguration fails before serving.
func NewServer(ctx context.Context, cfg *Config, log logger.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	issuer, err := token.NewIssuer([]byte(cfg.SecretKey), cfg.TokenTTL.Std())
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	s := &Server{
		config:   cfg,
		registry: registry.NewServiceRegistry(lifecycle.Wrap(log.WithComponent("registry"))),
		broker:   events.NewBroker[*models.ComponentEvent](events.DefaultBufferSize),
		logger:   log,
	}

	publishers := events.MultiPublisher{events.NewBrokerPublisher(s.broker)}
	apiOptions := []func(*api.APIServer){
		api.WithBroker(s.broker),
		api.WithLogger(lifecycle.Wrap(log.WithComponent("api"))),
		api.WithVersion(version.GetVersion()),
	}

	if cfg.NATS.Enabled() {
		publisher, err := s.connectNATS(ctx)
		if err != nil {
			s.closeConnections()

			return nil, err
		}

		publishers = append(publishers, publisher)
	}

	if cfg.Audit.Enabled() {
		store, err := s.openAudit(ctx)
		if err != nil {
			s.closeConnections()

			return nil, err
		}

		publishers = append(publishers, store)
		apiOptions = append(apiOptions, api.WithHistory(store))
	}

	s.manager = registration.NewManager(s.registry, issuer,
		lifecycle.Wrap(log.WithComponent("registration")),
		registration.WithPublisher(publishers))

	s.monitor = registry.NewExpiryMonitor(s.registry,
		cfg.HeartbeatTimeout.Std(), cfg.SweepInterval.Std(),
		lifecycle.Wrap(log.WithComponent("expiry")),
		registry.WithOnExpired(s.manager.HandleExpired))

	directory := agents.NewDirectory(s.manager, lifecycle.Wrap(log.WithComponent("agents")))

	s.api = api.NewAPIServer(cfg.CORS, append(apiOptions,
		api.WithManager(s.manager),
		api.WithAgents(directory))...)

	return s, nil
}

func (s *Server) connectNATS(ctx context.Context) (*natsutil.EventPublisher, error) {
	nc, err := natsutil.Connect(&s.config.NATS, s.logger)
	if err != nil {
		return nil, err
	}

	s.nc = nc

	publisher, err := natsutil.CreateEventPublisher(ctx, nc, &s.config.NATS, s.logger)
	if err != nil {
		return nil, err
	}

	return publisher, nil
}

func (s *Server) openAudit(ctx context.Context) (*audit.Store, error) {
	pool, err := audit.NewPool(ctx, &s.config.Audit, s.logger)
	if err != nil {
		return nil, err
	}

	s.pool = pool

	store := audit.NewStore(pool, s.config.Audit.Table, lifecycle.Wrap(s.logger.WithComponent("audit")))
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// Manager exposes the registration manager.
func (s *Server) Manager() *registration.Manager {
	return s.manager
}

// Addr returns the address the API listens on, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Start serves the API and blocks until ctx is done or serving fails.
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.monitor.Start(ctx)

	if s.config.SelfRegister {
		if err := s.registerSelf(ctx, l.Addr()); err != nil {
			s.logger.Warn().Err(err).Msg("Self registration failed")
		}
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- s.api.Serve(l)
	}()

	s.logger.Info().
		Str("listen_addr", l.Addr().String()).
		Bool("nats", s.nc != nil).
		Bool("audit", s.pool != nil).
		Dur("heartbeat_timeout", s.config.HeartbeatTimeout.Std()).
		Msg("Registrar started")

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop shuts the service down. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	s.stopOnce.Do(func() {
		errs = s.shutdown(ctx)
	})

	return errors.Join(errs...)
}

func (s *Server) shutdown(ctx context.Context) []error {
	var errs []error

	s.mu.Lock()
	self, l := s.self, s.listener
	s.mu.Unlock()

	if self != nil {
		if err := self.Stop(client.DefaultStopTimeout); err != nil {
			s.logger.Warn().Err(err).Msg("Self heartbeat did not stop in time")
		}
	}

	if err := s.api.Shutdown(ctx); err != nil {
		if !errors.Is(err, api.ErrServerNotStarted) {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		}

		if l != nil {
			_ = l.Close()
		}
	}

	s.monitor.Stop()
	s.broker.Close()
	s.closeConnections()

	return errs
}

func (s *Server) closeConnections() {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to drain NATS connection")
		}
	}

	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Server) registerSelf(ctx context.Context, addr net.Addr) error {
	req := &models.RegisterRequest{
		ComponentID:   SelfComponentID,
		Name:          "registrar",
		Version:       version.GetVersion(),
		ComponentType: "registrar",
		Endpoint:      s.advertiseEndpoint(addr),
		Capabilities:  selfCapabilities,
		Metadata:      hostMetadata(ctx, s.logger),
	}

	req.Metadata["config"] = config.SafeMetadata(s.config)

	sender := &localSender{manager: s.manager, request: req, logger: s.logger}
	if err := sender.register(ctx); err != nil {
		return err
	}

	loop := client.NewHeartbeatLoop(sender, SelfComponentID, s.config.selfHeartbeatInterval(), s.logger)
	if err := loop.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.self = loop
	s.mu.Unlock()

	return nil
}

func (s *Server) advertiseEndpoint(addr net.Addr) string {
	if s.config.AdvertiseEndpoint != "" {
		return s.config.AdvertiseEndpoint
	}

	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String()
	}

	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"

		if name, err := os.Hostname(); err == nil && name != "" {
			host = name
		}
	}

	return "http://" + net.JoinHostPort(host, port)
}
