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


// Package app boots the registrar service.
package app

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/carverauto/registrar/pkg/config"
	"github.com/carverauto/registrar/pkg/lifecycle"
	"github.com/carverauto/registrar/pkg/logger"
	"github.com/carverauto/registrar/pkg/server"
	"github.com/carverauto/registrar/pkg/version"
)

const secretEnv = "REGISTRAR_SECRET_KEY"

// Options contains runtime configuration derived from CLI flags.
type Options struct {
	ConfigPath string
}

// LoadConfig reads the service configuration over the defaults.
// REGISTRAR_SECRET_KEY supplies the secret unless the config sets one, and a
// missing config file is tolerated.
func LoadConfig(ctx context.Context, path string) (*server.Config, error) {
	cfg := server.DefaultConfig()
	cfg.SecretKey = os.Getenv(secretEnv)

	err := config.NewConfig(nil).LoadAndValidate(ctx, path, cfg)
	if errors.Is(err, fs.ErrNotExist) {
		err = cfg.Validate()
	}

	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Run boots the registrar and blocks until it is signalled to stop.
func Run(ctx context.Context, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := LoadConfig(ctx, opts.ConfigPath)
	if err != nil {
		return err
	}

	mainLogger, err := lifecycle.CreateComponentLogger("registrar", cfg.Logging)
	if err != nil {
		return err
	}

	tp, err := logger.InitializeTracing(ctx, logger.TracingConfig{
		ServiceName:    "registrar",
		ServiceVersion: version.GetVersion(),
		Debug:          cfg.Logging.Debug,
		Logger:         mainLogger,
		OTel:           &cfg.Logging.OTel,
	})
	if err != nil {
		return err
	}

	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			mainLogger.Error().Err(err).Msg("Error shutting down tracer provider")
		}
	}()

	if safe, err := config.Sanitize(cfg); err == nil {
		mainLogger.Debug().RawJSON("config", safe).Msg("Loaded configuration")
	}

	mainLogger.Info().
		Str("version", version.GetFullVersion()).
		Str("listen_addr", cfg.ListenAddr).
		Msg("Starting registrar")

	srv, err := server.NewServer(ctx, cfg, mainLogger)
	if err != nil {
		return err
	}

	return lifecycle.RunService(ctx, srv, mainLogger)
}
