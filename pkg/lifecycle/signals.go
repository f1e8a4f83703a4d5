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

package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/registrar/pkg/logger"
)

// DefaultShutdownTimeout bounds how long graceful shutdown may take.
const DefaultShutdownTimeout = 10 * time.Second

// Service is a long-running unit driven by RunService.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// RunService starts svc and blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives, then stops it within DefaultShutdownTimeout.
func RunService(ctx context.Context, svc Service, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)

	go func() {
		errCh <- svc.Start(ctx)
	}()

	var runErr error

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case runErr = <-errCh:
		if runErr != nil {
			log.Error().Err(runErr).Msg("Service exited with error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")

		return errors.Join(runErr, err)
	}

	log.Info().Msg("Service stopped")

	return runErr
}
