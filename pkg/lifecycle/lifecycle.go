/*
 * Copyright 2025 Pairlink Labs.
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

// Package lifecycle manages startup, shutdown, and health reporting for
// long-running services.
package lifecycle

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/pairlink/watchbridge/pkg/logger"
)

const defaultShutdownTimeout = 10 * time.Second

// Service is implemented by every long-running component managed by RunServer.
// Start blocks until the service stops or ctx is cancelled; Stop performs the
// bounded teardown.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ServerOptions configures a managed service run.
type ServerOptions struct {
	// ListenAddr is the address of the gRPC health endpoint. Empty disables it.
	ListenAddr        string
	ServiceName       string
	Service           Service
	EnableHealthCheck bool
	ShutdownTimeout   time.Duration
	Logger            logger.Logger
}

// RunServer runs the service until it exits or a termination signal arrives,
// then performs a bounded graceful shutdown.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var healthServer *grpc.Server

	var healthState *health.Server

	if opts.EnableHealthCheck && opts.ListenAddr != "" {
		lis, err := net.Listen("tcp", opts.ListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", opts.ListenAddr, err)
		}

		healthServer = grpc.NewServer()
		healthState = health.NewServer()
		grpc_health_v1.RegisterHealthServer(healthServer, healthState)
		healthState.SetServingStatus(opts.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

		go func() {
			if err := healthServer.Serve(lis); err != nil {
				log.Error().Err(err).Msg("Health endpoint stopped")
			}
		}()

		log.Info().Str("listen_addr", opts.ListenAddr).Msg("Health endpoint listening")
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- opts.Service.Start(ctx)
	}()

	var runErr error

	select {
	case <-ctx.Done():
		log.Info().Str("service", opts.ServiceName).Msg("Termination signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			runErr = fmt.Errorf("service %s failed: %w", opts.ServiceName, err)
		}
	}

	if healthState != nil {
		healthState.SetServingStatus(opts.ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	timeout := opts.ShutdownTimeout
	if timeout == 0 {
		timeout = defaultShutdownTimeout
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := opts.Service.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("service %s shutdown failed: %w", opts.ServiceName, err)
	}

	if healthServer != nil {
		healthServer.GracefulStop()
	}

	return runErr
}
