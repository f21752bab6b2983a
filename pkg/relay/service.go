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

// Package relay orchestrates the session: it owns the worker task, consumes
// the command channel, and ties the session manager, registry, and
// dispatcher together.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pairlink/watchbridge/pkg/bus"
	"github.com/pairlink/watchbridge/pkg/dispatch"
	"github.com/pairlink/watchbridge/pkg/lifecycle"
	"github.com/pairlink/watchbridge/pkg/logger"
	"github.com/pairlink/watchbridge/pkg/models"
	"github.com/pairlink/watchbridge/pkg/notify"
	"github.com/pairlink/watchbridge/pkg/registry"
	"github.com/pairlink/watchbridge/pkg/sdk"
	"github.com/pairlink/watchbridge/pkg/session"
)

// ErrSessionActive is returned when a start arrives while a relay session is
// already running. One logical session exists at a time; duplicate starts
// are rejected rather than replacing or silently keeping the current run.
var ErrSessionActive = errors.New("a relay session is already active")

// Service implements lifecycle.Service for the relay daemon.
type Service struct {
	cfg   *models.BridgeConfig
	clock Clock
	log   logger.Logger

	session    *session.Manager
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher

	nc       *nats.Conn
	ownsConn bool
	sub      *nats.Subscription

	mu           sync.Mutex
	worker       *worker
	workerCancel context.CancelFunc

	terminate     chan struct{}
	terminateOnce sync.Once
}

// NewService builds the relay service. The connector is the only SDK
// dependency; everything else is constructed here so exactly one session
// manager exists per process.
func NewService(cfg *models.BridgeConfig, connector sdk.Connector, log logger.Logger) *Service {
	s := &Service{
		cfg:       cfg,
		clock:     realClock{},
		log:       log,
		terminate: make(chan struct{}),
	}

	s.session = session.NewManager(connector, cfg.Session, log)
	s.registry = registry.New(s.session, time.Duration(cfg.Session.DiscoveryTimeout), log)

	return s
}

// SetConn injects an existing NATS connection instead of dialing
// cfg.NATS.URL. Used by tests running an embedded broker.
func (s *Service) SetConn(nc *nats.Conn) {
	s.nc = nc
}

// Start implements lifecycle.Service. It connects the bus, subscribes the
// command channel, optionally auto-starts a relay session, and blocks until
// cancelled or terminated. Cancellation is a clean exit.
func (s *Service) Start(ctx context.Context) error {
	if s.nc == nil {
		nc, err := bus.Connect(s.cfg.NATS.URL, s.log)
		if err != nil {
			return err
		}

		s.nc = nc
		s.ownsConn = true
	}

	publisher := bus.NewEventPublisher(s.nc, s.cfg.NATS.EventsSubject)

	var notifier notify.Notifier = bus.NewNotifySink(s.nc, s.cfg.NATS.NotifySubject, s.log)

	s.dispatcher = dispatch.New(publisher, notifier, s.cfg.HistorySize, s.log)

	sub, err := s.nc.Subscribe(s.cfg.NATS.CommandsSubject, func(msg *nats.Msg) {
		var respond func([]byte)

		if msg.Reply != "" {
			m := msg
			respond = func(data []byte) { _ = m.Respond(data) }
		}

		s.handleCommand(ctx, msg.Data, respond)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to command channel: %w", err)
	}

	s.sub = sub

	if s.cfg.Session.AutoStart {
		if err := s.StartWorker(ctx); err != nil {
			return err
		}
	}

	s.log.Info().
		Str("events_subject", s.cfg.NATS.EventsSubject).
		Str("commands_subject", s.cfg.NATS.CommandsSubject).
		Bool("auto_start", s.cfg.Session.AutoStart).
		Msg("Relay service started")

	select {
	case <-ctx.Done():
	case <-s.terminate:
	}

	return nil
}

// Stop implements lifecycle.Service: stop the worker within its grace
// period, reset the session, and release the bus.
func (s *Service) Stop(ctx context.Context) error {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
		s.sub = nil
	}

	s.StopWorker(ctx, models.TerminateReasonCancelled)
	s.session.Reset(ctx)

	if s.nc != nil && s.ownsConn {
		s.nc.Close()
		s.nc = nil
	}

	s.log.Info().Msg("Relay service stopped")

	return nil
}

// StartWorker launches the relay worker. A start while one is active returns
// ErrSessionActive.
func (s *Service) StartWorker(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker != nil {
		select {
		case <-s.worker.done:
			// previous run already finished on its own
		default:
			return ErrSessionActive
		}
	}

	w := newWorker(s.session, s.registry, s.dispatcher, s.cfg.Session, s.clock, s.log)

	// The worker outlives the triggering command; only StopWorker or
	// service shutdown cancels it.
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.worker = w
	s.workerCancel = cancel

	go func() {
		if err := w.run(wctx); err != nil {
			s.log.Error().Err(err).Msg("Relay worker failed")
		}
	}()

	return nil
}

// StopWorker cancels the active worker, if any, and waits out the shutdown
// grace period. Stopping when nothing runs is a no-op.
func (s *Service) StopWorker(ctx context.Context, reason string) {
	s.mu.Lock()
	w := s.worker
	cancel := s.workerCancel
	s.worker = nil
	s.workerCancel = nil
	s.mu.Unlock()

	if w == nil {
		return
	}

	w.SetStopReason(reason)
	cancel()

	grace := time.Duration(s.cfg.Session.StopTimeout)

	select {
	case <-w.done:
	case <-time.After(grace):
		s.log.Warn().Dur("grace", grace).Msg("Worker did not stop within grace period")
	case <-ctx.Done():
	}
}

// Terminate shuts the whole daemon down: worker, session, then the service
// loop, which lets lifecycle teardown run and the process exit normally.
func (s *Service) Terminate(ctx context.Context) {
	s.StopWorker(ctx, models.TerminateReasonCommand)
	s.session.Reset(ctx)

	s.terminateOnce.Do(func() {
		close(s.terminate)
	})
}

// WorkerState reports the current worker state, or WorkerStopped when none
// is active.
func (s *Service) WorkerState() WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker == nil {
		return WorkerStopped
	}

	return s.worker.State()
}

func (s *Service) workerStartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker == nil {
		return time.Time{}
	}

	return s.worker.StartTime()
}

var _ lifecycle.Service = (*Service)(nil)
