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

// Package session owns the lifetime of the SDK handle: bring-up, health
// probing, and recovery when the underlying service binding drops.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pairlink/watchbridge/pkg/logger"
	"github.com/pairlink/watchbridge/pkg/models"
	"github.com/pairlink/watchbridge/pkg/sdk"
)

// State is the session lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateError         State = "error"
	StateShutDown      State = "shutdown"
)

var (
	// ErrInitTimeout is returned when the SDK did not become ready within the
	// caller's deadline.
	ErrInitTimeout = errors.New("sdk initialization timed out")
	// ErrInitAborted is returned to init waiters released by a reset.
	ErrInitAborted = errors.New("sdk initialization aborted by reset")
)

// Manager owns exactly one SDK session at a time. It is constructed once at
// startup and handed to the worker; the single-instance invariant holds
// without global state.
type Manager struct {
	connector sdk.Connector
	cfg       models.SessionConfig
	log       logger.Logger

	mu       sync.Mutex
	state    State
	client   sdk.Client
	initDone chan struct{}
	lastErr  error
	epoch    int // bumped on reset/recovery so stale attempts are discarded

	reinitializing atomic.Bool
}

// NewManager creates a session manager. The SDK is not touched until Init.
func NewManager(connector sdk.Connector, cfg models.SessionConfig, log logger.Logger) *Manager {
	return &Manager{
		connector: connector,
		cfg:       cfg,
		log:       log,
		state:     StateUninitialized,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Ready reports whether a live handle is available.
func (m *Manager) Ready() bool {
	return m.State() == StateReady
}

// Client returns the live SDK handle, or sdk.ErrNotInitialized when the
// session is not ready.
func (m *Manager) Client() (sdk.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateReady || m.client == nil {
		return nil, sdk.ErrNotInitialized
	}

	return m.client, nil
}

// Init brings the SDK up. Idempotent: when the session is already ready it
// returns immediately. While an attempt is in flight, additional callers
// block until it resolves (bounded by their ctx); only one underlying SDK
// handle is ever opened per attempt.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()

	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil

	case StateInitializing:
		done := m.initDone
		m.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrInitTimeout, ctx.Err())
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		if m.state == StateReady {
			return nil
		}

		if m.lastErr != nil {
			return m.lastErr
		}

		return ErrInitAborted

	default:
		m.state = StateInitializing
		m.initDone = make(chan struct{})
		m.lastErr = nil
		epoch := m.epoch
		m.mu.Unlock()

		return m.open(ctx, epoch)
	}
}

// InitAsync starts initialization without blocking the caller. Readiness is
// observed by polling Ready; used by the worker bring-up and recovery paths.
func (m *Manager) InitAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(m.cfg.ReadyTimeout))
		defer cancel()

		if err := m.Init(ctx); err != nil {
			m.log.Error().Err(err).Msg("Background SDK initialization failed")
		}
	}()
}

// open performs one attach attempt and waits for the first lifecycle event.
func (m *Manager) open(ctx context.Context, epoch int) error {
	client, events, err := m.connector.Open(ctx)
	if err != nil {
		wrapped := fmt.Errorf("failed to open sdk session: %w", err)
		m.finishInit(epoch, nil, wrapped)

		return wrapped
	}

	select {
	case ev := <-events:
		switch ev.Kind {
		case sdk.LifecycleReady:
			m.finishInit(epoch, client, nil)
			go m.watch(events, epoch)

			return nil
		case sdk.LifecycleError, sdk.LifecycleShutdown:
			_ = client.Shutdown(context.WithoutCancel(ctx))
			wrapped := fmt.Errorf("sdk reported init failure: %w", ev.Err)
			m.finishInit(epoch, nil, wrapped)

			return wrapped
		}
	case <-ctx.Done():
		_ = client.Shutdown(context.WithoutCancel(ctx))
		wrapped := fmt.Errorf("%w: %w", ErrInitTimeout, ctx.Err())
		m.finishInit(epoch, nil, wrapped)

		return wrapped
	}

	return nil
}

// finishInit records the outcome of an attempt, unless a reset or recovery
// superseded it in the meantime, in which case the handle is discarded.
func (m *Manager) finishInit(epoch int, client sdk.Client, err error) {
	m.mu.Lock()

	if m.epoch != epoch {
		m.mu.Unlock()

		if client != nil {
			_ = client.Shutdown(context.Background())
		}

		return
	}

	if err != nil {
		m.state = StateError
		m.client = nil
		m.lastErr = err
	} else {
		m.state = StateReady
		m.client = client
		m.lastErr = nil
	}

	if m.initDone != nil {
		close(m.initDone)
		m.initDone = nil
	}

	m.mu.Unlock()
}

// watch consumes lifecycle events after readiness. An SDK-initiated shutdown
// returns the session to uninitialized so the next Init starts clean.
func (m *Manager) watch(events <-chan sdk.LifecycleEvent, epoch int) {
	for ev := range events {
		m.mu.Lock()

		if m.epoch != epoch {
			m.mu.Unlock()
			return
		}

		switch ev.Kind {
		case sdk.LifecycleShutdown:
			m.state = StateUninitialized
			m.client = nil
			m.mu.Unlock()
			m.log.Info().Msg("SDK session shut down")

			return
		case sdk.LifecycleError:
			m.state = StateError
			m.client = nil
			m.lastErr = ev.Err
			m.mu.Unlock()
			m.log.Error().Err(ev.Err).Msg("SDK session error")

			return
		case sdk.LifecycleReady:
			m.mu.Unlock()
		}
	}
}

// CheckBinding probes the live handle with a bounded device query. It is
// called right after a device reports connected, the only reliable point to
// notice that the SDK's service binding silently dropped. A probe failing
// with ErrNotInitialized triggers recovery.
func (m *Manager) CheckBinding(ctx context.Context) {
	client, err := m.Client()
	if err != nil {
		m.Recover()
		return
	}

	qctx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.DiscoveryTimeout))
	defer cancel()

	if _, err := client.ConnectedDevices(qctx); errors.Is(err, sdk.ErrNotInitialized) {
		m.log.Warn().Msg("SDK binding lost, recovering")
		m.Recover()
	}
}

// Recover discards the current handle and re-initializes out of band, so a
// headless worker session heals without the foreground entry point.
// Single-flight: a trigger while one is in flight is skipped. The guard
// clears when the attempt resolves or the recovery timeout lapses, whichever
// comes first, so a hung SDK never locks recovery out permanently.
func (m *Manager) Recover() {
	if !m.reinitializing.CompareAndSwap(false, true) {
		m.log.Debug().Msg("Recovery already in flight, skipping")
		return
	}

	m.mu.Lock()
	m.epoch++
	m.client = nil // handle is stale, a clean shutdown would just hang
	m.state = StateUninitialized
	m.lastErr = ErrInitAborted

	if m.initDone != nil {
		close(m.initDone)
		m.initDone = nil
	}
	m.mu.Unlock()

	go func() {
		defer m.reinitializing.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(m.cfg.RecoveryTimeout))
		defer cancel()

		if err := m.Init(ctx); err != nil {
			m.log.Error().Err(err).Msg("Recovery re-initialization failed")
		} else {
			m.log.Info().Msg("SDK session recovered")
		}
	}()
}

// Reset tears the session down completely: shuts the handle down if present,
// releases init waiters, and returns to uninitialized. Safe to call
// repeatedly; resetting an already torn-down session is a no-op.
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()

	client := m.client
	m.client = nil
	m.state = StateShutDown
	m.lastErr = ErrInitAborted
	m.epoch++
	epoch := m.epoch

	if m.initDone != nil {
		close(m.initDone)
		m.initDone = nil
	}
	m.mu.Unlock()

	if client != nil {
		if err := client.Shutdown(ctx); err != nil {
			m.log.Error().Err(err).Msg("SDK handle shutdown failed during reset")
		}
	}

	m.mu.Lock()
	if m.epoch == epoch {
		m.state = StateUninitialized
	}
	m.mu.Unlock()
}
