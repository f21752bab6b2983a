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

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pairlink/watchbridge/pkg/dispatch"
	"github.com/pairlink/watchbridge/pkg/logger"
	"github.com/pairlink/watchbridge/pkg/models"
	"github.com/pairlink/watchbridge/pkg/registry"
	"github.com/pairlink/watchbridge/pkg/session"
)

// WorkerState is the relay worker's lifecycle state.
type WorkerState int32

const (
	WorkerStarting WorkerState = iota
	WorkerWaitingForSDK
	WorkerRunning
	WorkerStopping
	WorkerStopped
	WorkerFailed
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStarting:
		return "starting"
	case WorkerWaitingForSDK:
		return "waiting_for_sdk"
	case WorkerRunning:
		return "running"
	case WorkerStopping:
		return "stopping"
	case WorkerStopped:
		return "stopped"
	case WorkerFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const messageBacklog = 64

// message is one raw watch message queued for dispatch.
type message struct {
	device      models.Device
	raw         string
	receiveTime time.Time
}

// worker is the long-running task that brings the SDK up, wires listeners to
// the dispatcher, and idles until cancelled. SDK callbacks never touch shared
// state directly: they enqueue onto channels drained by the run loop.
type worker struct {
	session    *session.Manager
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	cfg        models.SessionConfig
	clock      Clock
	log        logger.Logger

	state      atomic.Int32
	stopReason atomic.Value

	mu        sync.Mutex
	startTime time.Time
	known     []models.Device

	msgCh    chan message
	deviceCh chan struct{}
	done     chan struct{}
}

func newWorker(
	sess *session.Manager,
	reg *registry.Registry,
	disp *dispatch.Dispatcher,
	cfg models.SessionConfig,
	clock Clock,
	log logger.Logger,
) *worker {
	w := &worker{
		session:    sess,
		registry:   reg,
		dispatcher: disp,
		cfg:        cfg,
		clock:      clock,
		log:        log,
		msgCh:      make(chan message, messageBacklog),
		deviceCh:   make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	w.stopReason.Store(models.TerminateReasonCancelled)

	return w
}

func (w *worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *worker) setState(s WorkerState) {
	w.state.Store(int32(s))
	w.log.Debug().Str("state", s.String()).Msg("Worker state changed")
}

// StartTime returns when the session became ready, or zero before that.
func (w *worker) StartTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.startTime
}

// SetStopReason records the reason the next cancellation will report.
func (w *worker) SetStopReason(reason string) {
	w.stopReason.Store(reason)
}

// run drives the worker until ctx is cancelled. Cancellation is a clean
// exit, not a failure; only bring-up errors return non-nil. Whatever happens,
// exactly one terminated event is the last thing published.
func (w *worker) run(ctx context.Context) (err error) {
	defer close(w.done)

	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("Worker panicked")
			w.teardown(models.TerminateReasonError)
			w.setState(WorkerFailed)
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	w.setState(WorkerStarting)
	w.session.InitAsync()
	w.setState(WorkerWaitingForSDK)

	if waitErr := w.awaitReady(ctx); waitErr != nil {
		if errors.Is(waitErr, context.Canceled) {
			w.teardown(w.stopReason.Load().(string))
			return nil
		}

		w.log.Error().Err(waitErr).Msg("SDK never became ready")
		w.teardown(models.TerminateReasonError)
		w.setState(WorkerFailed)

		return waitErr
	}

	startTime := w.clock.Now()

	w.mu.Lock()
	w.startTime = startTime
	w.mu.Unlock()

	devices := w.registry.ListConnectedReal(ctx)
	w.attachDevices(ctx, devices)

	w.mu.Lock()
	w.known = devices
	w.mu.Unlock()

	// Listeners are live but their queues are only drained below, so the
	// created event precedes every activity event of this session.
	w.dispatcher.PublishCreated(ctx, startTime, devices)
	w.setState(WorkerRunning)
	w.log.Info().Int("devices", len(devices)).Msg("Relay session running")

	// The periodic pass catches what callbacks cannot: a recovered handle has
	// no listeners until the next refresh re-installs them.
	refresh := w.clock.Ticker(time.Duration(w.cfg.PollInterval))
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			w.teardown(w.stopReason.Load().(string))
			return nil
		case m := <-w.msgCh:
			w.dispatcher.OnMessage(ctx, m.device, m.raw, m.receiveTime)
		case <-w.deviceCh:
			w.refreshDevices(ctx)
		case <-refresh.Chan():
			w.refreshDevices(ctx)
		}
	}
}

// awaitReady polls session readiness at the configured interval until the
// ready timeout lapses. An explicit bounded retry, not incidental polling.
func (w *worker) awaitReady(ctx context.Context) error {
	if w.session.Ready() {
		return nil
	}

	interval := time.Duration(w.cfg.PollInterval)

	attempts := int(time.Duration(w.cfg.ReadyTimeout) / interval)
	if attempts < 1 {
		attempts = 1
	}

	ticker := w.clock.Ticker(interval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		select {
		case <-ticker.Chan():
			if w.session.Ready() {
				return nil
			}
		case <-ctx.Done():
			return context.Canceled
		}
	}

	return session.ErrInitTimeout
}

// attachDevices installs device and app listeners for each device.
// Registration is idempotent, so re-attaching a known device is harmless.
func (w *worker) attachDevices(ctx context.Context, devices []models.Device) {
	for _, dev := range devices {
		device := dev

		if err := w.registry.RegisterDeviceListener(ctx, device, w.onDeviceStatus); err != nil {
			w.log.Error().Err(err).Str("device", device.Name).Msg("Device listener registration failed")
		}

		if err := w.registry.RegisterAppListener(ctx, device, w.cfg.AppKey, func(raw string) {
			w.enqueueMessage(device, raw)
		}); err != nil {
			w.log.Error().Err(err).Str("device", device.Name).Msg("App listener registration failed")
		}
	}
}

// onDeviceStatus runs on the SDK callback path. A device reporting connected
// is the health-check point for the service binding; the actual device-set
// refresh happens on the run loop.
func (w *worker) onDeviceStatus(device models.Device) {
	if device.IsConnected() {
		w.session.CheckBinding(context.Background())
	}

	select {
	case w.deviceCh <- struct{}{}:
	default: // a refresh is already pending
	}
}

// enqueueMessage stamps the receive time on the callback path and hands the
// message to the run loop. A full backlog drops the message; telemetry is
// best-effort.
func (w *worker) enqueueMessage(device models.Device, raw string) {
	m := message{
		device:      device,
		raw:         raw,
		receiveTime: w.clock.Now(),
	}

	select {
	case w.msgCh <- m:
	default:
		w.log.Warn().Str("device", device.Name).Msg("Message backlog full, dropping")
	}
}

// refreshDevices recomputes the connected set, re-attaches listeners, and
// dispatches the diff.
func (w *worker) refreshDevices(ctx context.Context) {
	if !w.session.Ready() {
		// Recovery in flight; diffing against a dead handle would report
		// every device gone.
		return
	}

	current := w.registry.ListConnectedReal(ctx)

	// Idempotent per handle. After a recovery this is what re-installs the
	// listeners on the fresh handle.
	w.attachDevices(ctx, current)

	w.mu.Lock()
	previous := w.known
	w.known = current
	w.mu.Unlock()

	added, removed := registry.Diff(previous, current)
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	w.dispatcher.OnDeviceChange(ctx, added, removed, current)
}

// teardown unregisters everything and publishes the final terminated event.
func (w *worker) teardown(reason string) {
	w.setState(WorkerStopping)
	w.registry.UnregisterAll()
	w.dispatcher.PublishTerminated(context.Background(), reason)
	w.setState(WorkerStopped)
	w.log.Info().Str("reason", reason).Msg("Relay session stopped")
}
