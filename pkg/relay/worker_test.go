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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/watchbridge/pkg/dispatch"
	"github.com/pairlink/watchbridge/pkg/logger"
	"github.com/pairlink/watchbridge/pkg/models"
	"github.com/pairlink/watchbridge/pkg/notify"
	"github.com/pairlink/watchbridge/pkg/registry"
	"github.com/pairlink/watchbridge/pkg/sdk"
	"github.com/pairlink/watchbridge/pkg/session"
)

const testAppKey = "test-app"

// capturePublisher records events published to the bus.
type capturePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *capturePublisher) Publish(_ context.Context, event models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) snapshot() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.Event, len(p.events))
	copy(out, p.events)

	return out
}

func (p *capturePublisher) countOf(eventType models.EventType) int {
	n := 0

	for _, e := range p.snapshot() {
		if e.Type == eventType {
			n++
		}
	}

	return n
}

func (p *capturePublisher) lastOf(eventType models.EventType) (models.Event, bool) {
	var (
		found models.Event
		ok    bool
	)

	for _, e := range p.snapshot() {
		if e.Type == eventType {
			found = e
			ok = true
		}
	}

	return found, ok
}

func fastSessionConfig() models.SessionConfig {
	return models.SessionConfig{
		AppKey:           testAppKey,
		ReadyTimeout:     models.Duration(500 * time.Millisecond),
		PollInterval:     models.Duration(5 * time.Millisecond),
		RecoveryTimeout:  models.Duration(500 * time.Millisecond),
		DiscoveryTimeout: models.Duration(100 * time.Millisecond),
		StopTimeout:      models.Duration(500 * time.Millisecond),
	}
}

type workerHarness struct {
	connector *sdk.FakeConnector
	publisher *capturePublisher
	worker    *worker
}

func newWorkerHarness(connector *sdk.FakeConnector) *workerHarness {
	log := logger.NewTestLogger()
	cfg := fastSessionConfig()

	sess := session.NewManager(connector, cfg, log)
	reg := registry.New(sess, time.Duration(cfg.DiscoveryTimeout), log)
	pub := &capturePublisher{}
	disp := dispatch.New(pub, notify.Nop{}, 100, log)

	return &workerHarness{
		connector: connector,
		publisher: pub,
		worker:    newWorker(sess, reg, disp, cfg, realClock{}, log),
	}
}

func (h *workerHarness) runUntilRunning(t *testing.T) (cancel context.CancelFunc, runErr <-chan error) {
	t.Helper()

	ctx, cancelFn := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- h.worker.run(ctx)
	}()

	require.Eventually(t, func() bool {
		return h.worker.State() == WorkerRunning
	}, 2*time.Second, 5*time.Millisecond, "worker never reached running")

	return cancelFn, errCh
}

func (h *workerHarness) waitDone(t *testing.T, runErr <-chan error) error {
	t.Helper()

	select {
	case err := <-runErr:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not finish")
		return nil
	}
}

func TestWorkerSessionLifecycle(t *testing.T) {
	t.Parallel()

	connector := &sdk.FakeConnector{
		Devices: []models.Device{
			{ID: 100, Name: "Forerunner 255", State: models.DeviceStateConnected},
			{ID: 200, Name: "Fenix 7", State: models.DeviceStateConnected},
			{ID: models.SimulatorDeviceID, Name: "Venu Simulator", State: models.DeviceStateConnected},
		},
	}

	h := newWorkerHarness(connector)
	cancel, runErr := h.runUntilRunning(t)

	created, ok := h.publisher.lastOf(models.EventSessionCreated)
	require.True(t, ok)
	assert.Equal(t, 2, created.DeviceCount, "simulator must not count")
	assert.NotZero(t, created.StartTime)
	assert.False(t, h.worker.StartTime().IsZero())

	cancel()
	require.NoError(t, h.waitDone(t, runErr))

	assert.Equal(t, WorkerStopped, h.worker.State())
	assert.Equal(t, 1, h.publisher.countOf(models.EventSessionTerminated))

	terminated, _ := h.publisher.lastOf(models.EventSessionTerminated)
	assert.Equal(t, models.TerminateReasonCancelled, terminated.Reason)

	// The terminated event is the last thing published.
	events := h.publisher.snapshot()
	assert.Equal(t, models.EventSessionTerminated, events[len(events)-1].Type)

	// App listeners are removed from the SDK handle; device listeners have no
	// unregister call, they just stop feeding a drained queue.
	_, appListeners := h.connector.LastClient().ListenerCounts()
	assert.Zero(t, appListeners)
}

func TestWorkerCreatedPrecedesActivityEvents(t *testing.T) {
	t.Parallel()

	connector := &sdk.FakeConnector{
		Devices: []models.Device{{ID: 100, Name: "Forerunner 255", State: models.DeviceStateConnected}},
	}

	h := newWorkerHarness(connector)
	cancel, runErr := h.runUntilRunning(t)
	defer cancel()

	require.True(t, connector.LastClient().PushMessage(100, testAppKey, "STARTED|1700000000|running|0"))
	require.True(t, connector.LastClient().PushMessage(100, testAppKey, "STOPPED|1700003615|running|3615"))

	require.Eventually(t, func() bool {
		return h.publisher.countOf(models.EventActivityStopped) == 1
	}, 2*time.Second, 5*time.Millisecond)

	var createdIdx, startedIdx int

	for i, e := range h.publisher.snapshot() {
		switch e.Type {
		case models.EventSessionCreated:
			createdIdx = i
		case models.EventActivityStarted:
			startedIdx = i
		}
	}

	assert.Less(t, createdIdx, startedIdx, "created must precede the first activity event")

	started, ok := h.publisher.lastOf(models.EventActivityStarted)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), started.WatchTime)
	assert.Equal(t, "running", started.Activity)

	cancel()
	require.NoError(t, h.waitDone(t, runErr))
}

func TestWorkerRelaysDeviceChanges(t *testing.T) {
	t.Parallel()

	connector := &sdk.FakeConnector{
		Devices: []models.Device{{ID: 100, Name: "Forerunner 255", State: models.DeviceStateConnected}},
	}

	h := newWorkerHarness(connector)
	cancel, runErr := h.runUntilRunning(t)
	defer cancel()

	client := connector.LastClient()

	// Device status callbacks are only installed for known devices, so the
	// arrival is noticed via the existing device's status listener firing.
	arrival := models.Device{ID: 300, Name: "Edge 540", State: models.DeviceStateConnected}
	client.SetDevice(arrival)
	client.SetDevice(models.Device{ID: 100, Name: "Forerunner 255", State: models.DeviceStateConnected})

	require.Eventually(t, func() bool {
		return h.publisher.countOf(models.EventDeviceConnected) == 1
	}, 2*time.Second, 5*time.Millisecond)

	connected, _ := h.publisher.lastOf(models.EventDeviceConnected)
	assert.Equal(t, int64(300), connected.Device.ID)

	// The arrival got its own listeners, so its messages now flow.
	require.Eventually(t, func() bool {
		return client.PushMessage(300, testAppKey, "STARTED|1700000000|hiking|0")
	}, 2*time.Second, 5*time.Millisecond)

	client.RemoveDevice(300)

	require.Eventually(t, func() bool {
		return h.publisher.countOf(models.EventDeviceDisconnected) == 1
	}, 2*time.Second, 5*time.Millisecond)

	disconnected, _ := h.publisher.lastOf(models.EventDeviceDisconnected)
	assert.Equal(t, int64(300), disconnected.Device.ID)

	cancel()
	require.NoError(t, h.waitDone(t, runErr))
}

func TestWorkerFailsWhenSdkNeverReady(t *testing.T) {
	t.Parallel()

	connector := &sdk.FakeConnector{AttachErr: errors.New("sdk rejected app key")}

	h := newWorkerHarness(connector)

	err := h.worker.run(context.Background())
	require.ErrorIs(t, err, session.ErrInitTimeout)

	assert.Equal(t, WorkerFailed, h.worker.State())
	assert.Equal(t, 1, h.publisher.countOf(models.EventSessionTerminated))

	terminated, _ := h.publisher.lastOf(models.EventSessionTerminated)
	assert.Equal(t, models.TerminateReasonError, terminated.Reason)
}

func TestWorkerCancelledDuringBringUp(t *testing.T) {
	t.Parallel()

	connector := &sdk.FakeConnector{ReadyDelay: time.Second}

	h := newWorkerHarness(connector)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() {
		errCh <- h.worker.run(ctx)
	}()

	require.Eventually(t, func() bool {
		return h.worker.State() == WorkerWaitingForSDK
	}, 2*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, h.waitDone(t, errCh))

	// Cancellation before readiness is a clean stop, not a failure.
	assert.Equal(t, WorkerStopped, h.worker.State())
	assert.Equal(t, 1, h.publisher.countOf(models.EventSessionTerminated))

	terminated, _ := h.publisher.lastOf(models.EventSessionTerminated)
	assert.Equal(t, models.TerminateReasonCancelled, terminated.Reason)
}

func TestWorkerRecoversFromBindingLoss(t *testing.T) {
	t.Parallel()

	connector := &sdk.FakeConnector{
		Devices: []models.Device{{ID: 100, Name: "Forerunner 255", State: models.DeviceStateConnected}},
	}

	h := newWorkerHarness(connector)
	cancel, runErr := h.runUntilRunning(t)
	defer cancel()

	first := connector.LastClient()
	first.Break()

	// A connected status report is the probe point that detects the loss.
	h.worker.onDeviceStatus(models.Device{ID: 100, Name: "Forerunner 255", State: models.DeviceStateConnected})

	require.Eventually(t, func() bool {
		return connector.OpenCount() == 2 && h.worker.session.Ready()
	}, 2*time.Second, 5*time.Millisecond, "binding loss should re-open the session")

	// The periodic refresh re-installs listeners on the fresh handle, so
	// messages flow again without operator intervention.
	second := connector.LastClient()
	require.NotSame(t, first, second)

	require.Eventually(t, func() bool {
		return second.PushMessage(100, testAppKey, "STARTED|1700000000|running|0")
	}, 2*time.Second, 5*time.Millisecond, "listeners never re-attached after recovery")

	require.Eventually(t, func() bool {
		return h.publisher.countOf(models.EventActivityStarted) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, h.waitDone(t, runErr))
}
