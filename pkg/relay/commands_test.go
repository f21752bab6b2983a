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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlink/watchbridge/pkg/dispatch"
	"github.com/pairlink/watchbridge/pkg/logger"
	"github.com/pairlink/watchbridge/pkg/models"
	"github.com/pairlink/watchbridge/pkg/notify"
	"github.com/pairlink/watchbridge/pkg/sdk"
)

type serviceHarness struct {
	service   *Service
	connector *sdk.FakeConnector
	publisher *capturePublisher
}

func newServiceHarness(commandToken string) *serviceHarness {
	connector := &sdk.FakeConnector{
		Devices: []models.Device{{ID: 100, Name: "Forerunner 255", State: models.DeviceStateConnected}},
	}

	cfg := &models.BridgeConfig{
		Session:      fastSessionConfig(),
		HistorySize:  10,
		CommandToken: commandToken,
	}

	svc := NewService(cfg, connector, logger.NewTestLogger())

	// Normally wired in Start; command tests bypass the broker.
	pub := &capturePublisher{}
	svc.dispatcher = dispatch.New(pub, notify.Nop{}, cfg.HistorySize, svc.log)

	return &serviceHarness{service: svc, connector: connector, publisher: pub}
}

// send delivers one command and returns the decoded reply.
func (h *serviceHarness) send(t *testing.T, cmd Command) CommandReply {
	t.Helper()

	payload, err := json.Marshal(cmd)
	require.NoError(t, err)

	var (
		reply   CommandReply
		replied bool
	)

	h.service.handleCommand(context.Background(), payload, func(data []byte) {
		require.NoError(t, json.Unmarshal(data, &reply))

		replied = true
	})

	require.True(t, replied, "command produced no reply")

	return reply
}

func TestHandleCommandMalformed(t *testing.T) {
	t.Parallel()

	h := newServiceHarness("")

	var reply CommandReply

	h.service.handleCommand(context.Background(), []byte("{not json"), func(data []byte) {
		require.NoError(t, json.Unmarshal(data, &reply))
	})

	assert.False(t, reply.OK)
	assert.Equal(t, "malformed command", reply.Error)
}

func TestHandleCommandUnknownAction(t *testing.T) {
	t.Parallel()

	h := newServiceHarness("")

	reply := h.send(t, Command{Action: "reboot"})
	assert.False(t, reply.OK)
	assert.Equal(t, "unknown action", reply.Error)
}

func TestHandleCommandTokenAuth(t *testing.T) {
	t.Parallel()

	h := newServiceHarness("secret")

	rejected := h.send(t, Command{Action: ActionPing, Token: "wrong"})
	assert.False(t, rejected.OK)
	assert.Equal(t, "unauthorized", rejected.Error)
	assert.Zero(t, h.publisher.countOf(models.EventPong))

	accepted := h.send(t, Command{Action: ActionPing, Token: "secret"})
	assert.True(t, accepted.OK)
	assert.Equal(t, 1, h.publisher.countOf(models.EventPong))
}

func TestHandleCommandPingWithoutSession(t *testing.T) {
	t.Parallel()

	h := newServiceHarness("")

	reply := h.send(t, Command{Action: ActionPing})
	require.True(t, reply.OK)

	require.Equal(t, 1, h.publisher.countOf(models.EventPong))

	pong, _ := h.publisher.lastOf(models.EventPong)
	assert.Zero(t, pong.StartTime, "no session means no start time")
}

func TestHandleCommandPingWithActiveSession(t *testing.T) {
	t.Parallel()

	h := newServiceHarness("")

	reply := h.send(t, Command{Action: ActionStart})
	require.True(t, reply.OK)

	require.Eventually(t, func() bool {
		return h.service.WorkerState() == WorkerRunning
	}, 2*time.Second, 5*time.Millisecond)

	reply = h.send(t, Command{Action: ActionPing})
	require.True(t, reply.OK)

	pong, ok := h.publisher.lastOf(models.EventPong)
	require.True(t, ok)
	assert.NotZero(t, pong.StartTime)

	h.service.StopWorker(context.Background(), models.TerminateReasonCancelled)
}

func TestHandleCommandStartRejectsDuplicate(t *testing.T) {
	t.Parallel()

	h := newServiceHarness("")

	first := h.send(t, Command{Action: ActionStart})
	require.True(t, first.OK)

	second := h.send(t, Command{Action: ActionStart})
	assert.False(t, second.OK)
	assert.Equal(t, ErrSessionActive.Error(), second.Error)

	h.service.StopWorker(context.Background(), models.TerminateReasonCancelled)
}

func TestHandleCommandStopThenRestart(t *testing.T) {
	t.Parallel()

	h := newServiceHarness("")

	require.True(t, h.send(t, Command{Action: ActionStart}).OK)

	require.Eventually(t, func() bool {
		return h.service.WorkerState() == WorkerRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, h.send(t, Command{Action: ActionStop}).OK)
	assert.Equal(t, WorkerStopped, h.service.WorkerState())

	terminated, ok := h.publisher.lastOf(models.EventSessionTerminated)
	require.True(t, ok)
	assert.Equal(t, models.TerminateReasonCancelled, terminated.Reason)

	// A fresh start after a stop is allowed.
	require.True(t, h.send(t, Command{Action: ActionStart}).OK)
	h.service.StopWorker(context.Background(), models.TerminateReasonCancelled)
}

func TestHandleCommandStopWithoutSession(t *testing.T) {
	t.Parallel()

	h := newServiceHarness("")

	reply := h.send(t, Command{Action: ActionStop})
	assert.True(t, reply.OK)
	assert.Zero(t, h.publisher.countOf(models.EventSessionTerminated))
}

func TestHandleCommandHistory(t *testing.T) {
	t.Parallel()

	h := newServiceHarness("")

	h.service.dispatcher.OnMessage(context.Background(),
		models.Device{ID: 100, Name: "Forerunner 255", State: models.DeviceStateConnected},
		"STARTED|1700000000|running|0", time.Now())

	reply := h.send(t, Command{Action: ActionHistory})
	require.True(t, reply.OK)
	assert.Contains(t, reply.History, "running started")
}

func TestHandleCommandHistoryNeedsReplyInbox(t *testing.T) {
	t.Parallel()

	h := newServiceHarness("")
	published := len(h.publisher.snapshot())

	// No reply inbox: the request is dropped and nothing hits the public bus.
	h.service.handleCommand(context.Background(), []byte(`{"action":"history"}`), nil)

	assert.Len(t, h.publisher.snapshot(), published)
}

func TestHandleCommandTerminate(t *testing.T) {
	t.Parallel()

	h := newServiceHarness("")

	require.True(t, h.send(t, Command{Action: ActionStart}).OK)

	require.Eventually(t, func() bool {
		return h.service.WorkerState() == WorkerRunning
	}, 2*time.Second, 5*time.Millisecond)

	reply := h.send(t, Command{Action: ActionTerminate})
	require.True(t, reply.OK)

	select {
	case <-h.service.terminate:
	case <-time.After(2 * time.Second):
		t.Fatal("terminate never released the service loop")
	}

	terminated, ok := h.publisher.lastOf(models.EventSessionTerminated)
	require.True(t, ok)
	assert.Equal(t, models.TerminateReasonCommand, terminated.Reason)

	// Terminating twice is safe.
	h.service.Terminate(context.Background())
}
