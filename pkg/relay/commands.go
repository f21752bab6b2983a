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

	"github.com/pairlink/watchbridge/pkg/models"
)

// Command actions accepted on the command channel.
const (
	ActionStart     = "start"
	ActionStop      = "stop"
	ActionPing      = "ping"
	ActionHistory   = "history"
	ActionTerminate = "terminate"
)

// Command is the JSON payload on the command subject. Token is checked only
// when the service is configured with a command token.
type Command struct {
	Action string `json:"action"`
	Token  string `json:"token,omitempty"`
}

// CommandReply is sent on the requester's reply inbox when one is present.
type CommandReply struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	History string `json:"history,omitempty"`
}

func replyBytes(reply CommandReply) []byte {
	data, _ := json.Marshal(reply)
	return data
}

// handleCommand processes one inbound command. respond is nil when the
// sender did not ask for a reply.
func (s *Service) handleCommand(ctx context.Context, data []byte, respond func([]byte)) {
	reply := func(r CommandReply) {
		if respond != nil {
			respond(replyBytes(r))
		}
	}

	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.log.Warn().Err(err).Msg("Dropping malformed command")
		reply(CommandReply{Error: "malformed command"})

		return
	}

	if s.cfg.CommandToken != "" && cmd.Token != s.cfg.CommandToken {
		s.log.Warn().Str("action", cmd.Action).Msg("Rejecting unauthenticated command")
		reply(CommandReply{Error: "unauthorized"})

		return
	}

	s.log.Debug().Str("action", cmd.Action).Msg("Command received")

	switch cmd.Action {
	case ActionStart:
		if err := s.StartWorker(ctx); err != nil {
			reply(CommandReply{Error: err.Error()})
			return
		}

		reply(CommandReply{OK: true})

	case ActionStop:
		s.StopWorker(ctx, models.TerminateReasonCancelled)
		reply(CommandReply{OK: true})

	case ActionPing:
		// Exactly one pong per ping, on the public bus.
		s.dispatcher.PublishPong(ctx, s.workerStartTime())
		reply(CommandReply{OK: true})

	case ActionHistory:
		// History goes only to the requester's reply inbox, never the
		// public bus.
		if respond == nil {
			s.log.Warn().Msg("History request without reply inbox, ignoring")
			return
		}

		reply(CommandReply{OK: true, History: s.dispatcher.History()})

	case ActionTerminate:
		reply(CommandReply{OK: true})
		s.Terminate(ctx)

	default:
		s.log.Warn().Str("action", cmd.Action).Msg("Unknown command action")
		reply(CommandReply{Error: "unknown action"})
	}
}
