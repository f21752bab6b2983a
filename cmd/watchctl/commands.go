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

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/pairlink/watchbridge/pkg/models"
	"github.com/pairlink/watchbridge/pkg/relay"
)

func natsURL() string {
	if rootNATSURL != "" {
		return rootNATSURL
	}

	if url := os.Getenv("WATCHBRIDGE_NATS_URL"); url != "" {
		return url
	}

	return nats.DefaultURL
}

func commandToken() string {
	if rootToken != "" {
		return rootToken
	}

	return os.Getenv("WATCHBRIDGE_COMMAND_TOKEN")
}

func dial() (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsURL(), err)
	}

	return nc, nil
}

// request sends one command and decodes the reply.
func request(nc *nats.Conn, action string) (relay.CommandReply, error) {
	payload, err := json.Marshal(relay.Command{Action: action, Token: commandToken()})
	if err != nil {
		return relay.CommandReply{}, err
	}

	msg, err := nc.Request(rootSubject, payload, rootWaitTimeout)
	if err != nil {
		return relay.CommandReply{}, fmt.Errorf("command %q failed: %w", action, err)
	}

	var reply relay.CommandReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return relay.CommandReply{}, fmt.Errorf("malformed reply: %w", err)
	}

	if !reply.OK {
		return reply, fmt.Errorf("daemon rejected %q: %s", action, reply.Error)
	}

	return reply, nil
}

// newActionCmd covers the commands that only need an ok/error reply.
func newActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(_ *cobra.Command, _ []string) error {
			nc, err := dial()
			if err != nil {
				return err
			}
			defer nc.Close()

			if _, err := request(nc, action); err != nil {
				return err
			}

			fmt.Println("ok")

			return nil
		},
	}
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Ping the daemon and wait for the pong event",
		RunE: func(_ *cobra.Command, _ []string) error {
			nc, err := dial()
			if err != nil {
				return err
			}
			defer nc.Close()

			// Subscribe before pinging so the pong cannot slip past.
			sub, err := nc.SubscribeSync(rootEventsSubj)
			if err != nil {
				return err
			}
			defer func() { _ = sub.Unsubscribe() }()

			if _, err := request(nc, relay.ActionPing); err != nil {
				return err
			}

			for {
				msg, err := sub.NextMsg(rootWaitTimeout)
				if err != nil {
					if errors.Is(err, nats.ErrTimeout) {
						return fmt.Errorf("no pong within %s", rootWaitTimeout)
					}

					return err
				}

				var event models.Event
				if err := json.Unmarshal(msg.Data, &event); err != nil {
					continue
				}

				if event.Type == models.EventPong {
					fmt.Println(string(msg.Data))
					return nil
				}
			}
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the daemon's recent event history",
		RunE: func(_ *cobra.Command, _ []string) error {
			nc, err := dial()
			if err != nil {
				return err
			}
			defer nc.Close()

			reply, err := request(nc, relay.ActionHistory)
			if err != nil {
				return err
			}

			fmt.Println(reply.History)

			return nil
		},
	}
}

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Tail the broadcast bus until interrupted",
		RunE: func(_ *cobra.Command, _ []string) error {
			nc, err := dial()
			if err != nil {
				return err
			}
			defer nc.Close()

			sub, err := nc.Subscribe(rootEventsSubj, func(msg *nats.Msg) {
				fmt.Println(string(msg.Data))
			})
			if err != nil {
				return err
			}
			defer func() { _ = sub.Unsubscribe() }()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt)
			<-sig

			return nil
		},
	}
}
