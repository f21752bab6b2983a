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

// watchctl is the control CLI for a running watchbridge daemon. It speaks
// the same NATS command channel that automation tools use.
package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "watchctl",
	Short: "Control a running watchbridge daemon over NATS",
}

var (
	rootNATSURL     string
	rootSubject     string
	rootEventsSubj  string
	rootToken       string
	rootWaitTimeout time.Duration
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	rootCmd.PersistentFlags().StringVar(&rootNATSURL, "nats-url", "", "NATS URL, overrides WATCHBRIDGE_NATS_URL")
	rootCmd.PersistentFlags().StringVar(&rootSubject, "subject", "watchbridge.commands", "Command subject")
	rootCmd.PersistentFlags().StringVar(&rootEventsSubj, "events-subject", "watchbridge.events", "Events subject")
	rootCmd.PersistentFlags().StringVar(&rootToken, "token", "", "Command token, overrides WATCHBRIDGE_COMMAND_TOKEN")
	rootCmd.PersistentFlags().DurationVar(&rootWaitTimeout, "timeout", 5*time.Second, "Request timeout")

	rootCmd.AddCommand(
		newActionCmd("start", "Start a relay session"),
		newActionCmd("stop", "Stop the active relay session"),
		newActionCmd("terminate", "Stop the session and shut the daemon down"),
		newPingCmd(),
		newHistoryCmd(),
		newEventsCmd(),
	)

	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("watchctl command failed")
	}
}
