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
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/pairlink/watchbridge/pkg/config"
	"github.com/pairlink/watchbridge/pkg/lifecycle"
	"github.com/pairlink/watchbridge/pkg/logger"
	"github.com/pairlink/watchbridge/pkg/models"
	"github.com/pairlink/watchbridge/pkg/relay"
	"github.com/pairlink/watchbridge/pkg/sdk"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/watchbridge/watchbridge.json", "Path to config file")
	flag.Parse()

	// Local overrides for development; missing .env is fine.
	_ = godotenv.Load()

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg models.BridgeConfig
	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{
			Level:  "info",
			Output: "stdout",
		}
	}

	relayLogger, err := lifecycle.CreateComponentLogger("relay", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	connector, err := sdk.NewConnector(cfg.Connector)
	if err != nil {
		return fmt.Errorf("failed to create SDK connector: %w", err)
	}

	svc := relay.NewService(&cfg, connector, relayLogger)

	opts := &lifecycle.ServerOptions{
		ListenAddr:        cfg.ListenAddr,
		ServiceName:       "watchbridge",
		Service:           svc,
		EnableHealthCheck: cfg.ListenAddr != "",
		Logger:            relayLogger,
	}

	return lifecycle.RunServer(ctx, opts)
}
