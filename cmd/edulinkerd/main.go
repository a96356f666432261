// Copyright 2018-2019 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Command edulinkerd is the core's process entrypoint: it loads
// configuration, builds the root logger, starts every subsystem, and
// blocks until a termination signal arrives (§5 Concurrency model).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/neohum/edulinker-messenger-tauri/internal/config"
	"github.com/neohum/edulinker-messenger-tauri/internal/core"
)

var (
	configFlag  = flag.String("c", "", "path to a TOML configuration file (defaults are used if omitted)")
	dataDirFlag = flag.String("data-dir", "", "application data directory for uploads and the message database")
	modeFlag    = flag.String("mode", "dev", "log output mode: dev (console) or prod (json)")
)

func main() {
	flag.Parse()

	dataDir := *dataDirFlag
	if dataDir == "" {
		dataDir = defaultDataDir()
	}

	cfg, err := config.Load(*configFlag, dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %s\n", err.Error())
		os.Exit(1)
	}

	logger := newLogger(*modeFlag)

	c, err := core.New(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("error constructing core")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("http", cfg.HTTP.Address).Int("discoveryPort", cfg.Discovery.Port).Msg("starting edulinkerd")
	if err := c.Run(ctx, logger); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("core stopped unexpectedly")
		os.Exit(1)
	}
	logger.Info().Msg("edulinkerd stopped")
}

// newLogger builds the root zerolog.Logger: console-writer in dev
// mode, structured JSON in prod, matching the teacher's pkg/log
// dev/prod distinction (reinstated here rather than as a shared
// package — see DESIGN.md).
func newLogger(mode string) *zerolog.Logger {
	var l zerolog.Logger
	if mode == "prod" {
		l = zerolog.New(os.Stderr).With().Timestamp().Int("pid", os.Getpid()).Logger()
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Int("pid", os.Getpid()).Logger()
	}
	return &l
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "."
	}
	return dir + "/edulinker"
}
