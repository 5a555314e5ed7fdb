// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package test provides utility functions and mock data to support the
// application's test suite: a cached test configuration and sample provider
// payloads shared across packages.
package test

import (
	"log"
	"os"
	"testing"

	"github.com/jaycherian/go-shot-recall/internal/config"
)

// StateManager acts as a simple in-memory cache for the application
// configuration during test runs, so the TOML files are read at most once
// per test binary.
type StateManager struct {
	config *config.Config
}

var state = &StateManager{}

// HandleErr fails the current test when err is non-nil. A convenience to
// reduce boilerplate error-checking in tests that don't use testify.
func HandleErr(err error, t *testing.T) {
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// GetTestTagPayload returns a provider response payload the way the tagging
// model actually emits it, fenced markdown included. Used to exercise the
// response parser without a live provider.
func GetTestTagPayload() string {
	return "```json\n" + `{
  "scene_type": "exterior",
  "time_of_day": "dusk",
  "shot_type": "wide",
  "mood": "calm",
  "action": ["boat idling"],
  "free_tags": ["fishing boat", "harbor"],
  "summary": "A fishing boat idles in a quiet harbor at dusk."
}` + "\n```"
}

// SetupOS points the configuration loader at the test configuration files
// (configs/.env.test.toml overrides).
func SetupOS() (err error) {
	err = os.Setenv(config.EnvConfigFilePrefix, "configs")
	if err != nil {
		return err
	}
	err = os.Setenv(config.EnvConfigRuntime, "test")
	return err
}

// GetConfig is a singleton accessor for the test configuration. Missing TOML
// files are fine; the compiled-in defaults apply and individual tests
// override the fields they care about.
func GetConfig() *config.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup environment for test: %v\n", err)
		}
		cfg := config.NewConfig()
		config.LoadConfig(cfg)
		state.config = cfg
	}
	return state.config
}
