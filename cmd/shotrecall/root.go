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

package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jaycherian/go-shot-recall/internal/config"
	"github.com/jaycherian/go-shot-recall/internal/telemetry"
)

var (
	flagConfigPrefix string
	flagRuntime      string
)

var rootCmd = &cobra.Command{
	Use:   "shotrecall",
	Short: "Reference footage recall for pre-production",
	Long: `shotrecall indexes reference footage into tagged, embedded shots and
recalls the best candidates for a story beat, with instant switching between
cached candidates and rough-cut extraction of the chosen shot.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Secrets (OPENAI_API_KEY) come from .env when present; missing
		// .env is fine in environments that export them directly.
		_ = godotenv.Load()
		if err := os.Setenv(config.EnvConfigFilePrefix, flagConfigPrefix); err != nil {
			slog.Error("failed to set config prefix", "error", err)
			os.Exit(1)
		}
		if err := os.Setenv(config.EnvConfigRuntime, flagRuntime); err != nil {
			slog.Error("failed to set runtime", "error", err)
			os.Exit(1)
		}
		telemetry.SetupLogging()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPrefix, "config-prefix", "configs",
		"directory holding the .env*.toml configuration files")
	rootCmd.PersistentFlags().StringVar(&flagRuntime, "runtime", "local",
		"runtime environment suffix for configuration overrides")
}
