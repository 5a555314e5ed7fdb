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
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaycherian/go-shot-recall/internal/core/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Register footage files and wait for preprocessing to finish",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runIngest(args)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(paths []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	InitState(ctx)
	defer ShutdownState()

	ids := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			log.Fatalf("bad path %s: %v", p, err)
		}
		asset, err := state.assetService.Register(ctx, abs)
		if err != nil && !errors.Is(err, model.ErrDuplicate) {
			log.Fatalf("failed to register %s: %v", abs, err)
		}
		if errors.Is(err, model.ErrDuplicate) {
			slog.Info("already registered", "path", abs, "asset", asset.Id, "status", asset.Status)
			if asset.Status.Terminal() {
				continue
			}
		} else {
			slog.Info("registered", "path", abs, "asset", asset.Id)
		}
		ids = append(ids, asset.Id)
	}

	for _, id := range ids {
		waitForAsset(ctx, id)
	}
}

func waitForAsset(ctx context.Context, assetId string) {
	for {
		report, err := state.assetService.Progress(ctx, assetId)
		if err != nil {
			log.Fatalf("failed to read progress for %s: %v", assetId, err)
		}
		fmt.Printf("%s  %-10s %5.1f%%\n", assetId, report.Status, report.Percent)
		if report.Status == model.AssetReady || report.Status == model.AssetFailed {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}
