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

// This file builds and holds the application state shared by all
// subcommands: configuration, the SQLite store, the in-memory index
// (rebuilt from the store on startup), the model provider, and the services
// layered on top.
package main

import (
	"context"
	"log"
	"time"

	"github.com/jaycherian/go-shot-recall/internal/config"
	"github.com/jaycherian/go-shot-recall/internal/core/commands"
	"github.com/jaycherian/go-shot-recall/internal/core/services"
	"github.com/jaycherian/go-shot-recall/internal/core/workflow"
	"github.com/jaycherian/go-shot-recall/internal/index"
	"github.com/jaycherian/go-shot-recall/internal/provider"
	"github.com/jaycherian/go-shot-recall/internal/store"
)

// StateManager is the central dependency container, so subcommands share
// one wired instance of everything instead of globals scattered per file.
type StateManager struct {
	config        *config.Config
	store         *store.Store
	index         *index.Index
	provider      provider.Provider
	orchestrator  *workflow.Orchestrator
	cache         *services.CandidateCache
	recallService *services.RecallService
	assetService  *services.AssetService
	roughCut      *commands.RoughCut
}

var state = &StateManager{}

// GetConfig loads the configuration once and caches it.
func GetConfig() *config.Config {
	if state.config == nil {
		cfg := config.NewConfig()
		config.LoadConfig(cfg)
		state.config = cfg
	}
	return state.config
}

// InitState wires the full application state and starts the background
// machinery: the preprocessing orchestrator and the cache reaper.
func InitState(ctx context.Context) {
	cfg := GetConfig()

	s, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	state.store = s

	state.index = index.New(
		cfg.Provider.EmbedDimensions,
		cfg.Index.LinearScanThreshold,
		cfg.Index.Clusters,
		cfg.Index.Probes,
	)
	if err := rebuildIndex(ctx, s, state.index); err != nil {
		log.Fatalf("failed to rebuild index: %v", err)
	}

	p, err := provider.NewOpenAI(cfg.Provider)
	if err != nil {
		log.Fatalf("failed to create provider: %v", err)
	}
	state.provider = p

	state.orchestrator = workflow.NewOrchestrator(cfg, s, state.index, p)
	if err := state.orchestrator.Start(ctx); err != nil {
		log.Fatalf("failed to start orchestrator: %v", err)
	}

	state.cache = services.NewCandidateCache(time.Duration(cfg.Cache.TTLMinutes) * time.Minute)
	state.cache.StartReaper(time.Duration(cfg.Cache.ReaperSeconds) * time.Second)

	state.recallService = services.NewRecallService(cfg.Ranker, state.index, p, state.cache)
	state.assetService = services.NewAssetService(s, state.orchestrator)
	state.roughCut = commands.NewRoughCut("rough-cut", cfg.RoughCut, cfg.Segmenter)
}

// ShutdownState stops background work and closes the store.
func ShutdownState() {
	if state.orchestrator != nil {
		state.orchestrator.Stop()
	}
	if state.cache != nil {
		state.cache.Stop()
	}
	if state.store != nil {
		_ = state.store.Close()
	}
}

// rebuildIndex replays every successful segment's stored annotation into the
// in-memory index.
func rebuildIndex(ctx context.Context, s *store.Store, x *index.Index) error {
	annotated, err := s.LoadAnnotated(ctx)
	if err != nil {
		return err
	}
	for _, ann := range annotated {
		entry := &index.Entry{
			Key:          ann.Segment.Key(),
			AssetId:      ann.Segment.AssetId,
			SegmentIndex: ann.Segment.Index,
			Path:         ann.Path,
			StartSec:     ann.Segment.StartSec,
			EndSec:       ann.Segment.EndSec,
			Summary:      ann.Summary,
			Tags:         ann.Tags,
			Vector:       ann.Embedding,
		}
		if err := x.Insert(entry); err != nil {
			return err
		}
	}
	return nil
}
