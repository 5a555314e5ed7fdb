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

package services

import (
	"context"

	"github.com/jaycherian/go-shot-recall/internal/core/model"
	"github.com/jaycherian/go-shot-recall/internal/core/workflow"
	"github.com/jaycherian/go-shot-recall/internal/store"
)

// AssetService is the thin surface the HTTP layer uses for asset lifecycle
// operations; the heavy lifting lives in the orchestrator and store.
type AssetService struct {
	store        *store.Store
	orchestrator *workflow.Orchestrator
}

func NewAssetService(s *store.Store, o *workflow.Orchestrator) *AssetService {
	return &AssetService{store: s, orchestrator: o}
}

// Register enqueues a source file for preprocessing. A duplicate path is
// reported with the existing asset so the caller can reprocess instead.
func (s *AssetService) Register(ctx context.Context, path string) (*model.Asset, error) {
	return s.orchestrator.EnqueueAsset(ctx, path)
}

// Get returns the asset record.
func (s *AssetService) Get(ctx context.Context, assetId string) (*model.Asset, error) {
	return s.store.GetAsset(ctx, assetId)
}

// List returns all registered assets.
func (s *AssetService) List(ctx context.Context) ([]*model.Asset, error) {
	return s.store.ListAssets(ctx)
}

// Progress reports per-segment preprocessing progress for one asset.
func (s *AssetService) Progress(ctx context.Context, assetId string) (*model.ProgressReport, error) {
	return s.store.Progress(ctx, assetId)
}

// Reprocess discards the asset's segments and annotations and runs the full
// pipeline again.
func (s *AssetService) Reprocess(ctx context.Context, assetId string) (*model.Asset, error) {
	return s.orchestrator.Reprocess(ctx, assetId)
}

// Delete removes the asset everywhere: in-flight work, index, store.
func (s *AssetService) Delete(ctx context.Context, assetId string) error {
	return s.orchestrator.Remove(ctx, assetId)
}
