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

// Package workflow assembles the command chains into the preprocessing
// orchestrator: a bounded worker pool fed from the durable segment queue,
// with per-asset cancellation and the asset readiness barrier.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jaycherian/go-shot-recall/internal/config"
	"github.com/jaycherian/go-shot-recall/internal/core/commands"
	"github.com/jaycherian/go-shot-recall/internal/core/cor"
	"github.com/jaycherian/go-shot-recall/internal/core/model"
	"github.com/jaycherian/go-shot-recall/internal/index"
	"github.com/jaycherian/go-shot-recall/internal/provider"
	"github.com/jaycherian/go-shot-recall/internal/store"
)

// dispatchInterval is how often the dispatcher polls the durable queue for
// claimable segments.
const dispatchInterval = 2 * time.Second

// Orchestrator drives preprocessing end to end: registration runs the
// segmentation chain, the dispatcher claims pending and partial segments
// from the store, and a fixed pool of workers runs the extraction chain per
// segment. All model calls go through one shared provider, so the pool size
// is the concurrency bound.
type Orchestrator struct {
	cfg      *config.Config
	store    *store.Store
	index    *index.Index
	provider provider.Provider

	segmentChain cor.Chain
	extractChain cor.Chain

	jobs   chan *commands.ExtractionJob
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	assets map[string]*assetHandle
}

// assetHandle pairs an asset's cancellable context with its cancel func so
// every in-flight chain for the asset can be cut at once.
type assetHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator wires the chains. Call Start before enqueueing work.
func NewOrchestrator(cfg *config.Config, s *store.Store, x *index.Index, p provider.Provider) *Orchestrator {
	segmentChain := cor.NewBaseChain("shot-segmentation")
	segmentChain.AddCommand(commands.NewShotSegmenter("segment-shots", cfg.Segmenter, s))

	extractChain := cor.NewBaseChain("segment-extraction")
	extractChain.AddCommand(commands.NewTagEmbedExtractor("extract-tags-and-embedding", cfg.Segmenter, p))
	extractChain.AddCommand(commands.NewIndexWriter("write-to-index", s, x))

	return &Orchestrator{
		cfg:          cfg,
		store:        s,
		index:        x,
		provider:     p,
		segmentChain: segmentChain,
		extractChain: extractChain,
		jobs:         make(chan *commands.ExtractionJob, cfg.Application.WorkerPoolSize*2),
		assets:       make(map[string]*assetHandle),
	}
}

// Start recovers segments stranded by a previous run, then launches the
// worker pool and the queue dispatcher.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.ctx, o.cancel = context.WithCancel(ctx)
	reset, err := o.store.ResetInFlight(o.ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		slog.Info("recovered in-flight segments", "count", reset)
	}
	for w := 0; w < o.cfg.Application.WorkerPoolSize; w++ {
		o.wg.Add(1)
		go o.worker()
	}
	o.wg.Add(1)
	go o.dispatch()
	return nil
}

// Stop cancels all in-flight work and waits for the pool and any
// background segmentation to drain.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
}

// EnqueueAsset registers a source file and runs segmentation in the
// background. Registering an already-known path returns the stored asset
// with model.ErrDuplicate so the caller can offer reprocessing instead.
func (o *Orchestrator) EnqueueAsset(ctx context.Context, path string) (*model.Asset, error) {
	asset := model.NewAsset(path)
	if err := o.store.CreateAsset(ctx, asset); err != nil {
		if errors.Is(err, model.ErrDuplicate) {
			existing, getErr := o.store.GetAsset(ctx, asset.Id)
			if getErr != nil {
				return nil, getErr
			}
			return existing, err
		}
		return nil, err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.segment(asset)
	}()
	return asset, nil
}

// Reprocess cancels the asset's in-flight work, drops its index entries, and
// re-runs segmentation from scratch.
func (o *Orchestrator) Reprocess(ctx context.Context, assetId string) (*model.Asset, error) {
	asset, err := o.store.GetAsset(ctx, assetId)
	if err != nil {
		return nil, err
	}
	o.cancelAsset(assetId)
	o.index.RemoveAsset(assetId)
	if err := o.store.SetAssetStatus(ctx, assetId, model.AssetPending); err != nil {
		return nil, err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.segment(asset)
	}()
	return asset, nil
}

// Remove cancels the asset's in-flight work and deletes it from the index
// and the store. In-flight extraction results are discarded on landing.
func (o *Orchestrator) Remove(ctx context.Context, assetId string) error {
	o.cancelAsset(assetId)
	o.index.RemoveAsset(assetId)
	return o.store.DeleteAsset(ctx, assetId)
}

// assetContext returns the asset's shared cancellable context, creating a
// fresh one when none exists or the previous one was already canceled.
func (o *Orchestrator) assetContext(assetId string) context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.assets[assetId]; ok && h.ctx.Err() == nil {
		return h.ctx
	}
	ctx, cancel := context.WithCancel(o.ctx)
	o.assets[assetId] = &assetHandle{ctx: ctx, cancel: cancel}
	return ctx
}

func (o *Orchestrator) cancelAsset(assetId string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.assets[assetId]; ok {
		h.cancel()
		delete(o.assets, assetId)
	}
}

// segment runs the segmentation chain for one asset.
func (o *Orchestrator) segment(asset *model.Asset) {
	ctx := o.assetContext(asset.Id)
	c := cor.NewBaseContext()
	c.SetContext(ctx)
	defer c.Close()
	c.Add(cor.CtxIn, asset)
	o.segmentChain.Execute(c)
	if c.HasErrors() {
		for name, err := range c.GetErrors() {
			slog.Error("segmentation failed", "asset", asset.Id, "command", name, "error", err)
		}
		if err := o.store.SetAssetStatus(context.Background(), asset.Id, model.AssetFailed); err != nil {
			slog.Error("failed to mark asset failed", "asset", asset.Id, "error", err)
		}
	}
}

// dispatch polls the durable queue and feeds claimed segments to the pool.
func (o *Orchestrator) dispatch() {
	defer o.wg.Done()
	defer close(o.jobs)
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.dispatchOnce()
		}
	}
}

func (o *Orchestrator) dispatchOnce() {
	claimed, err := o.store.ClaimPending(o.ctx, cap(o.jobs))
	if err != nil {
		if o.ctx.Err() == nil {
			slog.Error("queue claim failed", "error", err)
		}
		return
	}
	for _, seg := range claimed {
		job, err := o.buildJob(seg)
		if err != nil {
			slog.Error("failed to build extraction job", "segment", seg.Key(), "error", err)
			continue
		}
		select {
		case o.jobs <- job:
		case <-o.ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) buildJob(seg *model.Segment) (*commands.ExtractionJob, error) {
	asset, err := o.store.GetAsset(o.ctx, seg.AssetId)
	if err != nil {
		return nil, err
	}
	tags, summary, embedding, err := o.store.GetAnnotation(o.ctx, seg.AssetId, seg.Index)
	if err != nil {
		return nil, err
	}
	return &commands.ExtractionJob{
		Segment:        seg,
		Path:           asset.Path,
		PriorTags:      tags,
		PriorSummary:   summary,
		PriorEmbedding: embedding,
	}, nil
}

// worker runs the extraction chain for one segment at a time. A failure in
// one segment never affects its siblings.
func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for job := range o.jobs {
		ctx := o.assetContext(job.Segment.AssetId)
		c := cor.NewBaseContext()
		c.SetContext(ctx)
		c.Add(cor.CtxIn, job)
		o.extractChain.Execute(c)
		if c.HasErrors() {
			for name, err := range c.GetErrors() {
				slog.Error("extraction chain failed", "segment", job.Segment.Key(), "command", name, "error", err)
			}
		}
		c.Close()
	}
}
