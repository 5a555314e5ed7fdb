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

// This file defines the command that turns a registered asset into its
// bounded-duration segment set. Scene-change detection proposes natural cut
// points; PlanBoundaries then enforces the duration bounds so every segment
// is at most the configured maximum and no fragment shorter than the minimum
// survives on its own.
package commands

import (
	"github.com/jaycherian/go-shot-recall/internal/config"
	"github.com/jaycherian/go-shot-recall/internal/core/cor"
	"github.com/jaycherian/go-shot-recall/internal/core/model"
	"github.com/jaycherian/go-shot-recall/internal/store"
)

// ShotSegmenter probes the asset, detects scene cuts, plans boundaries, and
// persists the resulting pending segment set. Its output is the segment
// slice for the next command in the chain.
type ShotSegmenter struct {
	cor.BaseCommand
	cfg   config.Segmenter
	store *store.Store
}

func NewShotSegmenter(name string, cfg config.Segmenter, s *store.Store) *ShotSegmenter {
	return &ShotSegmenter{BaseCommand: *cor.NewBaseCommand(name), cfg: cfg, store: s}
}

func (c *ShotSegmenter) Execute(context cor.Context) {
	asset := context.Get(c.GetInputParam()).(*model.Asset)
	ctx := context.GetContext()

	if err := SniffVideo(asset.Path); err != nil {
		c.fail(context, err)
		return
	}
	duration, err := ProbeDuration(ctx, c.cfg.FFprobePath, asset.Path)
	if err != nil {
		c.fail(context, err)
		return
	}
	cuts, err := DetectSceneCuts(ctx, c.cfg.FFmpegPath, asset.Path, c.cfg.SceneThreshold)
	if err != nil {
		c.fail(context, err)
		return
	}

	boundaries := PlanBoundaries(duration, cuts, c.cfg.MaxSegmentSeconds, c.cfg.MinSegmentSeconds)
	segments := make([]*model.Segment, 0, len(boundaries)-1)
	for i := 0; i < len(boundaries)-1; i++ {
		segments = append(segments, &model.Segment{
			AssetId:  asset.Id,
			Index:    i,
			StartSec: boundaries[i],
			EndSec:   boundaries[i+1],
			Status:   model.SegmentPending,
		})
	}

	if err := c.store.SetAssetDuration(ctx, asset.Id, duration); err != nil {
		c.fail(context, err)
		return
	}
	if err := c.store.ReplaceSegments(ctx, asset.Id, segments); err != nil {
		c.fail(context, err)
		return
	}
	if err := c.store.SetAssetStatus(ctx, asset.Id, model.AssetProcessing); err != nil {
		c.fail(context, err)
		return
	}

	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), segments)
}

func (c *ShotSegmenter) fail(context cor.Context, err error) {
	c.GetErrorCounter().Add(context.GetContext(), 1)
	context.AddError(c.GetName(), err)
}

// PlanBoundaries converts detected cut times into the final boundary list
// [0, ..., duration]. The rules:
//
//   - a cut closer than minSeg to the previous boundary is dropped, merging
//     the fragment into the preceding segment
//   - any span longer than maxSeg is chopped greedily into maxSeg pieces
//   - a final fragment shorter than minSeg folds back into the previous
//     piece, which may then slightly exceed maxSeg
//
// A 37s asset with no cuts and bounds (10, 0.5) yields segments of
// 10, 10, 10, and 7 seconds.
func PlanBoundaries(duration float64, cuts []float64, maxSeg, minSeg float64) []float64 {
	if duration <= 0 {
		return nil
	}
	anchors := []float64{0}
	for _, cut := range cuts {
		if cut-anchors[len(anchors)-1] < minSeg {
			continue
		}
		if duration-cut < minSeg {
			break
		}
		anchors = append(anchors, cut)
	}
	anchors = append(anchors, duration)

	out := []float64{0}
	for i := 1; i < len(anchors); i++ {
		end := anchors[i]
		for end-out[len(out)-1] > maxSeg {
			next := out[len(out)-1] + maxSeg
			if end-next < minSeg {
				// The greedy chop would leave a sub-minimum tail; let the
				// previous piece absorb it instead.
				break
			}
			out = append(out, next)
		}
		out = append(out, end)
	}
	return out
}
