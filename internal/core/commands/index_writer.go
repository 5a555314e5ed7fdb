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

package commands

import (
	"errors"

	"github.com/jaycherian/go-shot-recall/internal/core/cor"
	"github.com/jaycherian/go-shot-recall/internal/core/model"
	"github.com/jaycherian/go-shot-recall/internal/index"
	"github.com/jaycherian/go-shot-recall/internal/store"
)

// followUpAttempts is the attempt count after which an incomplete segment
// stops being partial and becomes failed: the first pass plus exactly one
// follow-up.
const followUpAttempts = 2

// IndexWriter lands an extraction result: it persists the annotation,
// resolves the segment's next status, inserts successful segments into the
// search index, and settles the owning asset once every segment is terminal.
// A canceled run discards the result without touching the store or index.
type IndexWriter struct {
	cor.BaseCommand
	store *store.Store
	index *index.Index
}

func NewIndexWriter(name string, s *store.Store, x *index.Index) *IndexWriter {
	return &IndexWriter{BaseCommand: *cor.NewBaseCommand(name), store: s, index: x}
}

func (c *IndexWriter) Execute(context cor.Context) {
	result := context.Get(c.GetInputParam()).(*ExtractionResult)
	ctx := context.GetContext()
	if ctx.Err() != nil {
		// Cancellation: the in-flight result is dropped and the segment
		// stays claimable after the in-flight reset.
		return
	}
	seg := result.Job.Segment

	var newTags []string
	var newSummary string
	if result.TagSet != nil {
		newTags = result.TagSet.Flatten()
		newSummary = result.TagSet.Summary
	}
	if err := c.store.SetSegmentAnnotation(ctx, seg.AssetId, seg.Index, newTags, newSummary, result.Embedding); err != nil {
		c.fail(context, err)
		return
	}

	attempts := seg.Attempts + 1
	status := ResolveStatus(result.HasTags(), result.HasEmbedding(), attempts)
	if err := c.store.SetSegmentStatus(ctx, seg.AssetId, seg.Index, status, attempts, lastError(result)); err != nil {
		c.fail(context, err)
		return
	}

	if status == model.SegmentSuccess {
		entry := &index.Entry{
			Key:          seg.Key(),
			AssetId:      seg.AssetId,
			SegmentIndex: seg.Index,
			Path:         result.Job.Path,
			StartSec:     seg.StartSec,
			EndSec:       seg.EndSec,
			Summary:      result.Summary(),
			Tags:         result.Tags(),
			Vector:       result.Vector(),
		}
		if err := c.index.Insert(entry); err != nil && !errors.Is(err, model.ErrDuplicate) {
			c.fail(context, err)
			return
		}
	}

	if err := c.settleAsset(context, seg.AssetId); err != nil {
		c.fail(context, err)
		return
	}
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), seg.Key())
}

// settleAsset flips the asset to its terminal status once every segment is:
// ready if at least one segment made it into the index, failed otherwise.
func (c *IndexWriter) settleAsset(context cor.Context, assetId string) error {
	ctx := context.GetContext()
	remaining, err := c.store.CountNonTerminal(ctx, assetId)
	if err != nil || remaining > 0 {
		return err
	}
	counts, err := c.store.CountByStatus(ctx, assetId)
	if err != nil {
		return err
	}
	status := model.AssetReady
	if counts[model.SegmentSuccess] == 0 {
		status = model.AssetFailed
	}
	return c.store.SetAssetStatus(ctx, assetId, status)
}

func (c *IndexWriter) fail(context cor.Context, err error) {
	c.GetErrorCounter().Add(context.GetContext(), 1)
	context.AddError(c.GetName(), err)
}

// ResolveStatus maps the post-pass annotation completeness and attempt count
// onto the segment's next status. Exactly one missing sub-step is partial
// until the follow-up pass has been spent.
func ResolveStatus(hasTags, hasEmbedding bool, attempts int) model.SegmentStatus {
	switch {
	case hasTags && hasEmbedding:
		return model.SegmentSuccess
	case !hasTags && !hasEmbedding:
		return model.SegmentFailed
	case attempts >= followUpAttempts:
		return model.SegmentFailed
	default:
		return model.SegmentPartial
	}
}

func lastError(result *ExtractionResult) string {
	if result.TagErr != nil {
		return result.TagErr.Error()
	}
	if result.EmbedErr != nil {
		return result.EmbedErr.Error()
	}
	return ""
}
