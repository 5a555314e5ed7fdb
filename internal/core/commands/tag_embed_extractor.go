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
	"fmt"

	"github.com/jaycherian/go-shot-recall/internal/config"
	"github.com/jaycherian/go-shot-recall/internal/core/cor"
	"github.com/jaycherian/go-shot-recall/internal/core/model"
	"github.com/jaycherian/go-shot-recall/internal/provider"
)

// ExtractionJob is one segment's unit of extraction work. Prior* carries
// whatever a previous pass already extracted, so a follow-up pass on a
// partial segment redoes only the missing sub-step.
type ExtractionJob struct {
	Segment        *model.Segment
	Path           string
	PriorTags      []string
	PriorSummary   string
	PriorEmbedding []float32
}

// ExtractionResult reports the outcome of both sub-steps. A nil TagSet with
// a nil TagErr means the tagging sub-step was skipped because a prior pass
// already covered it; likewise for the embedding side.
type ExtractionResult struct {
	Job       *ExtractionJob
	TagSet    *model.TagSet
	Embedding []float32
	TagErr    error
	EmbedErr  error
}

// Tags returns the effective flattened tag list after this pass.
func (r *ExtractionResult) Tags() []string {
	if r.TagSet != nil {
		return r.TagSet.Flatten()
	}
	return r.Job.PriorTags
}

// Summary returns the effective one-line summary after this pass.
func (r *ExtractionResult) Summary() string {
	if r.TagSet != nil {
		return r.TagSet.Summary
	}
	return r.Job.PriorSummary
}

// Vector returns the effective embedding after this pass, nil if none.
func (r *ExtractionResult) Vector() []float32 {
	if r.Embedding != nil {
		return r.Embedding
	}
	return r.Job.PriorEmbedding
}

// HasTags reports whether the segment now has a tag annotation.
func (r *ExtractionResult) HasTags() bool {
	return r.TagSet != nil || len(r.Job.PriorTags) > 0
}

// HasEmbedding reports whether the segment now has an embedding.
func (r *ExtractionResult) HasEmbedding() bool {
	return r.Embedding != nil || r.Job.PriorEmbedding != nil
}

// TagEmbedExtractor runs the two extraction sub-steps for one segment: a
// categorized TagSet from the shot's midpoint keyframe, then an embedding of
// the summary sentence. One sub-step failing never aborts the other when the
// other's input is available, which is what makes the partial status
// possible.
type TagEmbedExtractor struct {
	cor.BaseCommand
	cfg      config.Segmenter
	provider provider.Provider
}

func NewTagEmbedExtractor(name string, cfg config.Segmenter, p provider.Provider) *TagEmbedExtractor {
	return &TagEmbedExtractor{BaseCommand: *cor.NewBaseCommand(name), cfg: cfg, provider: p}
}

func (c *TagEmbedExtractor) Execute(context cor.Context) {
	job := context.Get(c.GetInputParam()).(*ExtractionJob)
	ctx := context.GetContext()
	result := &ExtractionResult{Job: job}

	if len(job.PriorTags) == 0 {
		midpoint := job.Segment.StartSec + job.Segment.DurationSec()/2
		frame, err := ExtractKeyframe(ctx, c.cfg.FFmpegPath, job.Path, midpoint)
		if err != nil {
			result.TagErr = err
		} else if tagSet, err := c.provider.TagShot(ctx, frame); err != nil {
			result.TagErr = err
		} else {
			result.TagSet = tagSet
		}
	}

	if job.PriorEmbedding == nil {
		summary := result.Summary()
		if summary == "" {
			result.EmbedErr = fmt.Errorf("%w: no summary to embed", model.ErrProvider)
		} else if vec, err := c.provider.EmbedText(ctx, summary); err != nil {
			result.EmbedErr = err
		} else {
			result.Embedding = vec
		}
	}

	if result.TagErr != nil || result.EmbedErr != nil {
		c.GetErrorCounter().Add(ctx, 1)
	} else {
		c.GetSuccessCounter().Add(ctx, 1)
	}
	// Sub-step errors are part of the result, not chain errors: the index
	// writer turns them into the segment's status without stopping the
	// chain for the other segments.
	context.Add(c.GetOutputParam(), result)
}
