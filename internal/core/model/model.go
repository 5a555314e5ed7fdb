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

// Package model defines the core data structures for the footage recall
// pipeline: source assets, the bounded-duration segments they are cut into,
// the tag/vector annotations attached to each segment, and the candidate
// results produced by a recall query.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AssetStatus tracks a source video through preprocessing.
type AssetStatus string

const (
	AssetPending    AssetStatus = "pending"
	AssetProcessing AssetStatus = "processing"
	AssetReady      AssetStatus = "ready"
	AssetFailed     AssetStatus = "failed"
)

// Terminal reports whether preprocessing is finished for the asset.
func (s AssetStatus) Terminal() bool {
	return s == AssetReady || s == AssetFailed
}

// SegmentStatus tracks one shot through tag/embedding extraction. A segment
// is immutable once it reaches SegmentSuccess or SegmentFailed; a reprocess
// request replaces the asset's segment set wholesale.
type SegmentStatus string

const (
	SegmentPending    SegmentStatus = "pending"
	SegmentProcessing SegmentStatus = "processing"
	// SegmentPartial means exactly one of the two extraction sub-steps
	// (tagging, embedding) succeeded. A partial segment gets one follow-up
	// pass before it is marked failed.
	SegmentPartial SegmentStatus = "partial"
	SegmentSuccess SegmentStatus = "success"
	SegmentFailed  SegmentStatus = "failed"
)

// Terminal reports whether the status is final for barrier purposes.
func (s SegmentStatus) Terminal() bool {
	return s == SegmentSuccess || s == SegmentFailed
}

// Asset is a source video registered for preprocessing. The ID is a UUIDv5
// hash of the source path so that re-registering the same file is idempotent.
type Asset struct {
	Id          string      `json:"id"`
	Path        string      `json:"path"`
	DurationSec float64     `json:"duration_sec"`
	Status      AssetStatus `json:"status"`
	CreateDate  time.Time   `json:"create_date"`
}

// NewAsset creates an Asset for the given source path with a deterministic
// ID and a pending status.
func NewAsset(path string) *Asset {
	return &Asset{
		Id:         uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String(),
		Path:       path,
		Status:     AssetPending,
		CreateDate: time.Now(),
	}
}

// Segment is one bounded-duration shot of an asset. Segments of one asset
// partition it: the first starts at 0, each starts where the previous ended,
// and the last ends at the asset duration.
type Segment struct {
	AssetId  string        `json:"asset_id"`
	Index    int           `json:"index"`
	StartSec float64       `json:"start_sec"`
	EndSec   float64       `json:"end_sec"`
	Status   SegmentStatus `json:"status"`

	// Attempts counts extraction passes; a partial segment is retried once.
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// DurationSec returns the segment length in seconds.
func (s *Segment) DurationSec() float64 {
	return s.EndSec - s.StartSec
}

// Key returns the unique (asset_id, index) key used by the store and index.
func (s *Segment) Key() string {
	return SegmentKey(s.AssetId, s.Index)
}

// SegmentKey builds the canonical segment key from its parts.
func SegmentKey(assetId string, index int) string {
	return fmt.Sprintf("%s:%04d", assetId, index)
}

// QueryContext is one recall request: a free-form tag set and/or a query
// vector, identified by the caller's context id (typically a story-beat id).
// When Text is set and QueryVector is not, the recall service derives the
// vector from the text via the embedding provider.
type QueryContext struct {
	ContextId   string    `json:"context_id"`
	Tags        []string  `json:"tags,omitempty"`
	Text        string    `json:"text,omitempty"`
	QueryVector []float32 `json:"query_vector,omitempty"`
}

// Candidate is a segment scored against a query context.
type Candidate struct {
	AssetId      string  `json:"asset_id"`
	SegmentIndex int     `json:"segment_index"`
	Path         string  `json:"path"`
	StartSec     float64 `json:"start_sec"`
	EndSec       float64 `json:"end_sec"`
	Summary      string  `json:"summary,omitempty"`

	TagScore      float64 `json:"tag_score"`
	VectorScore   float64 `json:"vector_score"`
	CombinedScore float64 `json:"combined_score"`
}

// DurationSec returns the candidate clip length in seconds.
func (c *Candidate) DurationSec() float64 {
	return c.EndSec - c.StartSec
}

// ProgressReport is the per-asset preprocessing status surfaced by the API.
type ProgressReport struct {
	AssetId          string                `json:"asset_id"`
	Status           AssetStatus           `json:"status"`
	Percent          float64               `json:"percent"`
	PerSegmentStatus map[int]SegmentStatus `json:"per_segment_status"`
}

// OutputSpec describes where and how a rough cut should be materialized.
type OutputSpec struct {
	Directory string `json:"directory"`
	Container string `json:"container,omitempty"` // defaults to "mp4"
}
