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
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/go-shot-recall/internal/core/cor"
	"github.com/jaycherian/go-shot-recall/internal/core/model"
	"github.com/jaycherian/go-shot-recall/internal/index"
	"github.com/jaycherian/go-shot-recall/internal/store"
)

type writerFixture struct {
	store  *store.Store
	index  *index.Index
	writer *IndexWriter
	asset  *model.Asset
}

func newWriterFixture(t *testing.T, segmentCount int) *writerFixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "recall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	asset := model.NewAsset("/footage/harbor.mp4")
	require.NoError(t, s.CreateAsset(ctx, asset))
	segs := make([]*model.Segment, 0, segmentCount)
	for i := 0; i < segmentCount; i++ {
		segs = append(segs, &model.Segment{
			AssetId: asset.Id, Index: i,
			StartSec: float64(i * 5), EndSec: float64(i*5 + 5),
			Status: model.SegmentProcessing,
		})
	}
	require.NoError(t, s.ReplaceSegments(ctx, asset.Id, segs))
	// ReplaceSegments writes them pending; mimic the claimed state.
	for _, seg := range segs {
		require.NoError(t, s.SetSegmentStatus(ctx, asset.Id, seg.Index, model.SegmentProcessing, 0, ""))
	}

	x := index.New(3, 1000, 4, 2)
	return &writerFixture{
		store:  s,
		index:  x,
		writer: NewIndexWriter("write-to-index", s, x),
		asset:  asset,
	}
}

func (f *writerFixture) run(ctx context.Context, result *ExtractionResult) cor.Context {
	c := cor.NewBaseContext()
	c.SetContext(ctx)
	c.Add(cor.CtxIn, result)
	f.writer.Execute(c)
	return c
}

func fullResult(f *writerFixture, segIdx int) *ExtractionResult {
	seg := &model.Segment{AssetId: f.asset.Id, Index: segIdx,
		StartSec: float64(segIdx * 5), EndSec: float64(segIdx*5 + 5),
		Status: model.SegmentProcessing}
	return &ExtractionResult{
		Job:       &ExtractionJob{Segment: seg, Path: f.asset.Path},
		TagSet:    model.GetTagSetExample(),
		Embedding: []float32{0.6, 0.8, 0},
	}
}

func TestIndexWriterSuccessPath(t *testing.T) {
	f := newWriterFixture(t, 1)
	ctx := context.Background()

	c := f.run(ctx, fullResult(f, 0))
	require.False(t, c.HasErrors())

	assert.Equal(t, 1, f.index.Len())
	segs, err := f.store.ListSegments(ctx, f.asset.Id)
	require.NoError(t, err)
	assert.Equal(t, model.SegmentSuccess, segs[0].Status)
	assert.Equal(t, 1, segs[0].Attempts)

	// Last segment terminal: the asset settles ready.
	a, err := f.store.GetAsset(ctx, f.asset.Id)
	require.NoError(t, err)
	assert.Equal(t, model.AssetReady, a.Status)
}

func TestIndexWriterPartialThenFollowUp(t *testing.T) {
	f := newWriterFixture(t, 1)
	ctx := context.Background()

	// First pass: tags landed, embedding failed.
	first := fullResult(f, 0)
	first.Embedding = nil
	first.EmbedErr = assert.AnError
	c := f.run(ctx, first)
	require.False(t, c.HasErrors())

	segs, err := f.store.ListSegments(ctx, f.asset.Id)
	require.NoError(t, err)
	assert.Equal(t, model.SegmentPartial, segs[0].Status)
	assert.NotEmpty(t, segs[0].LastError)
	assert.Zero(t, f.index.Len())

	// Follow-up pass: prior tags carried, only the embedding is new.
	tags, summary, _, err := f.store.GetAnnotation(ctx, f.asset.Id, 0)
	require.NoError(t, err)
	require.NotEmpty(t, tags)
	second := &ExtractionResult{
		Job: &ExtractionJob{
			Segment:      segs[0],
			Path:         f.asset.Path,
			PriorTags:    tags,
			PriorSummary: summary,
		},
		Embedding: []float32{0.6, 0.8, 0},
	}
	c = f.run(ctx, second)
	require.False(t, c.HasErrors())

	segs, err = f.store.ListSegments(ctx, f.asset.Id)
	require.NoError(t, err)
	assert.Equal(t, model.SegmentSuccess, segs[0].Status)
	assert.Equal(t, 2, segs[0].Attempts)
	assert.Equal(t, 1, f.index.Len())
}

func TestIndexWriterSpentFollowUpFails(t *testing.T) {
	f := newWriterFixture(t, 1)
	ctx := context.Background()

	result := fullResult(f, 0)
	result.Job.Segment.Attempts = 1 // follow-up pass
	result.Embedding = nil
	result.EmbedErr = assert.AnError
	c := f.run(ctx, result)
	require.False(t, c.HasErrors())

	segs, err := f.store.ListSegments(ctx, f.asset.Id)
	require.NoError(t, err)
	assert.Equal(t, model.SegmentFailed, segs[0].Status)

	// Sole segment failed: the asset settles failed.
	a, err := f.store.GetAsset(ctx, f.asset.Id)
	require.NoError(t, err)
	assert.Equal(t, model.AssetFailed, a.Status)
}

func TestIndexWriterFailureIsolation(t *testing.T) {
	f := newWriterFixture(t, 2)
	ctx := context.Background()

	bad := fullResult(f, 0)
	bad.TagSet = nil
	bad.TagErr = assert.AnError
	bad.Embedding = nil
	bad.EmbedErr = assert.AnError
	c := f.run(ctx, bad)
	require.False(t, c.HasErrors())

	c = f.run(ctx, fullResult(f, 1))
	require.False(t, c.HasErrors())

	segs, err := f.store.ListSegments(ctx, f.asset.Id)
	require.NoError(t, err)
	assert.Equal(t, model.SegmentFailed, segs[0].Status)
	assert.Equal(t, model.SegmentSuccess, segs[1].Status)

	// One success is enough for the asset to be ready.
	a, err := f.store.GetAsset(ctx, f.asset.Id)
	require.NoError(t, err)
	assert.Equal(t, model.AssetReady, a.Status)
	assert.Equal(t, 1, f.index.Len())
}

func TestIndexWriterDiscardsOnCancel(t *testing.T) {
	f := newWriterFixture(t, 1)
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	c := f.run(canceled, fullResult(f, 0))
	require.False(t, c.HasErrors())

	// Nothing written: no index entry, no status transition.
	assert.Zero(t, f.index.Len())
	segs, err := f.store.ListSegments(context.Background(), f.asset.Id)
	require.NoError(t, err)
	assert.Equal(t, model.SegmentProcessing, segs[0].Status)
	a, err := f.store.GetAsset(context.Background(), f.asset.Id)
	require.NoError(t, err)
	assert.NotEqual(t, model.AssetReady, a.Status)
}
