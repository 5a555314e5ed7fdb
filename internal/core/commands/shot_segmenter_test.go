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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/go-shot-recall/internal/core/model"
)

func segmentLengths(boundaries []float64) []float64 {
	out := make([]float64, 0, len(boundaries)-1)
	for i := 0; i < len(boundaries)-1; i++ {
		out = append(out, boundaries[i+1]-boundaries[i])
	}
	return out
}

func TestPlanBoundariesNoCuts(t *testing.T) {
	b := PlanBoundaries(37, nil, 10, 0.5)
	assert.Equal(t, []float64{0, 10, 20, 30, 37}, b)
	assert.Equal(t, []float64{10, 10, 10, 7}, segmentLengths(b))
}

func TestPlanBoundariesShortAsset(t *testing.T) {
	b := PlanBoundaries(4.2, nil, 10, 0.5)
	assert.Equal(t, []float64{0, 4.2}, b)
}

func TestPlanBoundariesTinyTailMergesBack(t *testing.T) {
	// 30.3s: the greedy chop at 30 would leave a 0.3s tail, so the last
	// piece absorbs it and may exceed the maximum.
	b := PlanBoundaries(30.3, nil, 10, 0.5)
	require.Equal(t, []float64{0, 10, 20, 30.3}, b)
	assert.InDelta(t, 10.3, segmentLengths(b)[2], 1e-9)
}

func TestPlanBoundariesRespectsCuts(t *testing.T) {
	b := PlanBoundaries(20, []float64{6.5, 13.0}, 10, 0.5)
	assert.Equal(t, []float64{0, 6.5, 13.0, 20}, b)
}

func TestPlanBoundariesDropsCutsTooCloseTogether(t *testing.T) {
	// 6.7 is within the minimum of the 6.5 cut; 19.8 is within the minimum
	// of the asset end. Both are dropped.
	b := PlanBoundaries(20, []float64{6.5, 6.7, 19.8}, 10, 0.5)
	assert.Equal(t, []float64{0, 6.5, 16.5, 20}, b)
}

func TestPlanBoundariesSplitsLongSpanBetweenCuts(t *testing.T) {
	b := PlanBoundaries(40, []float64{25}, 10, 0.5)
	assert.Equal(t, []float64{0, 10, 20, 25, 35, 40}, b)
}

func TestPlanBoundariesPartitionInvariant(t *testing.T) {
	cases := []struct {
		duration float64
		cuts     []float64
	}{
		{37, nil},
		{9.99, []float64{3.2}},
		{120, []float64{11.5, 11.9, 30, 30.2, 100, 119.9}},
		{0.4, nil},
	}
	for _, tc := range cases {
		b := PlanBoundaries(tc.duration, tc.cuts, 10, 0.5)
		require.NotEmpty(t, b)
		assert.Equal(t, 0.0, b[0])
		assert.Equal(t, tc.duration, b[len(b)-1])
		for i := 1; i < len(b); i++ {
			assert.Greater(t, b[i], b[i-1])
		}
	}
}

func TestPlanBoundariesZeroDuration(t *testing.T) {
	assert.Nil(t, PlanBoundaries(0, nil, 10, 0.5))
}

func TestResolveStatus(t *testing.T) {
	assert.Equal(t, model.SegmentSuccess, ResolveStatus(true, true, 1))
	assert.Equal(t, model.SegmentFailed, ResolveStatus(false, false, 1))
	assert.Equal(t, model.SegmentPartial, ResolveStatus(true, false, 1))
	assert.Equal(t, model.SegmentPartial, ResolveStatus(false, true, 1))
	// The follow-up pass is the last chance.
	assert.Equal(t, model.SegmentFailed, ResolveStatus(true, false, 2))
	assert.Equal(t, model.SegmentSuccess, ResolveStatus(true, true, 2))
}

func TestSniffVideoMissingSource(t *testing.T) {
	err := SniffVideo("/nonexistent/footage.mp4")
	assert.ErrorIs(t, err, model.ErrSourceNotFound)
}

func TestExtractionResultMergesPriorPass(t *testing.T) {
	job := &ExtractionJob{
		Segment:      &model.Segment{AssetId: "a", Index: 0, StartSec: 0, EndSec: 5, Attempts: 1},
		PriorTags:    []string{"exterior", "dawn"},
		PriorSummary: "harbor at dawn",
	}
	result := &ExtractionResult{Job: job, Embedding: []float32{0.6, 0.8}}

	assert.True(t, result.HasTags())
	assert.True(t, result.HasEmbedding())
	assert.Equal(t, []string{"exterior", "dawn"}, result.Tags())
	assert.Equal(t, "harbor at dawn", result.Summary())
	assert.Equal(t, []float32{0.6, 0.8}, result.Vector())
}
