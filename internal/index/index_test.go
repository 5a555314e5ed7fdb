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

package index

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/go-shot-recall/internal/core/model"
)

func entry(key string, tags []string, vec ...float32) *Entry {
	return &Entry{Key: key, AssetId: "asset-a", Tags: tags, Vector: vec}
}

func TestInsertRejectsDimensionMismatch(t *testing.T) {
	x := New(3, 1000, 4, 2)
	err := x.Insert(entry("k1", nil, 1, 0))
	assert.ErrorIs(t, err, model.ErrIndexMismatch)

	require.NoError(t, x.Insert(entry("k1", nil, 1, 0, 0)))
	assert.ErrorIs(t, x.Insert(entry("k1", nil, 0, 1, 0)), model.ErrDuplicate)

	_, err = x.SearchByVector([]float32{1, 0}, 5)
	assert.ErrorIs(t, err, model.ErrIndexMismatch)
}

func TestInsertNormalizesVectors(t *testing.T) {
	x := New(2, 1000, 4, 2)
	require.NoError(t, x.Insert(entry("k1", nil, 3, 4)))

	matches, err := x.SearchByVector([]float32{30, 40}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestSearchByVectorOrderingAndTieBreak(t *testing.T) {
	x := New(2, 1000, 4, 2)
	require.NoError(t, x.Insert(entry("far", nil, 0, 1)))
	require.NoError(t, x.Insert(entry("tie-first", nil, 1, 1)))
	require.NoError(t, x.Insert(entry("tie-second", nil, 1, 1)))
	require.NoError(t, x.Insert(entry("near", nil, 1, 0.01)))

	matches, err := x.SearchByVector([]float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 4)
	assert.Equal(t, "near", matches[0].Entry.Key)
	// Equal scores rank by insertion order.
	assert.Equal(t, "tie-first", matches[1].Entry.Key)
	assert.Equal(t, "tie-second", matches[2].Entry.Key)
	assert.Equal(t, "far", matches[3].Entry.Key)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, 0.0)
		assert.LessOrEqual(t, m.Score, 1.0)
	}
}

func TestCosineClipsNegative(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{-1, 0}
	assert.Equal(t, 0.0, Cosine(a, b))
	assert.Equal(t, 1.0, Cosine(a, a))
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 0.0, Jaccard(nil, nil))
	assert.Equal(t, 1.0, Jaccard([]string{"a", "b"}, []string{"b", "a"}))
	assert.InDelta(t, 1.0/3.0, Jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
	assert.Equal(t, 0.0, Jaccard([]string{"a"}, []string{"b"}))
	// Duplicates in either input do not change the score.
	assert.Equal(t, 1.0, Jaccard([]string{"a", "a"}, []string{"a"}))
}

func TestSearchByTagsModes(t *testing.T) {
	x := New(2, 1000, 4, 2)
	require.NoError(t, x.Insert(entry("both", []string{"exterior", "dawn"}, 1, 0)))
	require.NoError(t, x.Insert(entry("one", []string{"exterior", "night", "wide"}, 0, 1)))
	require.NoError(t, x.Insert(entry("none", []string{"interior"}, 1, 1)))

	any := x.SearchByTags([]string{"Exterior", "dawn"}, ModeAny, 10)
	require.Len(t, any, 2)
	assert.Equal(t, "both", any[0].Entry.Key)
	assert.Equal(t, 1.0, any[0].Score)
	assert.Equal(t, "one", any[1].Entry.Key)

	all := x.SearchByTags([]string{"exterior", "dawn"}, ModeAll, 10)
	require.Len(t, all, 1)
	assert.Equal(t, "both", all[0].Entry.Key)

	assert.Empty(t, x.SearchByTags(nil, ModeAny, 10))
}

func TestRemoveAsset(t *testing.T) {
	x := New(2, 1000, 4, 2)
	require.NoError(t, x.Insert(&Entry{Key: "a:0", AssetId: "a", Vector: []float32{1, 0}}))
	require.NoError(t, x.Insert(&Entry{Key: "b:0", AssetId: "b", Vector: []float32{0, 1}}))
	require.NoError(t, x.Insert(&Entry{Key: "a:1", AssetId: "a", Vector: []float32{1, 1}}))

	assert.Equal(t, 2, x.RemoveAsset("a"))
	assert.Equal(t, 1, x.Len())

	// A removed key is insertable again.
	require.NoError(t, x.Insert(&Entry{Key: "a:0", AssetId: "a", Vector: []float32{1, 0}}))
}

func TestClusteredSearchFindsNearest(t *testing.T) {
	// Threshold of 8 forces the clustered path with a tiny corpus. Entries
	// live on two well-separated directions so the nearest cluster always
	// contains the true best match.
	x := New(3, 8, 2, 1)
	for i := 0; i < 10; i++ {
		jitter := float32(i) * 0.001
		require.NoError(t, x.Insert(entry(fmt.Sprintf("x-%d", i), nil, 1, jitter, 0)))
		require.NoError(t, x.Insert(entry(fmt.Sprintf("y-%d", i), nil, jitter, 1, 0)))
	}
	matches, err := x.SearchByVector([]float32{0, 1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "y-0", matches[0].Entry.Key)
	for _, m := range matches {
		assert.Contains(t, m.Entry.Key, "y-")
	}
}

func TestNormalizeRejectsZeroVector(t *testing.T) {
	_, err := Normalize([]float32{0, 0, 0})
	assert.ErrorIs(t, err, model.ErrValidation)

	v, err := Normalize([]float32{2, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(v[0]), 1e-6)

	var sum float64
	u, err := Normalize([]float32{0.3, -0.4, 0.5})
	require.NoError(t, err)
	for _, c := range u {
		sum += float64(c) * float64(c)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
}
