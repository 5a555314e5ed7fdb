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

// Package index holds the in-memory segment index: unit-normalized embedding
// vectors plus flattened tag sets, searchable by cosine similarity and by
// tag overlap. Below a configurable corpus size every vector query is an
// exact linear scan; above it, queries probe a coarse k-means clustering and
// scan only the nearest clusters.
package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jaycherian/go-shot-recall/internal/core/model"
)

// MatchMode selects how a tag query must overlap a segment's tags.
type MatchMode string

const (
	// ModeAny scores any segment sharing at least one tag with the query.
	ModeAny MatchMode = "any"
	// ModeAll scores only segments containing every query tag.
	ModeAll MatchMode = "all"
)

// Entry is one indexed segment. Vectors are stored unit-normalized; tags are
// stored lowercased and deduplicated.
type Entry struct {
	Key          string
	AssetId      string
	SegmentIndex int
	Path         string
	StartSec     float64
	EndSec       float64
	Summary      string
	Tags         []string
	Vector       []float32

	// seq is the insertion order, the deterministic tie-break for equal
	// scores.
	seq int64
}

// Match pairs an entry with a similarity score in [0, 1].
type Match struct {
	Entry *Entry
	Score float64
}

// Index is safe for concurrent use. Reads take the shared lock; inserts and
// removals take the exclusive lock and invalidate the clustering.
type Index struct {
	mu      sync.RWMutex
	dim     int
	entries []*Entry
	byKey   map[string]*Entry
	nextSeq int64

	linearThreshold int
	clusters        *clusterSet
	clusterCfg      clusterConfig
}

// New builds an empty index for vectors of the given fixed dimension.
// Queries fall back to an exact scan while the corpus holds fewer than
// linearThreshold entries; beyond that they probe `probes` of `numClusters`
// coarse clusters.
func New(dim, linearThreshold, numClusters, probes int) *Index {
	return &Index{
		dim:             dim,
		byKey:           make(map[string]*Entry),
		linearThreshold: linearThreshold,
		clusterCfg:      clusterConfig{clusters: numClusters, probes: probes},
	}
}

// Len returns the number of indexed segments.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Insert adds one entry. The vector must match the index dimension exactly
// (never truncated or padded), and the key must be new.
func (x *Index) Insert(e *Entry) error {
	if len(e.Vector) != x.dim {
		return fmt.Errorf("%w: entry %s has dimension %d, index expects %d",
			model.ErrIndexMismatch, e.Key, len(e.Vector), x.dim)
	}
	vec, err := Normalize(e.Vector)
	if err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.byKey[e.Key]; ok {
		return fmt.Errorf("%w: entry %s", model.ErrDuplicate, e.Key)
	}
	stored := *e
	stored.Vector = vec
	stored.Tags = model.NormalizeTags(e.Tags)
	stored.seq = x.nextSeq
	x.nextSeq++
	x.entries = append(x.entries, &stored)
	x.byKey[stored.Key] = &stored
	x.clusters = nil
	return nil
}

// RemoveAsset drops every entry belonging to the asset and returns how many
// were removed. Insertion order of survivors is preserved.
func (x *Index) RemoveAsset(assetId string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	kept := x.entries[:0]
	removed := 0
	for _, e := range x.entries {
		if e.AssetId == assetId {
			delete(x.byKey, e.Key)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	x.entries = kept
	if removed > 0 {
		x.clusters = nil
	}
	return removed
}

// SearchByVector returns up to k entries by descending clipped cosine
// similarity to the query. Equal scores rank by insertion order.
func (x *Index) SearchByVector(query []float32, k int) ([]Match, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d",
			model.ErrIndexMismatch, len(query), x.dim)
	}
	q, err := Normalize(query)
	if err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	var candidates []*Entry
	if len(x.entries) < x.linearThreshold {
		candidates = x.entries
	} else {
		if x.clusters == nil {
			// Rebuild under the read lock is not possible; upgrade.
			x.mu.RUnlock()
			x.rebuildClusters()
			x.mu.RLock()
		}
		if cs := x.clusters; cs != nil {
			candidates = cs.probe(q)
		} else {
			// A concurrent insert invalidated the clustering between the
			// rebuild and the re-lock; scan exactly this once.
			candidates = x.entries
		}
	}

	matches := make([]Match, 0, len(candidates))
	for _, e := range candidates {
		matches = append(matches, Match{Entry: e, Score: Cosine(q, e.Vector)})
	}
	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// SearchByTags scores every entry's tag set against the query by Jaccard
// overlap. In ModeAll an entry missing any query tag scores zero and is
// omitted. Results are descending by score, ties by insertion order.
func (x *Index) SearchByTags(tags []string, mode MatchMode, k int) []Match {
	query := model.NormalizeTags(tags)
	if len(query) == 0 {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	var matches []Match
	for _, e := range x.entries {
		if mode == ModeAll && !containsAll(e.Tags, query) {
			continue
		}
		score := Jaccard(query, e.Tags)
		if score > 0 {
			matches = append(matches, Match{Entry: e, Score: score})
		}
	}
	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func (x *Index) rebuildClusters() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.clusters != nil {
		return
	}
	x.clusters = buildClusters(x.entries, x.dim, x.clusterCfg)
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entry.seq < matches[j].Entry.seq
	})
}

func containsAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, v := range have {
		set[v] = true
	}
	for _, v := range want {
		if !set[v] {
			return false
		}
	}
	return true
}
