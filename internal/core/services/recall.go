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
	"fmt"
	"sort"

	"github.com/jaycherian/go-shot-recall/internal/config"
	"github.com/jaycherian/go-shot-recall/internal/core/model"
	"github.com/jaycherian/go-shot-recall/internal/index"
	"github.com/jaycherian/go-shot-recall/internal/provider"
)

// TopK is the shortlist size cached per query context.
const TopK = 5

// vectorFanout is how many vector neighbors feed the hybrid merge before
// the shortlist cut.
const vectorFanout = 50

// RecallResult is one recall invocation's outcome. NoMatch is set when every
// scored segment fell below the relevance floor, which the UI surfaces
// explicitly instead of showing weak candidates.
type RecallResult struct {
	ContextId   string             `json:"context_id"`
	Candidates  []*model.Candidate `json:"candidates"`
	ActiveIndex int                `json:"active_index"`
	NoMatch     bool               `json:"no_match"`
}

// RecallService ranks indexed segments against a query context with a
// hybrid tag/vector score and fills the candidate cache for switching.
type RecallService struct {
	cfg      config.Ranker
	index    *index.Index
	provider provider.Provider
	cache    *CandidateCache
}

func NewRecallService(cfg config.Ranker, x *index.Index, p provider.Provider, cache *CandidateCache) *RecallService {
	return &RecallService{cfg: cfg, index: x, provider: p, cache: cache}
}

// Recall scores the corpus against the query and caches the Top-K shortlist
// under the query's context id. The query needs at least one modality: tags,
// free text (embedded on the fly), or a ready-made query vector.
func (s *RecallService) Recall(ctx context.Context, q *model.QueryContext) (*RecallResult, error) {
	if q.ContextId == "" {
		return nil, fmt.Errorf("%w: context_id is required", model.ErrValidation)
	}
	if len(q.Tags) == 0 && q.Text == "" && len(q.QueryVector) == 0 {
		return nil, fmt.Errorf("%w: query needs tags, text, or a query vector", model.ErrValidation)
	}

	queryVector := q.QueryVector
	if len(queryVector) == 0 && q.Text != "" {
		vec, err := s.provider.EmbedText(ctx, q.Text)
		if err != nil {
			return nil, fmt.Errorf("embed query text: %w", err)
		}
		queryVector = vec
	}

	type scored struct {
		entry    *index.Entry
		tagScore float64
		vecScore float64
	}
	merged := make(map[string]*scored)

	if len(queryVector) > 0 {
		matches, err := s.index.SearchByVector(queryVector, vectorFanout)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			merged[m.Entry.Key] = &scored{entry: m.Entry, vecScore: m.Score}
		}
	}
	if len(q.Tags) > 0 {
		for _, m := range s.index.SearchByTags(q.Tags, index.ModeAny, vectorFanout) {
			if sc, ok := merged[m.Entry.Key]; ok {
				sc.tagScore = m.Score
			} else {
				merged[m.Entry.Key] = &scored{entry: m.Entry, tagScore: m.Score}
			}
		}
	}

	// The weighted sum applies regardless of which modalities the query
	// carried; an absent modality scores zero, so a tags-only query is
	// floored on the same scale as a hybrid one.
	candidates := make([]*model.Candidate, 0, len(merged))
	for _, sc := range merged {
		combined := s.cfg.TagWeight*sc.tagScore + s.cfg.VectorWeight*sc.vecScore
		if combined < s.cfg.RelevanceFloor {
			continue
		}
		candidates = append(candidates, &model.Candidate{
			AssetId:       sc.entry.AssetId,
			SegmentIndex:  sc.entry.SegmentIndex,
			Path:          sc.entry.Path,
			StartSec:      sc.entry.StartSec,
			EndSec:        sc.entry.EndSec,
			Summary:       sc.entry.Summary,
			TagScore:      sc.tagScore,
			VectorScore:   sc.vecScore,
			CombinedScore: combined,
		})
	}

	sortCandidates(candidates)
	if len(candidates) > TopK {
		candidates = candidates[:TopK]
	}

	result := &RecallResult{
		ContextId:  q.ContextId,
		Candidates: candidates,
		NoMatch:    len(candidates) == 0,
	}
	s.cache.Put(q.ContextId, candidates)
	return result, nil
}

// Switch delegates to the cache. The ranker is never consulted, which is
// what keeps candidate switching at interactive latency.
func (s *RecallService) Switch(contextId string, idx int) (*model.Candidate, error) {
	return s.cache.Switch(contextId, idx)
}

// sortCandidates orders by descending combined score; ties prefer the
// shorter clip, then the earlier start, then the stable segment identity.
func sortCandidates(candidates []*model.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if a.DurationSec() != b.DurationSec() {
			return a.DurationSec() < b.DurationSec()
		}
		if a.StartSec != b.StartSec {
			return a.StartSec < b.StartSec
		}
		if a.AssetId != b.AssetId {
			return a.AssetId < b.AssetId
		}
		return a.SegmentIndex < b.SegmentIndex
	})
}
