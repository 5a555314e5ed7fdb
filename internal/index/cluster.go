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

import "sort"

// clusterConfig sizes the coarse quantizer used once the corpus outgrows
// linear scanning.
type clusterConfig struct {
	clusters int
	probes   int
}

type cluster struct {
	centroid []float32
	members  []*Entry
}

type clusterSet struct {
	clusters []cluster
	probes   int
}

const kmeansIterations = 8

// buildClusters runs a few rounds of Lloyd's k-means over the unit vectors.
// Initial centroids are evenly strided over insertion order, which keeps the
// clustering deterministic for a given corpus.
func buildClusters(entries []*Entry, dim int, cfg clusterConfig) *clusterSet {
	k := cfg.clusters
	if k > len(entries) {
		k = len(entries)
	}
	if k < 1 {
		k = 1
	}
	centroids := make([][]float32, k)
	stride := len(entries) / k
	for i := 0; i < k; i++ {
		c := make([]float32, dim)
		copy(c, entries[i*stride].Vector)
		centroids[i] = c
	}

	assign := make([]int, len(entries))
	for iter := 0; iter < kmeansIterations; iter++ {
		changed := false
		for i, e := range entries {
			best, bestDot := 0, -1.0
			for ci, c := range centroids {
				if dot := Cosine(e.Vector, c); dot > bestDot {
					best, bestDot = ci, dot
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, e := range entries {
			c := assign[i]
			counts[c]++
			for d, v := range e.Vector {
				sums[c][d] += float64(v)
			}
		}
		for ci := range centroids {
			if counts[ci] == 0 {
				continue
			}
			for d := range centroids[ci] {
				centroids[ci][d] = float32(sums[ci][d] / float64(counts[ci]))
			}
			if n, err := Normalize(centroids[ci]); err == nil {
				centroids[ci] = n
			}
		}
	}

	cs := &clusterSet{probes: cfg.probes, clusters: make([]cluster, k)}
	for ci := range cs.clusters {
		cs.clusters[ci].centroid = centroids[ci]
	}
	for i, e := range entries {
		c := &cs.clusters[assign[i]]
		c.members = append(c.members, e)
	}
	return cs
}

// probe returns the members of the `probes` clusters whose centroids are
// nearest the query, preserving insertion order within each cluster.
func (cs *clusterSet) probe(query []float32) []*Entry {
	type ranked struct {
		idx int
		dot float64
	}
	order := make([]ranked, len(cs.clusters))
	for i := range cs.clusters {
		order[i] = ranked{idx: i, dot: Cosine(query, cs.clusters[i].centroid)}
	}
	sort.Slice(order, func(i, j int) bool { return order[i].dot > order[j].dot })

	probes := cs.probes
	if probes > len(order) {
		probes = len(order)
	}
	var out []*Entry
	for _, r := range order[:probes] {
		out = append(out, cs.clusters[r.idx].members...)
	}
	return out
}
