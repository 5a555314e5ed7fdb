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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/go-shot-recall/internal/core/model"
)

func candidateList(n int) []*model.Candidate {
	out := make([]*model.Candidate, n)
	for i := range out {
		out[i] = &model.Candidate{AssetId: "asset", SegmentIndex: i, StartSec: float64(i * 10), EndSec: float64(i*10 + 5)}
	}
	return out
}

func TestCacheSwitchAndActive(t *testing.T) {
	c := NewCandidateCache(time.Minute)
	c.Put("beat-7", candidateList(3))

	active, err := c.Active("beat-7")
	require.NoError(t, err)
	assert.Equal(t, 0, active.SegmentIndex)

	got, err := c.Switch("beat-7", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SegmentIndex)

	active, err = c.Active("beat-7")
	require.NoError(t, err)
	assert.Equal(t, 2, active.SegmentIndex)
}

func TestCacheSwitchOutOfRange(t *testing.T) {
	c := NewCandidateCache(time.Minute)
	c.Put("beat-7", candidateList(3))

	_, err := c.Switch("beat-7", 3)
	assert.ErrorIs(t, err, model.ErrIndexOutOfRange)
	_, err = c.Switch("beat-7", -1)
	assert.ErrorIs(t, err, model.ErrIndexOutOfRange)

	// A failed switch leaves the active candidate untouched.
	active, err := c.Active("beat-7")
	require.NoError(t, err)
	assert.Equal(t, 0, active.SegmentIndex)
}

func TestCacheUnknownContext(t *testing.T) {
	c := NewCandidateCache(time.Minute)
	_, err := c.Switch("never-queried", 0)
	assert.ErrorIs(t, err, model.ErrContextNotFound)
	_, _, err = c.Get("never-queried")
	assert.ErrorIs(t, err, model.ErrContextNotFound)
}

func TestCachePutResetsActiveIndex(t *testing.T) {
	c := NewCandidateCache(time.Minute)
	c.Put("beat-7", candidateList(5))
	_, err := c.Switch("beat-7", 4)
	require.NoError(t, err)

	// Re-querying the same context replaces the list and resets the cursor.
	c.Put("beat-7", candidateList(2))
	candidates, active, err := c.Get("beat-7")
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
	assert.Equal(t, 0, active)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCandidateCache(10 * time.Millisecond)
	c.Put("beat-7", candidateList(1))
	time.Sleep(30 * time.Millisecond)

	_, err := c.Active("beat-7")
	assert.ErrorIs(t, err, model.ErrContextNotFound)
}

func TestCacheAccessKeepsEntryAlive(t *testing.T) {
	c := NewCandidateCache(50 * time.Millisecond)
	c.Put("beat-7", candidateList(2))

	// Touch the entry every 15ms for three full TTL windows: the TTL is an
	// idle timeout, so a user actively scrubbing candidates never loses the
	// shortlist.
	for i := 0; i < 10; i++ {
		time.Sleep(15 * time.Millisecond)
		_, err := c.Switch("beat-7", i%2)
		require.NoError(t, err)
	}

	// Once the context actually goes idle, the entry expires.
	time.Sleep(80 * time.Millisecond)
	_, err := c.Active("beat-7")
	assert.ErrorIs(t, err, model.ErrContextNotFound)
}

func TestCacheReaperSweepsExpired(t *testing.T) {
	c := NewCandidateCache(10 * time.Millisecond)
	defer c.Stop()
	c.StartReaper(5 * time.Millisecond)
	c.Put("beat-7", candidateList(1))

	assert.Eventually(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return len(c.entries) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCacheConcurrentPutAndSwitchNeverMixes(t *testing.T) {
	c := NewCandidateCache(time.Minute)
	c.Put("beat-7", candidateList(5))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				switch w % 3 {
				case 0:
					c.Put("beat-7", candidateList(5))
				case 1:
					if _, err := c.Switch("beat-7", i%5); err != nil {
						t.Errorf("switch: %v", err)
					}
				default:
					candidates, active, err := c.Get("beat-7")
					if err != nil {
						t.Errorf("get: %v", err)
						continue
					}
					// The snapshot is always a complete list with a valid
					// cursor, never a partial replacement.
					if len(candidates) != 5 || active < 0 || active >= 5 {
						t.Errorf("inconsistent snapshot: %d candidates, active %d", len(candidates), active)
					}
				}
			}
		}(w)
	}
	wg.Wait()
}

func TestCachePutRacingInvalidateNeverStrandsShortlist(t *testing.T) {
	c := NewCandidateCache(time.Minute)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Put("beat-7", candidateList(3))
				if _, _, err := c.Get("beat-7"); err != nil && !errors.Is(err, model.ErrContextNotFound) {
					t.Errorf("get: %v", err)
				}
			}
		}()
	}
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Invalidate("beat-7")
			}
		}()
	}
	wg.Wait()

	// With all writers quiesced, a Put always lands in the map: the
	// shortlist it wrote is the one readers see.
	c.Put("beat-7", candidateList(4))
	candidates, active, err := c.Get("beat-7")
	require.NoError(t, err)
	assert.Len(t, candidates, 4)
	assert.Equal(t, 0, active)
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCandidateCache(time.Minute)
	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("beat-%d", i), candidateList(2))
	}
	c.Invalidate("beat-1")
	_, _, err := c.Get("beat-1")
	assert.ErrorIs(t, err, model.ErrContextNotFound)
	_, _, err = c.Get("beat-0")
	require.NoError(t, err)
}
