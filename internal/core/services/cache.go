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

// Package services holds the query-side surfaces: the recall service, the
// per-context candidate cache backing instant switching, and the asset
// service the HTTP layer delegates to.
package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/jaycherian/go-shot-recall/internal/core/model"
)

// cacheEntry is one query context's ranked shortlist. The entry is replaced
// wholesale on re-query, so a concurrent reader sees either the old list or
// the new one, never a mix.
type cacheEntry struct {
	mu          sync.Mutex
	candidates  []*model.Candidate
	activeIndex int
	expiresAt   time.Time
}

// CandidateCache keeps the Top-K candidates per query context so switching
// the active candidate is a pure cache operation: no ranking, no index
// access. Entries expire after the TTL; a background reaper sweeps them out.
type CandidateCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry

	ttl         time.Duration
	closeTicker chan struct{}
}

// NewCandidateCache creates a cache whose entries live for ttl after their
// last access, Put or read.
func NewCandidateCache(ttl time.Duration) *CandidateCache {
	return &CandidateCache{
		entries:     make(map[string]*cacheEntry),
		ttl:         ttl,
		closeTicker: make(chan struct{}),
	}
}

// StartReaper launches the background sweep at the given interval. Stop
// terminates it.
func (c *CandidateCache) StartReaper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				c.reap(time.Now())
			case <-c.closeTicker:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop terminates the reaper goroutine.
func (c *CandidateCache) Stop() {
	close(c.closeTicker)
}

func (c *CandidateCache) reap(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		e.mu.Lock()
		expired := now.After(e.expiresAt)
		e.mu.Unlock()
		if expired {
			delete(c.entries, id)
		}
	}
}

// Put replaces the context's shortlist atomically and resets the active
// candidate to the top result. The map lock is held across the entry write
// so a concurrent Invalidate or reap cannot strand the new shortlist on a
// struct that is no longer in the map.
func (c *CandidateCache) Put(contextId string, candidates []*model.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[contextId]
	if !ok {
		e = &cacheEntry{}
		c.entries[contextId] = e
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = candidates
	e.activeIndex = 0
	e.expiresAt = time.Now().Add(c.ttl)
}

// lookup finds a live entry and slides its expiry forward: the TTL is an
// idle timeout, so any access keeps the entry alive.
func (c *CandidateCache) lookup(contextId string) (*cacheEntry, error) {
	c.mu.RLock()
	e, ok := c.entries[contextId]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrContextNotFound, contextId)
	}
	e.mu.Lock()
	expired := time.Now().After(e.expiresAt)
	if !expired {
		e.expiresAt = time.Now().Add(c.ttl)
	}
	e.mu.Unlock()
	if expired {
		c.mu.Lock()
		delete(c.entries, contextId)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (expired)", model.ErrContextNotFound, contextId)
	}
	return e, nil
}

// Get returns a snapshot of the context's shortlist and active index.
func (c *CandidateCache) Get(contextId string) ([]*model.Candidate, int, error) {
	e, err := c.lookup(contextId)
	if err != nil {
		return nil, 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*model.Candidate, len(e.candidates))
	copy(out, e.candidates)
	return out, e.activeIndex, nil
}

// Switch makes the candidate at index the context's active one and returns
// it. The whole operation touches only cached state.
func (c *CandidateCache) Switch(contextId string, index int) (*model.Candidate, error) {
	e, err := c.lookup(contextId)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.candidates) {
		return nil, fmt.Errorf("%w: index %d, %d candidates cached for %s",
			model.ErrIndexOutOfRange, index, len(e.candidates), contextId)
	}
	e.activeIndex = index
	return e.candidates[index], nil
}

// Active returns the context's current active candidate.
func (c *CandidateCache) Active(contextId string) (*model.Candidate, error) {
	e, err := c.lookup(contextId)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates for %s", model.ErrIndexOutOfRange, contextId)
	}
	return e.candidates[e.activeIndex], nil
}

// Invalidate drops one context's entry, if present.
func (c *CandidateCache) Invalidate(contextId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, contextId)
}
