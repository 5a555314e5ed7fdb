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

package workflow

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/jaycherian/go-shot-recall/internal/core/model"
	"github.com/jaycherian/go-shot-recall/internal/index"
	"github.com/jaycherian/go-shot-recall/internal/store"
	"github.com/jaycherian/go-shot-recall/internal/telemetry"
	test "github.com/jaycherian/go-shot-recall/internal/testutil"
)

var logger = otelslog.NewLogger("shotrecall/tests/workflow")

func TestMain(m *testing.M) {
	telemetry.SetupLogging()
	os.Exit(m.Run())
}

// embedOnlyProvider serves the embed sub-step; tagging is expected to be
// covered by prior-pass annotations in these tests, so TagShot failing loud
// guards against the pipeline taking the keyframe path.
type embedOnlyProvider struct {
	embedCalls atomic.Int64
}

func (p *embedOnlyProvider) TagShot(_ context.Context, _ []byte) (*model.TagSet, error) {
	return nil, assert.AnError
}

func (p *embedOnlyProvider) EmbedText(_ context.Context, _ string) ([]float32, error) {
	p.embedCalls.Add(1)
	return []float32{0.6, 0.8, 0}, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store, *index.Index, *embedOnlyProvider) {
	t.Helper()
	cfg := *test.GetConfig()
	cfg.Application.WorkerPoolSize = 2
	cfg.Provider.EmbedDimensions = 3

	s, err := store.Open(filepath.Join(t.TempDir(), "recall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	x := index.New(3, cfg.Index.LinearScanThreshold, cfg.Index.Clusters, cfg.Index.Probes)
	p := &embedOnlyProvider{}
	return NewOrchestrator(&cfg, s, x, p), s, x, p
}

// seedTaggedAsset stores an asset whose segments already carry tags from a
// prior pass, leaving only the embedding sub-step for the pool.
func seedTaggedAsset(t *testing.T, s *store.Store, path string, segments int) *model.Asset {
	t.Helper()
	ctx := context.Background()
	asset := model.NewAsset(path)
	require.NoError(t, s.CreateAsset(ctx, asset))
	segs := make([]*model.Segment, 0, segments)
	for i := 0; i < segments; i++ {
		segs = append(segs, &model.Segment{
			AssetId: asset.Id, Index: i,
			StartSec: float64(i * 10), EndSec: float64(i*10 + 10),
			Status: model.SegmentPending, Attempts: 1,
		})
	}
	require.NoError(t, s.ReplaceSegments(ctx, asset.Id, segs))
	for i := 0; i < segments; i++ {
		require.NoError(t, s.SetSegmentStatus(ctx, asset.Id, i, model.SegmentPartial, 1, "embed pending"))
		require.NoError(t, s.SetSegmentAnnotation(ctx, asset.Id, i,
			[]string{"exterior", "harbor"}, "harbor shot", nil))
	}
	require.NoError(t, s.SetAssetStatus(ctx, asset.Id, model.AssetProcessing))
	return asset
}

func TestOrchestratorDrainsQueueToReady(t *testing.T) {
	o, s, x, p := newTestOrchestrator(t)
	asset := seedTaggedAsset(t, s, "/footage/harbor.mp4", 3)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	require.Eventually(t, func() bool {
		a, err := s.GetAsset(context.Background(), asset.Id)
		return err == nil && a.Status == model.AssetReady
	}, 15*time.Second, 100*time.Millisecond)
	logger.InfoContext(context.Background(), "asset drained", "asset_id", asset.Id)

	assert.Equal(t, 3, x.Len())
	assert.Equal(t, int64(3), p.embedCalls.Load())

	report, err := s.Progress(context.Background(), asset.Id)
	require.NoError(t, err)
	assert.Equal(t, 100.0, report.Percent)
	for i := 0; i < 3; i++ {
		assert.Equal(t, model.SegmentSuccess, report.PerSegmentStatus[i])
	}
}

func TestOrchestratorRemoveDropsEverything(t *testing.T) {
	o, s, x, _ := newTestOrchestrator(t)
	asset := seedTaggedAsset(t, s, "/footage/gone.mp4", 2)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	require.Eventually(t, func() bool {
		a, err := s.GetAsset(context.Background(), asset.Id)
		return err == nil && a.Status == model.AssetReady
	}, 15*time.Second, 100*time.Millisecond)

	require.NoError(t, o.Remove(context.Background(), asset.Id))
	assert.Zero(t, x.Len())
	_, err := s.GetAsset(context.Background(), asset.Id)
	assert.ErrorIs(t, err, model.ErrAssetNotFound)
}

func TestEnqueueDuplicateReturnsExistingAsset(t *testing.T) {
	o, s, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	existing := seedTaggedAsset(t, s, "/footage/dup.mp4", 1)

	got, err := o.EnqueueAsset(ctx, "/footage/dup.mp4")
	assert.ErrorIs(t, err, model.ErrDuplicate)
	require.NotNil(t, got)
	assert.Equal(t, existing.Id, got.Id)
}

func TestStopWaitsForBackgroundSegmentation(t *testing.T) {
	o, s, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))

	// Segmentation of a missing file fails and marks the asset failed from
	// a background goroutine. Stop must not return until that goroutine has
	// landed, so the status read below needs no polling.
	asset, err := o.EnqueueAsset(ctx, filepath.Join(t.TempDir(), "missing.mp4"))
	require.NoError(t, err)
	o.Stop()

	got, err := s.GetAsset(ctx, asset.Id)
	require.NoError(t, err)
	assert.Equal(t, model.AssetFailed, got.Status)
}

func TestStartRecoversStrandedSegments(t *testing.T) {
	o, s, x, _ := newTestOrchestrator(t)
	asset := seedTaggedAsset(t, s, "/footage/crashed.mp4", 2)

	// Simulate a crash mid-flight: claim flips rows to processing, then the
	// process dies before results land.
	_, err := s.ClaimPending(context.Background(), 10)
	require.NoError(t, err)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	require.Eventually(t, func() bool {
		a, err := s.GetAsset(context.Background(), asset.Id)
		return err == nil && a.Status == model.AssetReady
	}, 15*time.Second, 100*time.Millisecond)
	assert.Equal(t, 2, x.Len())
}
