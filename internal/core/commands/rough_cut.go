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
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/jaycherian/go-shot-recall/internal/config"
	"github.com/jaycherian/go-shot-recall/internal/core/cor"
	"github.com/jaycherian/go-shot-recall/internal/core/model"
)

// RoughCutRequest asks for one candidate's time range to be materialized as
// a standalone clip.
type RoughCutRequest struct {
	Candidate *model.Candidate
	Output    model.OutputSpec
}

// RoughCut extracts a candidate's exact time range from its source asset.
// It tries a stream copy first, which is fast and lossless but can land on
// the wrong keyframe; if the produced clip's duration deviates from the
// requested range by more than the configured epsilon, it falls back to a
// re-encode. Each strategy gets one retry before the cut is declared failed.
type RoughCut struct {
	cor.BaseCommand
	cfg config.RoughCut
	seg config.Segmenter
}

func NewRoughCut(name string, cfg config.RoughCut, seg config.Segmenter) *RoughCut {
	return &RoughCut{BaseCommand: *cor.NewBaseCommand(name), cfg: cfg, seg: seg}
}

func (c *RoughCut) Execute(context cor.Context) {
	req := context.Get(c.GetInputParam()).(*RoughCutRequest)
	ctx := context.GetContext()

	outputPath, err := c.Cut(ctx, req)
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}
	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(c.GetOutputParam(), outputPath)
}

// Cut runs the full extraction strategy and returns the clip path.
func (c *RoughCut) Cut(ctx context.Context, req *RoughCutRequest) (string, error) {
	cand := req.Candidate
	if err := SniffVideo(cand.Path); err != nil {
		return "", err
	}
	dir := req.Output.Directory
	if dir == "" {
		dir = c.cfg.OutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	container := req.Output.Container
	if container == "" {
		container = "mp4"
	}
	outputPath := filepath.Join(dir,
		fmt.Sprintf("%s_%04d.%s", cand.AssetId, cand.SegmentIndex, container))

	want := cand.DurationSec()
	var lastErr error
	for _, reencode := range []bool{false, true} {
		for attempt := 0; attempt < 2; attempt++ {
			if err := c.extract(ctx, cand, outputPath, reencode); err != nil {
				lastErr = err
				continue
			}
			got, err := ProbeDuration(ctx, c.seg.FFprobePath, outputPath)
			if err != nil {
				lastErr = err
				continue
			}
			if math.Abs(got-want) <= c.cfg.EpsilonSeconds {
				return outputPath, nil
			}
			lastErr = fmt.Errorf("clip duration %0.3fs deviates from %0.3fs", got, want)
			break // deviation is deterministic for a strategy; escalate
		}
	}
	_ = os.Remove(outputPath)
	return "", fmt.Errorf("%w: %s segment %d: %v",
		model.ErrCutFailed, cand.AssetId, cand.SegmentIndex, lastErr)
}

func (c *RoughCut) extract(ctx context.Context, cand *model.Candidate, outputPath string, reencode bool) error {
	args := []string{
		"-hide_banner", "-y",
		"-ss", fmt.Sprintf("%0.3f", cand.StartSec),
		"-to", fmt.Sprintf("%0.3f", cand.EndSec),
		"-i", cand.Path,
	}
	if reencode {
		args = append(args, "-c:v", "libx264", "-preset", "fast", "-c:a", "aac")
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, outputPath)
	cmd := exec.CommandContext(ctx, c.seg.FFmpegPath, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg extract (reencode=%t): %w", reencode, err)
	}
	return nil
}
