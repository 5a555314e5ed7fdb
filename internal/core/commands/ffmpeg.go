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

// Package commands provides the concrete Command implementations the
// preprocessing and rough-cut workflows are assembled from. This file holds
// the shared ffmpeg/ffprobe plumbing: media sniffing, duration probing,
// scene-cut detection, and keyframe extraction.
package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
	"github.com/tidwall/gjson"

	"github.com/jaycherian/go-shot-recall/internal/core/model"
)

const TempFilePrefix = "shot-recall-"

// SniffVideo confirms the file exists and carries a video container
// signature. The magic bytes are checked rather than the extension so a
// mislabeled file fails here instead of deep inside ffmpeg.
func SniffVideo(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", model.ErrSourceNotFound, path)
		}
		return err
	}
	defer func() { _ = f.Close() }()
	head := make([]byte, 261)
	n, _ := f.Read(head)
	kind, err := filetype.Match(head[:n])
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	if kind.MIME.Type != "video" && kind != matchers.TypeMp4 {
		return fmt.Errorf("%w: %s is not a video (detected %q)", model.ErrDecode, path, kind.MIME.Value)
	}
	return nil
}

// ProbeDuration returns the container duration in seconds via ffprobe.
func ProbeDuration(ctx context.Context, ffprobePath, mediaPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "quiet", "-print_format", "json", "-show_format", mediaPath)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe %s: %v", model.ErrDecode, mediaPath, err)
	}
	duration := gjson.GetBytes(out, "format.duration")
	if !duration.Exists() {
		return 0, fmt.Errorf("%w: ffprobe reported no duration for %s", model.ErrDecode, mediaPath)
	}
	sec, err := strconv.ParseFloat(duration.String(), 64)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("%w: bad duration %q for %s", model.ErrDecode, duration.String(), mediaPath)
	}
	return sec, nil
}

var ptsTimePattern = regexp.MustCompile(`pts_time:([0-9]+\.?[0-9]*)`)

// DetectSceneCuts runs ffmpeg scene-change detection and returns the cut
// timestamps in ascending order. The showinfo filter writes one line per
// detected frame to stderr; the pts_time field is the cut position.
func DetectSceneCuts(ctx context.Context, ffmpegPath, mediaPath string, threshold float64) ([]float64, error) {
	filter := fmt.Sprintf("select='gt(scene,%0.2f)',showinfo", threshold)
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner", "-i", mediaPath, "-filter:v", filter, "-f", "null", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg scene detection on %s: %v", model.ErrDecode, mediaPath, err)
	}
	var cuts []float64
	for _, m := range ptsTimePattern.FindAllStringSubmatch(stderr.String(), -1) {
		if t, err := strconv.ParseFloat(m[1], 64); err == nil {
			cuts = append(cuts, t)
		}
	}
	sort.Float64s(cuts)
	return cuts, nil
}

// ExtractKeyframe grabs one JPEG frame at the given offset. The caller owns
// the returned bytes; no temp file survives the call.
func ExtractKeyframe(ctx context.Context, ffmpegPath, mediaPath string, offsetSec float64) ([]byte, error) {
	tmp, err := os.CreateTemp("", TempFilePrefix+"*.jpg")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpName) }()

	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner", "-y",
		"-ss", fmt.Sprintf("%0.3f", offsetSec),
		"-i", mediaPath,
		"-frames:v", "1", "-q:v", "3", "-f", "image2", tmpName)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: keyframe at %0.3fs of %s: %v", model.ErrDecode, offsetSec, mediaPath, err)
	}
	frame, err := os.ReadFile(tmpName)
	if err != nil {
		return nil, err
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty keyframe at %0.3fs of %s", model.ErrDecode, offsetSec, mediaPath)
	}
	return frame, nil
}
