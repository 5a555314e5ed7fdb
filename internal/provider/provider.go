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

// Package provider abstracts the model endpoints behind a narrow interface:
// categorized tagging of a shot's keyframe and text embedding. The OpenAI
// implementation decorates every call with a shared rate limiter and
// exponential-backoff retries, and maps transport failures onto the model
// package's error classes so callers can branch on errors.Is alone.
package provider

import (
	"context"

	"github.com/jaycherian/go-shot-recall/internal/core/model"
)

// Provider is the model-endpoint surface the extraction pipeline and the
// recall service depend on.
type Provider interface {
	// TagShot derives a categorized TagSet from a JPEG keyframe of one
	// shot. Returned tag sets are already validated against the closed
	// vocabularies.
	TagShot(ctx context.Context, keyframe []byte) (*model.TagSet, error)

	// EmbedText returns the embedding of text at the configured dimension.
	EmbedText(ctx context.Context, text string) ([]float32, error)
}
