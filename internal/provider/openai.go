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

package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/jaycherian/go-shot-recall/internal/config"
	"github.com/jaycherian/go-shot-recall/internal/core/model"
)

// OpenAI implements Provider against the OpenAI API. A single rate limiter
// is shared by the tagging and embedding paths so the combined request rate
// stays inside the account quota regardless of how the worker pool schedules
// work.
type OpenAI struct {
	client  openai.Client
	cfg     config.Provider
	limiter *rate.Limiter
	prompt  string
}

// NewOpenAI builds the provider from configuration. The API key comes from
// the OPENAI_API_KEY environment variable, which the command layer loads
// from .env via godotenv.
func NewOpenAI(cfg config.Provider) (*OpenAI, error) {
	prompt, err := buildTaggingPrompt()
	if err != nil {
		return nil, fmt.Errorf("provider: build tagging prompt: %w", err)
	}
	opts := []option.RequestOption{}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	burst := cfg.MaxInFlight
	if burst <= 0 {
		burst = 1
	}
	return &OpenAI{
		client:  openai.NewClient(opts...),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst),
		prompt:  prompt,
	}, nil
}

// TagShot sends the keyframe with the tagging instructions and parses the
// JSON reply into a validated TagSet. A well-formed transport reply with
// malformed or out-of-vocabulary content is an ErrDecode / ErrValidation,
// not retried here: the orchestrator's follow-up pass owns that retry.
func (p *OpenAI) TagShot(ctx context.Context, keyframe []byte) (*model.TagSet, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(keyframe)
	var content string
	err := p.withRetry(ctx, func() error {
		resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(p.cfg.TagModel),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(p.prompt),
				openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
					openai.TextContentPart("Annotate this shot."),
					openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
				}),
			},
			Temperature: openai.Float(0.2),
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("%w: empty completion", model.ErrProvider)
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parseTagSet(content)
}

// EmbedText embeds text at the configured dimension. A response at any other
// dimension is rejected rather than truncated or padded.
func (p *OpenAI) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := p.withRetry(ctx, func() error {
		resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(p.cfg.EmbedModel),
			Input: openai.EmbeddingNewParamsInputUnion{
				OfString: openai.String(text),
			},
			Dimensions: openai.Int(int64(p.cfg.EmbedDimensions)),
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("%w: empty embedding response", model.ErrProvider)
		}
		vec = toFloat32(resp.Data[0].Embedding)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(vec) != p.cfg.EmbedDimensions {
		return nil, fmt.Errorf("%w: provider returned dimension %d, expected %d",
			model.ErrIndexMismatch, len(vec), p.cfg.EmbedDimensions)
	}
	return vec, nil
}

// withRetry takes a rate-limiter token, then runs op under exponential
// backoff, capped at the configured retry count. op signals a non-retryable
// failure with backoff.Permanent.
func (p *OpenAI) withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 20 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	retries := p.cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	attempt := func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return op()
	}
	return backoff.Retry(attempt,
		backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(retries)))
}

// classify maps a transport error onto the model error classes. Rate limits
// and server errors are retryable; any other API rejection is a permanent
// validation failure.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("%w: %v", model.ErrRateLimited, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", model.ErrProvider, err)
		default:
			return backoff.Permanent(fmt.Errorf("%w: %v", model.ErrValidation, err))
		}
	}
	// Network-level failures are worth retrying.
	return fmt.Errorf("%w: %v", model.ErrProvider, err)
}

// parseTagSet extracts a TagSet from the model's reply. Stray code fences
// are stripped before parsing; anything that still fails to parse, or fails
// vocabulary validation, is a decode failure.
func parseTagSet(content string) (*model.TagSet, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	if !gjson.Valid(content) {
		return nil, fmt.Errorf("%w: tagging reply is not valid JSON", model.ErrDecode)
	}
	root := gjson.Parse(content)
	ts := &model.TagSet{
		SceneType: model.SceneType(root.Get("scene_type").String()),
		TimeOfDay: model.TimeOfDay(root.Get("time_of_day").String()),
		ShotType:  model.ShotType(root.Get("shot_type").String()),
		Mood:      model.Mood(root.Get("mood").String()),
		Summary:   root.Get("summary").String(),
	}
	for _, v := range root.Get("action").Array() {
		ts.Action = append(ts.Action, v.String())
	}
	for _, v := range root.Get("characters").Array() {
		ts.Characters = append(ts.Characters, v.String())
	}
	for _, v := range root.Get("free_tags").Array() {
		ts.FreeTags = append(ts.FreeTags, v.String())
	}
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	return ts, nil
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
