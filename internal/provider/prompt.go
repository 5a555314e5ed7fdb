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
	"encoding/json"
	"fmt"

	"github.com/jaycherian/go-shot-recall/internal/core/model"
)

const taggingInstructions = `You are a film archivist annotating reference footage for a pre-production
team. You are given a single keyframe from one shot. Respond with ONLY a JSON
object, no prose and no code fences, with these fields:

  scene_type:  one of "interior", "exterior", "establishing", "insert", "montage"
  time_of_day: one of "day", "night", "dawn", "dusk"
  shot_type:   one of "wide", "medium", "close_up", "extreme_close_up",
               "over_shoulder", "pov", "aerial", "tracking"
  mood:        one of "tense", "calm", "joyful", "somber", "romantic",
               "ominous", "chaotic", "hopeful"
  action:      short phrases describing what happens in the shot
  characters:  short descriptions of the people visible, if any
  free_tags:   any other searchable keywords (location, props, lighting, style)
  summary:     one sentence describing the shot

Omit a closed-vocabulary field entirely if you cannot judge it. Never invent
a value outside the listed vocabularies.`

// buildTaggingPrompt assembles the system prompt with the few-shot examples
// appended as literal JSON.
func buildTaggingPrompt() (string, error) {
	one, err := json.Marshal(model.GetTagSetExample())
	if err != nil {
		return "", err
	}
	two, err := json.Marshal(model.GetTagSetExampleTwo())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s\n\nExample output:\n%s\n\nAnother example:\n%s",
		taggingInstructions, one, two), nil
}
