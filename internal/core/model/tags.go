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

// This file defines the categorized tag vocabulary attached to every
// segment. Each closed category is a typed string with an explicit value set
// so a malformed category value fails validation loudly instead of silently
// failing to match at query time.
package model

import (
	"fmt"
	"strings"
)

// SceneType classifies the setting of a shot.
type SceneType string

const (
	SceneInterior     SceneType = "interior"
	SceneExterior     SceneType = "exterior"
	SceneEstablishing SceneType = "establishing"
	SceneInsert       SceneType = "insert"
	SceneMontage      SceneType = "montage"
)

// TimeOfDay classifies the apparent time of a shot.
type TimeOfDay string

const (
	TimeDay   TimeOfDay = "day"
	TimeNight TimeOfDay = "night"
	TimeDawn  TimeOfDay = "dawn"
	TimeDusk  TimeOfDay = "dusk"
)

// ShotType classifies the framing of a shot.
type ShotType string

const (
	ShotWide         ShotType = "wide"
	ShotMedium       ShotType = "medium"
	ShotCloseUp      ShotType = "close_up"
	ShotExtremeClose ShotType = "extreme_close_up"
	ShotOverShoulder ShotType = "over_shoulder"
	ShotPOV          ShotType = "pov"
	ShotAerial       ShotType = "aerial"
	ShotTracking     ShotType = "tracking"
)

// Mood classifies the emotional register of a shot.
type Mood string

const (
	MoodTense    Mood = "tense"
	MoodCalm     Mood = "calm"
	MoodJoyful   Mood = "joyful"
	MoodSomber   Mood = "somber"
	MoodRomantic Mood = "romantic"
	MoodOminous  Mood = "ominous"
	MoodChaotic  Mood = "chaotic"
	MoodHopeful  Mood = "hopeful"
)

var (
	sceneTypes = map[SceneType]bool{
		SceneInterior: true, SceneExterior: true, SceneEstablishing: true,
		SceneInsert: true, SceneMontage: true,
	}
	timesOfDay = map[TimeOfDay]bool{
		TimeDay: true, TimeNight: true, TimeDawn: true, TimeDusk: true,
	}
	shotTypes = map[ShotType]bool{
		ShotWide: true, ShotMedium: true, ShotCloseUp: true,
		ShotExtremeClose: true, ShotOverShoulder: true, ShotPOV: true,
		ShotAerial: true, ShotTracking: true,
	}
	moods = map[Mood]bool{
		MoodTense: true, MoodCalm: true, MoodJoyful: true, MoodSomber: true,
		MoodRomantic: true, MoodOminous: true, MoodChaotic: true, MoodHopeful: true,
	}
)

// TagSet is the categorized annotation produced by the tagging provider for
// one segment. SceneType, TimeOfDay, ShotType, and Mood come from closed
// vocabularies; Action, Characters, FreeTags, and Summary are free-form.
type TagSet struct {
	SceneType  SceneType `json:"scene_type"`
	TimeOfDay  TimeOfDay `json:"time_of_day"`
	ShotType   ShotType  `json:"shot_type"`
	Mood       Mood      `json:"mood"`
	Action     []string  `json:"action,omitempty"`
	Characters []string  `json:"characters,omitempty"`
	FreeTags   []string  `json:"free_tags,omitempty"`
	Summary    string    `json:"summary,omitempty"`
}

// Validate checks every closed category against its vocabulary. An empty
// value is allowed (the provider may not be able to judge a category); any
// other unknown value is a validation error.
func (t *TagSet) Validate() error {
	if t.SceneType != "" && !sceneTypes[t.SceneType] {
		return fmt.Errorf("%w: unknown scene_type %q", ErrValidation, t.SceneType)
	}
	if t.TimeOfDay != "" && !timesOfDay[t.TimeOfDay] {
		return fmt.Errorf("%w: unknown time_of_day %q", ErrValidation, t.TimeOfDay)
	}
	if t.ShotType != "" && !shotTypes[t.ShotType] {
		return fmt.Errorf("%w: unknown shot_type %q", ErrValidation, t.ShotType)
	}
	if t.Mood != "" && !moods[t.Mood] {
		return fmt.Errorf("%w: unknown mood %q", ErrValidation, t.Mood)
	}
	return nil
}

// Flatten lowers the tag set to a flat, lowercased, deduplicated string set
// used for Jaccard scoring. The Summary is not part of the flattened set.
func (t *TagSet) Flatten() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 8)
	add := func(v string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}
	add(string(t.SceneType))
	add(string(t.TimeOfDay))
	add(string(t.ShotType))
	add(string(t.Mood))
	for _, v := range t.Action {
		add(v)
	}
	for _, v := range t.Characters {
		add(v)
	}
	for _, v := range t.FreeTags {
		add(v)
	}
	return out
}

// NormalizeTags lowercases, trims, and deduplicates a free-form query tag
// list so query and segment tags compare on equal footing.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(tags))
	for _, v := range tags {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
