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

package model

// GetTagSetExample returns a filled-in TagSet used as a few-shot example in
// the tagging prompt so the model anchors on the expected JSON shape and the
// closed vocabulary values.
func GetTagSetExample() *TagSet {
	return &TagSet{
		SceneType:  SceneExterior,
		TimeOfDay:  TimeDawn,
		ShotType:   ShotWide,
		Mood:       MoodCalm,
		Action:     []string{"fishing boats leaving harbor", "gulls circling"},
		Characters: []string{"lone fisherman"},
		FreeTags:   []string{"harbor", "mist", "golden light"},
		Summary:    "Wide shot of a misty harbor at dawn as fishing boats head out.",
	}
}

// GetTagSetExampleTwo returns a second, tonally different example so the
// model sees the vocabulary exercised across its range.
func GetTagSetExampleTwo() *TagSet {
	return &TagSet{
		SceneType:  SceneInterior,
		TimeOfDay:  TimeNight,
		ShotType:   ShotCloseUp,
		Mood:       MoodTense,
		Action:     []string{"hand hovering over rotary phone"},
		Characters: []string{"woman in trench coat"},
		FreeTags:   []string{"noir", "venetian blind shadows"},
		Summary:    "Close-up of a trembling hand over a rotary phone in a dark office.",
	}
}
