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

import (
	"errors"
	"testing"

	"github.com/zeebo/assert"
)

func TestTagSetValidateAcceptsVocabulary(t *testing.T) {
	ts := &TagSet{
		SceneType: SceneExterior,
		TimeOfDay: TimeDusk,
		ShotType:  ShotWide,
		Mood:      MoodCalm,
	}
	assert.NoError(t, ts.Validate())
}

func TestTagSetValidateAllowsEmptyCategories(t *testing.T) {
	ts := &TagSet{Summary: "unjudgeable frame"}
	assert.NoError(t, ts.Validate())
}

func TestTagSetValidateRejectsUnknownValues(t *testing.T) {
	ts := &TagSet{Mood: "grumpy"}
	err := ts.Validate()
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestTagSetFlattenLowercasesAndDedups(t *testing.T) {
	ts := &TagSet{
		SceneType: SceneInterior,
		Mood:      MoodTense,
		Action:    []string{"Knife Fight", "knife fight"},
		FreeTags:  []string{" Kitchen ", ""},
	}
	flat := ts.Flatten()
	assert.Equal(t, []string{"interior", "tense", "knife fight", "kitchen"}, flat)
}

func TestNormalizeTagsDropsEmptiesAndDuplicates(t *testing.T) {
	got := NormalizeTags([]string{"Harbor", "harbor", "  ", "DUSK"})
	assert.Equal(t, []string{"harbor", "dusk"}, got)
}

func TestSegmentKeyRoundTrip(t *testing.T) {
	seg := &Segment{AssetId: "a1", Index: 4}
	assert.Equal(t, SegmentKey("a1", 4), seg.Key())
}
