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

import "errors"

// Sentinel errors for the recall pipeline. Callers classify failures with
// errors.Is; retry policy follows from the class, not from string matching.
var (
	// ErrDecode marks an unreadable or corrupt source video. The failure is
	// asset-level and the asset is retryable as a whole.
	ErrDecode = errors.New("source not decodable")

	// ErrRateLimited marks a provider 429. Transient; retried with backoff.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrProvider marks a provider 5xx or transport failure. Transient.
	ErrProvider = errors.New("provider error")

	// ErrValidation marks a non-retryable provider rejection or a malformed
	// tag category value.
	ErrValidation = errors.New("validation failed")

	// ErrIndexMismatch marks an embedding whose dimensionality differs from
	// the index. The segment is marked failed; never truncated or padded.
	ErrIndexMismatch = errors.New("embedding dimensionality mismatch")

	// ErrDuplicate marks an insert for a segment key already present in the
	// index.
	ErrDuplicate = errors.New("segment already indexed")

	// ErrIndexOutOfRange marks a candidate switch index outside [0,4]. The
	// cache entry is left untouched.
	ErrIndexOutOfRange = errors.New("candidate index out of range")

	// ErrSourceNotFound marks a moved or deleted source file at rough-cut
	// time. Surfaced to the user without automatic retry.
	ErrSourceNotFound = errors.New("source file not found")

	// ErrCutFailed marks a rough-cut tool failure after its single retry.
	ErrCutFailed = errors.New("rough cut failed")

	// ErrAssetNotFound marks a lookup for an unknown asset id.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrContextNotFound marks a candidate switch for a context id with no
	// cached recall.
	ErrContextNotFound = errors.New("no cached recall for context")
)
