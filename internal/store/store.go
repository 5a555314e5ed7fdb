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

// Package store persists assets and segments in SQLite. The segments table
// doubles as the durable work queue: pending and partial rows are claimable
// units of extraction work, and rows left in processing after a crash are
// reset to pending on startup.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jaycherian/go-shot-recall/internal/core/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS assets (
    id           TEXT PRIMARY KEY,
    path         TEXT NOT NULL,
    duration_sec REAL NOT NULL DEFAULT 0,
    status       TEXT NOT NULL,
    create_date  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS segments (
    asset_id   TEXT    NOT NULL,
    idx        INTEGER NOT NULL,
    start_sec  REAL    NOT NULL,
    end_sec    REAL    NOT NULL,
    status     TEXT    NOT NULL,
    attempts   INTEGER NOT NULL DEFAULT 0,
    last_error TEXT    NOT NULL DEFAULT '',
    tags       TEXT    NOT NULL DEFAULT '[]',
    summary    TEXT    NOT NULL DEFAULT '',
    embedding  BLOB,
    PRIMARY KEY (asset_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_segments_status ON segments (status);
`

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens (and, if needed, initializes) the database at path. The path
// ":memory:" yields an ephemeral store, used by the tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// modernc.org/sqlite serializes writes per connection; a single
	// connection avoids SQLITE_BUSY between the worker pool and the API.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateAsset inserts a new asset. Registering the same source path twice
// yields the same deterministic id, reported as model.ErrDuplicate.
func (s *Store) CreateAsset(ctx context.Context, a *model.Asset) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assets (id, path, duration_sec, status, create_date) VALUES (?, ?, ?, ?, ?)`,
		a.Id, a.Path, a.DurationSec, string(a.Status), a.CreateDate.UTC())
	if err != nil {
		var exists int
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets WHERE id = ?`, a.Id)
		if scanErr := row.Scan(&exists); scanErr == nil && exists > 0 {
			return fmt.Errorf("%w: asset %s (%s)", model.ErrDuplicate, a.Id, a.Path)
		}
		return fmt.Errorf("store: create asset: %w", err)
	}
	return nil
}

// GetAsset fetches one asset by id.
func (s *Store) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, path, duration_sec, status, create_date FROM assets WHERE id = ?`, id)
	a := &model.Asset{}
	var status string
	var created time.Time
	if err := row.Scan(&a.Id, &a.Path, &a.DurationSec, &status, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrAssetNotFound, id)
		}
		return nil, fmt.Errorf("store: get asset: %w", err)
	}
	a.Status = model.AssetStatus(status)
	a.CreateDate = created
	return a, nil
}

// ListAssets returns all assets ordered by creation time.
func (s *Store) ListAssets(ctx context.Context) ([]*model.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, duration_sec, status, create_date FROM assets ORDER BY create_date`)
	if err != nil {
		return nil, fmt.Errorf("store: list assets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Asset
	for rows.Next() {
		a := &model.Asset{}
		var status string
		if err := rows.Scan(&a.Id, &a.Path, &a.DurationSec, &status, &a.CreateDate); err != nil {
			return nil, fmt.Errorf("store: scan asset: %w", err)
		}
		a.Status = model.AssetStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetAssetStatus transitions the asset's lifecycle state.
func (s *Store) SetAssetStatus(ctx context.Context, id string, status model.AssetStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE assets SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("store: set asset status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", model.ErrAssetNotFound, id)
	}
	return nil
}

// SetAssetDuration records the probed media duration.
func (s *Store) SetAssetDuration(ctx context.Context, id string, durationSec float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE assets SET duration_sec = ? WHERE id = ?`, durationSec, id)
	if err != nil {
		return fmt.Errorf("store: set asset duration: %w", err)
	}
	return nil
}

// DeleteAsset removes the asset and all of its segments.
func (s *Store) DeleteAsset(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete asset: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE asset_id = ?`, id); err != nil {
		return fmt.Errorf("store: delete segments: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", model.ErrAssetNotFound, id)
	}
	return tx.Commit()
}

// ReplaceSegments atomically swaps the asset's full segment set. Used after
// segmentation and on reprocess, where stale annotations must not survive.
func (s *Store) ReplaceSegments(ctx context.Context, assetId string, segs []*model.Segment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: replace segments: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE asset_id = ?`, assetId); err != nil {
		return fmt.Errorf("store: clear segments: %w", err)
	}
	for _, seg := range segs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO segments (asset_id, idx, start_sec, end_sec, status, attempts, last_error)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			seg.AssetId, seg.Index, seg.StartSec, seg.EndSec, string(seg.Status), seg.Attempts, seg.LastError)
		if err != nil {
			return fmt.Errorf("store: insert segment %s: %w", seg.Key(), err)
		}
	}
	return tx.Commit()
}

// ListSegments returns the asset's segments in index order.
func (s *Store) ListSegments(ctx context.Context, assetId string) ([]*model.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset_id, idx, start_sec, end_sec, status, attempts, last_error
		 FROM segments WHERE asset_id = ? ORDER BY idx`, assetId)
	if err != nil {
		return nil, fmt.Errorf("store: list segments: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSegments(rows)
}

// SetSegmentStatus records a segment state transition along with its attempt
// count and the most recent error, if any.
func (s *Store) SetSegmentStatus(ctx context.Context, assetId string, index int, status model.SegmentStatus, attempts int, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE segments SET status = ?, attempts = ?, last_error = ? WHERE asset_id = ? AND idx = ?`,
		string(status), attempts, lastError, assetId, index)
	if err != nil {
		return fmt.Errorf("store: set segment status: %w", err)
	}
	return nil
}

// SetSegmentAnnotation stores the extraction output for a segment: the
// flattened tag list, the one-line summary, and the embedding vector. Either
// side may be absent on a partial result.
func (s *Store) SetSegmentAnnotation(ctx context.Context, assetId string, index int, tags []string, summary string, embedding []float32) error {
	tagJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("store: marshal tags: %w", err)
	}
	var blob any
	if len(embedding) > 0 {
		blob = EncodeEmbedding(embedding)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE segments SET
			tags = CASE WHEN ? != '[]' THEN ? ELSE tags END,
			summary = CASE WHEN ? != '' THEN ? ELSE summary END,
			embedding = COALESCE(?, embedding)
		 WHERE asset_id = ? AND idx = ?`,
		string(tagJSON), string(tagJSON), summary, summary, blob, assetId, index)
	if err != nil {
		return fmt.Errorf("store: set segment annotation: %w", err)
	}
	return nil
}

// GetAnnotation returns whatever annotation the segment has accumulated so
// far. A follow-up pass uses it to redo only the missing sub-step.
func (s *Store) GetAnnotation(ctx context.Context, assetId string, index int) (tags []string, summary string, embedding []float32, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tags, summary, embedding FROM segments WHERE asset_id = ? AND idx = ?`,
		assetId, index)
	var tagJSON string
	var blob []byte
	if err := row.Scan(&tagJSON, &summary, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", nil, fmt.Errorf("%w: segment %s", model.ErrAssetNotFound, model.SegmentKey(assetId, index))
		}
		return nil, "", nil, fmt.Errorf("store: get annotation: %w", err)
	}
	if err := json.Unmarshal([]byte(tagJSON), &tags); err != nil {
		return nil, "", nil, fmt.Errorf("store: decode tags: %w", err)
	}
	if len(tags) == 0 {
		tags = nil
	}
	embedding, err = DecodeEmbedding(blob)
	if err != nil {
		return nil, "", nil, fmt.Errorf("store: decode embedding: %w", err)
	}
	return tags, summary, embedding, nil
}

// CountByStatus returns the asset's segment count per status.
func (s *Store) CountByStatus(ctx context.Context, assetId string) (map[model.SegmentStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM segments WHERE asset_id = ? GROUP BY status`, assetId)
	if err != nil {
		return nil, fmt.Errorf("store: count by status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[model.SegmentStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("store: count by status: %w", err)
		}
		out[model.SegmentStatus(status)] = n
	}
	return out, rows.Err()
}

// ClaimPending atomically flips up to limit pending or partial segments to
// processing and returns them. Partial segments are claimed first so the
// follow-up pass does not starve behind a deep backlog.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]*model.Segment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: claim pending: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	rows, err := tx.QueryContext(ctx,
		`SELECT asset_id, idx, start_sec, end_sec, status, attempts, last_error
		 FROM segments WHERE status IN (?, ?)
		 ORDER BY CASE status WHEN ? THEN 0 ELSE 1 END, asset_id, idx
		 LIMIT ?`,
		string(model.SegmentPending), string(model.SegmentPartial), string(model.SegmentPartial), limit)
	if err != nil {
		return nil, fmt.Errorf("store: claim pending: %w", err)
	}
	segs, err := scanSegments(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}
	for _, seg := range segs {
		_, err := tx.ExecContext(ctx,
			`UPDATE segments SET status = ? WHERE asset_id = ? AND idx = ?`,
			string(model.SegmentProcessing), seg.AssetId, seg.Index)
		if err != nil {
			return nil, fmt.Errorf("store: claim %s: %w", seg.Key(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: claim pending: %w", err)
	}
	return segs, nil
}

// ResetInFlight returns segments stranded in processing (for example after a
// crash) to pending so the queue can pick them up again.
func (s *Store) ResetInFlight(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE segments SET status = ? WHERE status = ?`,
		string(model.SegmentPending), string(model.SegmentProcessing))
	if err != nil {
		return 0, fmt.Errorf("store: reset in-flight: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountNonTerminal returns how many of the asset's segments have not yet
// reached a final status. Zero means the readiness barrier is satisfied.
func (s *Store) CountNonTerminal(ctx context.Context, assetId string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM segments WHERE asset_id = ? AND status NOT IN (?, ?)`,
		assetId, string(model.SegmentSuccess), string(model.SegmentFailed))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count non-terminal: %w", err)
	}
	return n, nil
}

// Progress builds the per-asset progress report: the asset status, the
// fraction of segments in a terminal state, and every segment's status.
func (s *Store) Progress(ctx context.Context, assetId string) (*model.ProgressReport, error) {
	a, err := s.GetAsset(ctx, assetId)
	if err != nil {
		return nil, err
	}
	segs, err := s.ListSegments(ctx, assetId)
	if err != nil {
		return nil, err
	}
	report := &model.ProgressReport{
		AssetId:          assetId,
		Status:           a.Status,
		PerSegmentStatus: make(map[int]model.SegmentStatus, len(segs)),
	}
	terminal := 0
	for _, seg := range segs {
		report.PerSegmentStatus[seg.Index] = seg.Status
		if seg.Status.Terminal() {
			terminal++
		}
	}
	if len(segs) > 0 {
		report.Percent = 100.0 * float64(terminal) / float64(len(segs))
	}
	return report, nil
}

// AnnotatedSegment is a successfully extracted segment joined with its
// stored annotation, used to rebuild the in-memory index on startup.
type AnnotatedSegment struct {
	Segment   *model.Segment
	Path      string
	Tags      []string
	Summary   string
	Embedding []float32
}

// LoadAnnotated returns every successful segment with its annotation, in
// insertion order, joined with the owning asset's source path.
func (s *Store) LoadAnnotated(ctx context.Context) ([]*AnnotatedSegment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.asset_id, s.idx, s.start_sec, s.end_sec, s.status, s.attempts, s.last_error,
		        s.tags, s.summary, s.embedding, a.path
		 FROM segments s JOIN assets a ON a.id = s.asset_id
		 WHERE s.status = ? ORDER BY s.rowid`,
		string(model.SegmentSuccess))
	if err != nil {
		return nil, fmt.Errorf("store: load annotated: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*AnnotatedSegment
	for rows.Next() {
		seg := &model.Segment{}
		var status, tagJSON string
		var blob []byte
		ann := &AnnotatedSegment{Segment: seg}
		if err := rows.Scan(&seg.AssetId, &seg.Index, &seg.StartSec, &seg.EndSec, &status,
			&seg.Attempts, &seg.LastError, &tagJSON, &ann.Summary, &blob, &ann.Path); err != nil {
			return nil, fmt.Errorf("store: scan annotated: %w", err)
		}
		seg.Status = model.SegmentStatus(status)
		if err := json.Unmarshal([]byte(tagJSON), &ann.Tags); err != nil {
			return nil, fmt.Errorf("store: decode tags for %s: %w", seg.Key(), err)
		}
		ann.Embedding, err = DecodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("store: decode embedding for %s: %w", seg.Key(), err)
		}
		out = append(out, ann)
	}
	return out, rows.Err()
}

func scanSegments(rows *sql.Rows) ([]*model.Segment, error) {
	var out []*model.Segment
	for rows.Next() {
		seg := &model.Segment{}
		var status string
		if err := rows.Scan(&seg.AssetId, &seg.Index, &seg.StartSec, &seg.EndSec,
			&status, &seg.Attempts, &seg.LastError); err != nil {
			return nil, fmt.Errorf("store: scan segment: %w", err)
		}
		seg.Status = model.SegmentStatus(status)
		out = append(out, seg)
	}
	return out, rows.Err()
}
