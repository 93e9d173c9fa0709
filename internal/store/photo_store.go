package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/glasssync/gallery/internal/models"
	"github.com/glasssync/gallery/internal/observability"
)

// FileChecker validates that a stored path still resolves to a file on disk.
type FileChecker interface {
	Exists(storedPath string) bool
}

// PhotoStore is the single writer of persisted media metadata and the sync
// cursor. Consumers never touch the underlying tables directly.
type PhotoStore struct {
	db     *sql.DB
	fs     FileChecker
	logger *observability.Logger
}

// NewPhotoStore creates a new PhotoStore
func NewPhotoStore(db *sql.DB, fs FileChecker) *PhotoStore {
	return &PhotoStore{
		db:     db,
		fs:     fs,
		logger: observability.GetLogger().WithField("component", "store"),
	}
}

// ListDownloaded returns all downloaded records whose files still exist on
// disk. Entries whose files were removed out-of-band are pruned and the
// removal persisted; this self-healing check runs on every read.
func (s *PhotoStore) ListDownloaded(ctx context.Context) ([]models.PhotoRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, is_video, local_path, thumbnail_path, mime_type, file_size, downloaded_at
		FROM downloaded_photos ORDER BY downloaded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var valid []models.PhotoRecord
	var stale []string
	for rows.Next() {
		var rec models.PhotoRecord
		var thumb, mime sql.NullString
		var downloadedAt time.Time
		if err := rows.Scan(&rec.Name, &rec.IsVideo, &rec.LocalPath, &thumb, &mime, &rec.FileSize, &downloadedAt); err != nil {
			return nil, err
		}
		rec.ThumbnailPath = thumb.String
		rec.MimeType = mime.String
		rec.DownloadedAt = &downloadedAt

		if !rec.Valid() || !s.fs.Exists(rec.LocalPath) {
			stale = append(stale, rec.Name)
			continue
		}
		valid = append(valid, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, name := range stale {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM downloaded_photos WHERE name = ?", name); err != nil {
			s.logger.Warnf("Failed to prune stale record %s: %v", name, err)
			continue
		}
		s.logger.Infof("Pruned stale record %s (file missing on disk)", name)
	}

	return valid, nil
}

// Get returns one record by name, or nil when absent.
func (s *PhotoStore) Get(ctx context.Context, name string) (*models.PhotoRecord, error) {
	var rec models.PhotoRecord
	var thumb, mime sql.NullString
	var downloadedAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT name, is_video, local_path, thumbnail_path, mime_type, file_size, downloaded_at
		FROM downloaded_photos WHERE name = ?`, name).Scan(
		&rec.Name, &rec.IsVideo, &rec.LocalPath, &thumb, &mime, &rec.FileSize, &downloadedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.ThumbnailPath = thumb.String
	rec.MimeType = mime.String
	rec.DownloadedAt = &downloadedAt
	return &rec, nil
}

// Save upserts a downloaded record.
func (s *PhotoStore) Save(ctx context.Context, rec *models.PhotoRecord) error {
	if rec.Name == "" {
		return models.ErrEmptyName
	}
	if !rec.IsDownloaded() {
		return models.ErrInvalidRecord
	}

	downloadedAt := time.Now().UTC()
	if rec.DownloadedAt != nil {
		downloadedAt = *rec.DownloadedAt
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO downloaded_photos (name, is_video, local_path, thumbnail_path, mime_type, file_size, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			is_video = excluded.is_video,
			local_path = excluded.local_path,
			thumbnail_path = excluded.thumbnail_path,
			mime_type = excluded.mime_type,
			file_size = excluded.file_size,
			downloaded_at = excluded.downloaded_at`,
		rec.Name, rec.IsVideo, rec.LocalPath, nullable(rec.ThumbnailPath), nullable(rec.MimeType), rec.FileSize, downloadedAt)
	return err
}

// Delete removes a record and returns it, so the caller can reclaim the
// underlying files. Returns ErrRecordNotFound when the name is unknown.
func (s *PhotoStore) Delete(ctx context.Context, name string) (*models.PhotoRecord, error) {
	rec, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, models.ErrRecordNotFound
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM downloaded_photos WHERE name = ?", name); err != nil {
		return nil, err
	}
	return rec, nil
}

// Count returns the number of downloaded records without validating files.
func (s *PhotoStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM downloaded_photos").Scan(&count)
	return count, err
}

// GetSyncState returns the sync cursor, creating it with a fresh client ID on
// first use.
func (s *PhotoStore) GetSyncState(ctx context.Context) (*models.SyncState, error) {
	var state models.SyncState
	err := s.db.QueryRowContext(ctx, `SELECT client_id, last_sync_time, total_downloaded, total_size, updated_at
		FROM sync_state WHERE id = 1`).Scan(
		&state.ClientID, &state.LastSyncTime, &state.TotalDownloaded, &state.TotalSize, &state.UpdatedAt)

	if err == sql.ErrNoRows {
		now := time.Now().UTC()
		state = models.SyncState{
			ClientID:  uuid.New().String(),
			UpdatedAt: now,
		}
		_, err = s.db.ExecContext(ctx, `INSERT INTO sync_state (id, client_id, last_sync_time, total_downloaded, total_size, updated_at)
			VALUES (1, ?, 0, 0, 0, ?)`, state.ClientID, now)
		if err != nil {
			return nil, err
		}
		return &state, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// UpdateSyncState applies a partial update to the sync cursor. Counters are
// monotonically non-decreasing; a regressing value is ignored.
func (s *PhotoStore) UpdateSyncState(ctx context.Context, upd models.SyncStateUpdate) (*models.SyncState, error) {
	state, err := s.GetSyncState(ctx)
	if err != nil {
		return nil, err
	}

	if upd.LastSyncTime != nil {
		state.LastSyncTime = *upd.LastSyncTime
	}
	if upd.TotalDownloaded != nil && *upd.TotalDownloaded > state.TotalDownloaded {
		state.TotalDownloaded = *upd.TotalDownloaded
	}
	if upd.TotalSize != nil && *upd.TotalSize > state.TotalSize {
		state.TotalSize = *upd.TotalSize
	}
	state.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `UPDATE sync_state
		SET last_sync_time = ?, total_downloaded = ?, total_size = ?, updated_at = ?
		WHERE id = 1`,
		state.LastSyncTime, state.TotalDownloaded, state.TotalSize, state.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return state, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
