package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Media mirrors spec.md §3 "Media" / §6's attachment metadata, keyed by the
// content hash so identical attachments dedupe naturally.
type Media struct {
	MediaHash       string
	MessageID       string
	MediaType       string
	FileName        *string
	Size            int64
	MIME            *string
	LocalPath       *string
	ThumbnailPath   *string
	Width           *int
	Height          *int
	DurationSeconds *float64
	CreatedAt       time.Time
}

// CreateMedia records attachment metadata for a message. A media_hash that
// already exists (the same bytes attached elsewhere) returns ErrAlreadyExists
// so callers can skip re-downloading.
func (db *DB) CreateMedia(m Media) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	_, err := db.conn.Exec(`
		INSERT INTO media (media_hash, message_id, media_type, file_name, size, mime, local_path,
		                    thumbnail_path, width, height, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.MediaHash, m.MessageID, m.MediaType, nullableString(m.FileName), m.Size, nullableString(m.MIME),
		nullableString(m.LocalPath), nullableString(m.ThumbnailPath), nullableInt(m.Width), nullableInt(m.Height),
		nullableFloat(m.DurationSeconds), m.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: create media: %w", ErrAlreadyExists)
		}
		return fmt.Errorf("store: create media: %w", err)
	}
	return nil
}

// GetMedia looks up attachment metadata by content hash.
func (db *DB) GetMedia(mediaHash string) (Media, error) {
	row := db.conn.QueryRow(`
		SELECT media_hash, message_id, media_type, file_name, size, mime, local_path, thumbnail_path,
		       width, height, duration_seconds, created_at
		FROM media WHERE media_hash = ?
	`, mediaHash)
	return scanMedia(row)
}

// SetLocalPaths records where a downloaded attachment (and its thumbnail,
// if any) landed on disk.
func (db *DB) SetLocalPaths(mediaHash string, localPath, thumbnailPath *string) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.conn.Exec(`UPDATE media SET local_path = ?, thumbnail_path = ? WHERE media_hash = ?`,
		nullableString(localPath), nullableString(thumbnailPath), mediaHash)
	if err != nil {
		return fmt.Errorf("store: set local paths: %w", err)
	}
	return mustAffectOne(res)
}

func scanMedia(row scannable) (Media, error) {
	var m Media
	var fileName, mime, localPath, thumbnailPath sql.NullString
	var width, height sql.NullInt64
	var duration sql.NullFloat64
	var createdAt int64

	err := row.Scan(&m.MediaHash, &m.MessageID, &m.MediaType, &fileName, &m.Size, &mime, &localPath,
		&thumbnailPath, &width, &height, &duration, &createdAt)
	if err == sql.ErrNoRows {
		return Media{}, ErrNotFound
	}
	if err != nil {
		return Media{}, fmt.Errorf("store: scan media: %w", err)
	}

	m.CreatedAt = time.UnixMilli(createdAt)
	if fileName.Valid {
		m.FileName = &fileName.String
	}
	if mime.Valid {
		m.MIME = &mime.String
	}
	if localPath.Valid {
		m.LocalPath = &localPath.String
	}
	if thumbnailPath.Valid {
		m.ThumbnailPath = &thumbnailPath.String
	}
	if width.Valid {
		w := int(width.Int64)
		m.Width = &w
	}
	if height.Valid {
		h := int(height.Int64)
		m.Height = &h
	}
	if duration.Valid {
		m.DurationSeconds = &duration.Float64
	}
	return m, nil
}

func nullableInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
