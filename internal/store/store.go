// Package store keeps the local download index: posts saved from searches
// and the content items written to disk, in a sqlite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/boorufind/internal/source"
)

type Store struct {
	db *sql.DB
}

// SavedPost is a post recorded by a search with --save.
type SavedPost struct {
	Source   string
	PostID   int64
	Tags     []string
	Rating   string
	MD5      string
	ImageURL string
	ParentID int64
	SavedAt  time.Time
}

// Download is one content item written to disk.
type Download struct {
	Source       string
	PostID       int64
	Item         int
	MD5          string
	Path         string
	Size         int64
	DownloadedAt time.Time
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Downloads record from many workers; one connection serializes writers.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SavePosts upserts posts into the index and returns how many were written.
func (s *Store) SavePosts(ctx context.Context, posts []*source.Post, savedAt time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if len(posts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posts (source, post_id, tags, rating, md5, image_url, parent_id, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, post_id) DO UPDATE SET
			tags = excluded.tags,
			rating = excluded.rating,
			md5 = excluded.md5,
			image_url = excluded.image_url,
			parent_id = excluded.parent_id,
			saved_at = excluded.saved_at
	`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prepare save: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	saved := 0
	for _, p := range posts {
		if p == nil || strings.TrimSpace(p.Source) == "" {
			continue
		}
		var md5 sql.NullString
		if sums := p.Hashes(); len(sums) > 0 && sums[0] != "" {
			md5 = sql.NullString{String: sums[0], Valid: true}
		}
		var parent sql.NullInt64
		if p.ParentID != 0 {
			parent = sql.NullInt64{Int64: p.ParentID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			p.Source,
			p.ID,
			p.TagString(),
			p.Rating.String(),
			md5,
			nullString(p.Image()),
			parent,
			formatTime(savedAt),
		); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("save post %s: %w", p.Key(), err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit save: %w", err)
	}
	return saved, nil
}

// SavedPosts lists saved posts, newest first. An empty src lists every source.
func (s *Store) SavedPosts(ctx context.Context, src string, limit int) ([]SavedPost, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}

	query := `SELECT source, post_id, tags, rating, md5, image_url, parent_id, saved_at FROM posts`
	var args []any
	if src != "" {
		query += " WHERE source = ?"
		args = append(args, src)
	}
	query += " ORDER BY saved_at DESC, post_id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query saved posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SavedPost
	for rows.Next() {
		p, err := scanSavedPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saved posts: %w", err)
	}
	return out, nil
}

// RecordDownload upserts a written item keyed by (source, post, item).
func (s *Store) RecordDownload(ctx context.Context, d Download) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if strings.TrimSpace(d.Source) == "" {
		return errors.New("source is required")
	}
	if strings.TrimSpace(d.Path) == "" {
		return errors.New("path is required")
	}
	if d.DownloadedAt.IsZero() {
		d.DownloadedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO downloads (source, post_id, item, md5, path, size, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, post_id, item) DO UPDATE SET
			md5 = excluded.md5,
			path = excluded.path,
			size = excluded.size,
			downloaded_at = excluded.downloaded_at
	`, d.Source, d.PostID, d.Item, nullString(d.MD5), d.Path, d.Size, formatTime(d.DownloadedAt))
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	return nil
}

// Seen returns an earlier download of the same item, matched by key or, when
// md5 is known, by content hash from any source.
func (s *Store) Seen(ctx context.Context, key source.Key, item int, md5 string) (Download, bool, error) {
	if s == nil || s.db == nil {
		return Download{}, false, errors.New("store is not initialized")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT source, post_id, item, md5, path, size, downloaded_at
		FROM downloads
		WHERE (source = ? AND post_id = ? AND item = ?)
		   OR (? != '' AND md5 = ?)
		ORDER BY (source = ? AND post_id = ? AND item = ?) DESC, downloaded_at DESC
		LIMIT 1
	`, key.Source, key.ID, item, md5, md5, key.Source, key.ID, item)

	d, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Download{}, false, nil
	}
	if err != nil {
		return Download{}, false, err
	}
	return d, true, nil
}

// PruneMissing deletes download records whose file no longer exists and
// returns how many were removed.
func (s *Store) PruneMissing(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, path FROM downloads")
	if err != nil {
		return 0, fmt.Errorf("query downloads: %w", err)
	}
	var missing []int64
	for rows.Next() {
		var (
			id   int64
			path string
		)
		if err := rows.Scan(&id, &path); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan download: %w", err)
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			missing = append(missing, id)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, fmt.Errorf("iterate downloads: %w", err)
	}
	_ = rows.Close()

	if len(missing) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune transaction: %w", err)
	}
	var removed int64
	for _, id := range missing {
		res, err := tx.ExecContext(ctx, "DELETE FROM downloads WHERE id = ?", id)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("prune download %d: %w", id, err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return removed, nil
}

// SourceStats aggregates the index for one source.
type SourceStats struct {
	Source       string
	SavedPosts   int
	Downloads    int
	Bytes        int64
	LastDownload time.Time
}

// Stats returns per-source aggregates, ordered by source name.
func (s *Store) Stats(ctx context.Context) ([]SourceStats, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT src.source,
			(SELECT COUNT(*) FROM posts p WHERE p.source = src.source),
			COALESCE(d.total, 0),
			COALESCE(d.bytes, 0),
			COALESCE(d.last, '')
		FROM (SELECT source FROM posts UNION SELECT source FROM downloads) src
		LEFT JOIN (
			SELECT source, COUNT(*) AS total, SUM(size) AS bytes, MAX(downloaded_at) AS last
			FROM downloads
			GROUP BY source
		) d ON d.source = src.source
		ORDER BY src.source
	`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []SourceStats
	for rows.Next() {
		var (
			st   SourceStats
			last string
		)
		if err := rows.Scan(&st.Source, &st.SavedPosts, &st.Downloads, &st.Bytes, &last); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.LastDownload, err = parseTime(last)
		if err != nil {
			return nil, fmt.Errorf("parse last download: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSavedPost(scanner rowScanner) (SavedPost, error) {
	var (
		p             SavedPost
		tags, savedAt string
		md5, imageURL sql.NullString
		parent        sql.NullInt64
	)
	if err := scanner.Scan(&p.Source, &p.PostID, &tags, &p.Rating, &md5, &imageURL, &parent, &savedAt); err != nil {
		return SavedPost{}, fmt.Errorf("scan saved post: %w", err)
	}
	p.Tags = strings.Fields(tags)
	p.MD5 = md5.String
	p.ImageURL = imageURL.String
	p.ParentID = parent.Int64

	var err error
	p.SavedAt, err = parseTime(savedAt)
	if err != nil {
		return SavedPost{}, fmt.Errorf("parse saved_at: %w", err)
	}
	return p, nil
}

func scanDownload(scanner rowScanner) (Download, error) {
	var (
		d            Download
		md5          sql.NullString
		downloadedAt string
	)
	if err := scanner.Scan(&d.Source, &d.PostID, &d.Item, &md5, &d.Path, &d.Size, &downloadedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Download{}, err
		}
		return Download{}, fmt.Errorf("scan download: %w", err)
	}
	d.MD5 = md5.String

	var err error
	d.DownloadedAt, err = parseTime(downloadedAt)
	if err != nil {
		return Download{}, fmt.Errorf("parse downloaded_at: %w", err)
	}
	return d, nil
}

func nullString(v string) sql.NullString {
	v = strings.TrimSpace(v)
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return time.Time{}.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
