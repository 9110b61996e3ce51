package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/boorufind/internal/source"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "boorufind.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, path
}

func TestOpenAndMigrate(t *testing.T) {
	st, path := openTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := st.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "2" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestMigrateUpgradesVersionOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("apply version 1: %v", err)
	}
	if _, err := db.Exec("INSERT INTO metadata(key, value) VALUES('schema_version', '1')"); err != nil {
		t.Fatalf("record version 1: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO posts (source, post_id, tags, rating, saved_at) VALUES ('danbooru', 1, 'sky', 'g', '2026-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("seed post: %v", err)
	}
	_ = db.Close()

	st, err := Open(path)
	if err != nil {
		t.Fatalf("open old index: %v", err)
	}
	defer func() { _ = st.Close() }()

	var version string
	if err := st.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "2" {
		t.Errorf("schema version = %s, want 2", version)
	}
	var indexes int
	if err := st.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_posts_source_saved'").Scan(&indexes); err != nil {
		t.Fatalf("inspect indexes: %v", err)
	}
	if indexes != 1 {
		t.Error("version 2 index missing after upgrade")
	}
	saved, err := st.SavedPosts(context.Background(), "danbooru", 0)
	if err != nil || len(saved) != 1 {
		t.Errorf("saved posts = %d, %v; want the seeded post", len(saved), err)
	}
}

func TestMigrateRejectsNewerIndex(t *testing.T) {
	st, path := openTestStore(t)
	if _, err := st.db.Exec("UPDATE metadata SET value = '99' WHERE key = 'schema_version'"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = st.Close()

	if again, err := Open(path); err == nil {
		_ = again.Close()
		t.Fatal("expected error for an index written by a newer version")
	}
}

func TestReopenKeepsVersion(t *testing.T) {
	st, path := openTestStore(t)
	_ = st.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = again.Close()
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSavePostsUpsert(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	savedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	post := &source.Post{
		ID:       42,
		Source:   "danbooru",
		Tags:     []string{"sky", "cloud"},
		Images:   []string{"https://cdn.test/a.png"},
		MD5:      []string{"abc"},
		Rating:   source.RatingGeneral,
		ParentID: 7,
	}
	n, err := st.SavePosts(ctx, []*source.Post{post, nil}, savedAt)
	if err != nil {
		t.Fatalf("save posts: %v", err)
	}
	if n != 1 {
		t.Fatalf("saved %d, want 1", n)
	}

	post.Tags = []string{"sea"}
	if _, err := st.SavePosts(ctx, []*source.Post{post}, savedAt.Add(time.Hour)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	saved, err := st.SavedPosts(ctx, "danbooru", 0)
	if err != nil {
		t.Fatalf("saved posts: %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("expected 1 saved post, got %d", len(saved))
	}
	got := saved[0]
	if got.PostID != 42 || got.MD5 != "abc" || got.ParentID != 7 || got.ImageURL != "https://cdn.test/a.png" {
		t.Errorf("saved = %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "sea" {
		t.Errorf("tags = %v", got.Tags)
	}
	if got.Rating != source.RatingGeneral.String() {
		t.Errorf("rating = %q", got.Rating)
	}
	if !got.SavedAt.Equal(savedAt.Add(time.Hour)) {
		t.Errorf("saved_at = %v", got.SavedAt)
	}

	other, err := st.SavedPosts(ctx, "gelbooru", 0)
	if err != nil || len(other) != 0 {
		t.Errorf("other source = %v, %v", other, err)
	}
}

func TestRecordAndSeen(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	d := Download{Source: "danbooru", PostID: 1, Item: 0, MD5: "hash-1", Path: "/tmp/a.png", Size: 10}
	if err := st.RecordDownload(ctx, d); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, ok, err := st.Seen(ctx, source.Key{Source: "danbooru", ID: 1}, 0, "")
	if err != nil || !ok {
		t.Fatalf("seen by key = %v, %v", ok, err)
	}
	if got.Path != "/tmp/a.png" || got.DownloadedAt.IsZero() {
		t.Errorf("download = %+v", got)
	}

	// Same content mirrored on another source.
	got, ok, err = st.Seen(ctx, source.Key{Source: "gelbooru", ID: 99}, 0, "hash-1")
	if err != nil || !ok || got.Source != "danbooru" {
		t.Errorf("seen by md5 = %+v, %v, %v", got, ok, err)
	}

	if _, ok, _ := st.Seen(ctx, source.Key{Source: "danbooru", ID: 1}, 1, ""); ok {
		t.Error("different item should not match")
	}
	if _, ok, _ := st.Seen(ctx, source.Key{Source: "gelbooru", ID: 99}, 0, ""); ok {
		t.Error("empty md5 must not match rows without a hash")
	}
}

func TestRecordDownloadValidation(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.RecordDownload(ctx, Download{Path: "/x"}); err == nil {
		t.Error("expected error for missing source")
	}
	if err := st.RecordDownload(ctx, Download{Source: "a"}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestPruneMissing(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	kept := filepath.Join(dir, "kept.png")
	if err := os.WriteFile(kept, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for i, path := range []string{kept, filepath.Join(dir, "gone.png")} {
		if err := st.RecordDownload(ctx, Download{Source: "a", PostID: int64(i), Path: path, Size: 1}); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := st.PruneMissing(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d, want 1", removed)
	}
	if _, ok, _ := st.Seen(ctx, source.Key{Source: "a", ID: 0}, 0, ""); !ok {
		t.Error("existing file should stay indexed")
	}
}

func TestStats(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	posts := []*source.Post{
		{ID: 1, Source: "danbooru"},
		{ID: 2, Source: "danbooru"},
	}
	if _, err := st.SavePosts(ctx, posts, now); err != nil {
		t.Fatal(err)
	}
	for i, d := range []Download{
		{Source: "danbooru", PostID: 1, Path: "/a", Size: 100, DownloadedAt: now},
		{Source: "danbooru", PostID: 1, Item: 1, Path: "/b", Size: 50, DownloadedAt: now.Add(time.Minute)},
		{Source: "yande.re", PostID: 9, Path: "/c", Size: 7, DownloadedAt: now},
	} {
		if err := st.RecordDownload(ctx, d); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(stats))
	}
	dan := stats[0]
	if dan.Source != "danbooru" || dan.SavedPosts != 2 || dan.Downloads != 2 || dan.Bytes != 150 {
		t.Errorf("danbooru stats = %+v", dan)
	}
	if !dan.LastDownload.Equal(now.Add(time.Minute)) {
		t.Errorf("last download = %v", dan.LastDownload)
	}
	if yan := stats[1]; yan.Source != "yande.re" || yan.SavedPosts != 0 || yan.Downloads != 1 {
		t.Errorf("yande.re stats = %+v", yan)
	}
}
