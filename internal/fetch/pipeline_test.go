package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/source"
	"github.com/ppiankov/boorufind/internal/store"
	"github.com/ppiankov/boorufind/internal/transport"
)

func fastRetry() *transport.RetryConfig {
	return &transport.RetryConfig{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
	}
}

// imageServer serves /img/<n>.png with the path as body. Listed ids answer 404.
type imageServer struct {
	*httptest.Server
	inflight atomic.Int32
	peak     atomic.Int32
	hits     atomic.Int32
	delay    time.Duration
	missing  map[string]bool
	referers chan string
	byPath   sync.Map // path -> referer
}

func newImageServer(t *testing.T, delay time.Duration, missing ...string) *imageServer {
	t.Helper()
	s := &imageServer{delay: delay, missing: make(map[string]bool), referers: make(chan string, 256)}
	for _, m := range missing {
		s.missing["/img/"+m+".png"] = true
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.inflight.Add(1)
		defer s.inflight.Add(-1)
		for {
			peak := s.peak.Load()
			if n <= peak || s.peak.CompareAndSwap(peak, n) {
				break
			}
		}
		s.hits.Add(1)
		s.byPath.Store(r.URL.Path, r.Header.Get("Referer"))
		select {
		case s.referers <- r.Header.Get("Referer"):
		default:
		}
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		if s.missing[r.URL.Path] {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	t.Cleanup(s.Close)
	return s
}

func makePosts(baseURL string, n int) []*source.Post {
	posts := make([]*source.Post, 0, n)
	for i := 1; i <= n; i++ {
		p := &source.Post{
			ID:     int64(i),
			Source: "test",
			Images: []string{fmt.Sprintf("%s/img/%d.png", baseURL, i)},
		}
		posts = append(posts, p.Normalize())
	}
	return posts
}

func newTestPipeline(idx Index) *Pipeline {
	return New(Config{Retry: fastRetry(), Index: idx})
}

func TestDownloadFast_BoundedPoolIsolatesFailure(t *testing.T) {
	srv := newImageServer(t, 5*time.Millisecond, "50")
	posts := makePosts(srv.URL, 100)
	owners := []refererSource{
		{name: "even", referer: "https://even.test/"},
		{name: "odd", referer: "https://odd.test/"},
	}
	for _, p := range posts {
		owner := owners[p.ID%2]
		p.Source = owner.name
		p.Attach(owner, nil)
	}
	dir := t.TempDir()

	pl := newTestPipeline(nil)
	report, err := pl.DownloadFast(context.Background(), posts, dir, Options{Concurrency: 8})

	if peak := srv.peak.Load(); peak > 8 {
		t.Errorf("peak in-flight = %d, want <= 8", peak)
	}
	if report == nil {
		t.Fatalf("report missing, err = %v", err)
	}
	if report.Written != 99 || report.Failed != 1 || len(report.Paths) != 99 {
		t.Errorf("report = %+v", report)
	}

	partial, ok := errs.AsPartial(err)
	if !ok {
		t.Fatalf("err = %v, want partial", err)
	}
	if len(partial.Units) != 1 || !strings.HasPrefix(partial.Units[0].Unit, "even #50 ") {
		t.Errorf("units = %+v", partial.Units)
	}

	pl.mu.Lock()
	clients := len(pl.clients)
	pl.mu.Unlock()
	if clients != 2 {
		t.Errorf("transport clients = %d, want one per source", clients)
	}
	for _, id := range []int{7, 8} {
		want := owners[id%2].referer
		got, _ := srv.byPath.Load(fmt.Sprintf("/img/%d.png", id))
		if got != want {
			t.Errorf("referer for post %d = %v, want %s", id, got, want)
		}
	}
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("cause should stay inspectable: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 99 {
		t.Errorf("%d files in dir, want 99", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, "7.png"))
	if err != nil || string(data) != "/img/7.png" {
		t.Errorf("7.png = %q, %v", data, err)
	}
}

func TestDownloadFast_Cooperative(t *testing.T) {
	srv := newImageServer(t, time.Millisecond, "3")
	posts := makePosts(srv.URL, 6)

	report, err := newTestPipeline(nil).DownloadFast(context.Background(), posts, t.TempDir(), Options{Mode: Cooperative})

	if peak := srv.peak.Load(); peak != 1 {
		t.Errorf("peak in-flight = %d, want 1", peak)
	}
	if report.Written != 5 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	if !errors.Is(err, errs.ErrPartial) || errors.Is(err, errs.ErrAllFailed) {
		t.Errorf("err = %v", err)
	}
	if filepath.Base(report.Paths[2]) != "4.png" {
		t.Errorf("paths out of order: %v", report.Paths)
	}
}

func TestDownloadFast_Empty(t *testing.T) {
	report, err := newTestPipeline(nil).DownloadFast(context.Background(), nil, t.TempDir(), Options{})
	if err != nil || report.Written != 0 {
		t.Errorf("report = %+v, err = %v", report, err)
	}
}

func TestDownloadFast_CancelledDiscards(t *testing.T) {
	srv := newImageServer(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newTestPipeline(nil).DownloadFast(ctx, makePosts(srv.URL, 3), t.TempDir(), Options{})
	if report != nil || !errors.Is(err, context.Canceled) {
		t.Errorf("report = %+v, err = %v", report, err)
	}
}

func TestDownloadFast_CancelledKeepPartial(t *testing.T) {
	srv := newImageServer(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newTestPipeline(nil).DownloadFast(ctx, makePosts(srv.URL, 3), t.TempDir(), Options{KeepPartial: true})
	if report == nil || report.Failed != 3 {
		t.Fatalf("report = %+v", report)
	}
	if !errors.Is(err, errs.ErrAllFailed) || !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if srv.hits.Load() != 0 {
		t.Errorf("requests after cancellation = %d", srv.hits.Load())
	}
}

func TestDownloadFastAsync(t *testing.T) {
	srv := newImageServer(t, 20*time.Millisecond)
	posts := makePosts(srv.URL, 10)

	start := time.Now()
	job := newTestPipeline(nil).DownloadFastAsync(context.Background(), posts, t.TempDir(), Options{Concurrency: 2})
	if time.Since(start) > 15*time.Millisecond {
		t.Error("async call blocked")
	}

	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish")
	}
	report, err := job.Wait(context.Background())
	if err != nil || report.Written != 10 {
		t.Errorf("report = %+v, err = %v", report, err)
	}
}

func TestDownloadFastAsync_Cancel(t *testing.T) {
	srv := newImageServer(t, 50*time.Millisecond)
	job := newTestPipeline(nil).DownloadFastAsync(context.Background(), makePosts(srv.URL, 20), t.TempDir(), Options{Mode: Cooperative})
	job.Cancel()

	_, err := job.Wait(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if hits := srv.hits.Load(); hits > 1 {
		t.Errorf("requests after cancel = %d", hits)
	}
}

// refererSource declares a referer policy for its content.
type refererSource struct {
	source.Source
	name, referer string
}

func (r refererSource) Name() string { return r.name }

func (r refererSource) TransportPolicy() transport.Policy {
	return transport.Policy{Referer: r.referer}
}

func TestPipeline_AppliesSourcePolicy(t *testing.T) {
	srv := newImageServer(t, 0)
	post := makePosts(srv.URL, 1)[0]
	post.Attach(refererSource{name: "strict", referer: "https://strict.test/"}, nil)

	path, err := newTestPipeline(nil).DownloadItem(context.Background(), post, t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := <-srv.referers; got != "https://strict.test/" {
		t.Errorf("referer = %q", got)
	}
	if filepath.Base(path) != "1.png" {
		t.Errorf("path = %s", path)
	}
	if post.State() != source.Unfetched {
		t.Errorf("download changed fetch state to %v", post.State())
	}
}

func TestDownloadAll_Partial(t *testing.T) {
	srv := newImageServer(t, 0, "b")
	post := (&source.Post{
		ID:     5,
		Source: "test",
		Images: []string{srv.URL + "/img/a.png", srv.URL + "/img/b.png", srv.URL + "/img/c.png"},
	}).Normalize()

	paths, err := newTestPipeline(nil).DownloadAll(context.Background(), post, t.TempDir())
	if len(paths) != 2 {
		t.Errorf("paths = %v", paths)
	}
	partial, ok := errs.AsPartial(err)
	if !ok || len(partial.Units) != 1 || partial.Units[0].Unit != "image 1" {
		t.Errorf("err = %v", err)
	}
}

func TestDownloadItem_OutOfRange(t *testing.T) {
	post := &source.Post{ID: 1, Source: "test"}
	if _, err := newTestPipeline(nil).DownloadItem(context.Background(), post, t.TempDir(), 0); err == nil {
		t.Error("expected error for missing item")
	}
}

func TestDownloadFast_IndexSkipsRepeats(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	srv := newImageServer(t, 0)
	posts := makePosts(srv.URL, 4)
	dir := t.TempDir()
	pipe := newTestPipeline(st)

	first, err := pipe.DownloadFast(context.Background(), posts, dir, Options{})
	if err != nil || first.Written != 4 {
		t.Fatalf("first = %+v, err = %v", first, err)
	}
	hits := srv.hits.Load()

	second, err := pipe.DownloadFast(context.Background(), posts, dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if second.Skipped != 4 || second.Written != 0 {
		t.Errorf("second = %+v", second)
	}
	if srv.hits.Load() != hits {
		t.Error("skipped items were fetched again")
	}

	if err := os.Remove(filepath.Join(dir, "2.png")); err != nil {
		t.Fatal(err)
	}
	third, err := pipe.DownloadFast(context.Background(), posts, dir, Options{})
	if err != nil || third.Written != 1 || third.Skipped != 3 {
		t.Errorf("third = %+v, err = %v", third, err)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": Parallel, "parallel": Parallel, "Cooperative": Cooperative} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("turbo"); !errors.Is(err, errs.ErrConfiguration) {
		t.Errorf("err = %v", err)
	}
}
