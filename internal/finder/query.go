package finder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/metrics"
	"github.com/ppiankov/boorufind/internal/source"
)

// Query selects adapters and bounds results. Limit and Page apply per adapter.
type Query struct {
	// Client names one adapter. Empty fans out to every adapter.
	Client string
	Limit  int
	Page   int

	// KeepPartial returns results gathered before the context ended instead
	// of discarding them.
	KeepPartial bool

	// Less, when set, stable-sorts the merged posts.
	Less func(a, b *source.Post) bool
}

// SearchPosts searches one adapter, or all of them concurrently. Fan-out
// failures are isolated: posts from adapters that succeeded are returned
// together with a *errs.PartialError naming the ones that did not.
func (f *Finder) SearchPosts(ctx context.Context, tags []string, q Query) ([]*source.Post, error) {
	targets, err := f.targets(q.Client)
	if err != nil {
		return nil, err
	}
	opts := source.ListOptions{Limit: q.Limit, Page: q.Page}

	call := func(ctx context.Context, e entry) ([]*source.Post, error) {
		posts, err := e.src.SearchPosts(ctx, f.tagsFor(e.name, tags), opts)
		if err != nil {
			return nil, err
		}
		f.bind(e.src, posts)
		if len(posts) == 0 {
			f.log.Debug("adapter returned no posts", "source", e.name)
		}
		return posts, nil
	}

	if q.Client != "" {
		return call(ctx, targets[0])
	}

	posts, err := fanOut(ctx, f, "search posts", targets, q.KeepPartial, call)
	if q.Less != nil {
		sort.SliceStable(posts, func(i, j int) bool { return q.Less(posts[i], posts[j]) })
	}
	return posts, err
}

// GetPost fetches a post from the named client. Without a client every
// adapter is asked and the first hit in registration order wins.
func (f *Finder) GetPost(ctx context.Context, id int64, q Query) (*source.Post, error) {
	targets, err := f.targets(q.Client)
	if err != nil {
		return nil, err
	}
	if q.Client != "" {
		p, err := targets[0].src.GetPost(ctx, id)
		if err != nil {
			return nil, err
		}
		f.bind(targets[0].src, []*source.Post{p})
		return p, nil
	}

	hits, err := fanOut(ctx, f, "get post", targets, q.KeepPartial, func(ctx context.Context, e entry) ([]*source.Post, error) {
		p, err := e.src.GetPost(ctx, id)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		f.bind(e.src, []*source.Post{p})
		return []*source.Post{p}, nil
	})
	if len(hits) > 0 {
		return hits[0], nil
	}
	if err != nil {
		return nil, fmt.Errorf("post %d: %w (%w)", id, errs.ErrNotFound, err)
	}
	return nil, errs.NotFound("finder", "post", id)
}

// SearchComments collects comments from the named client or every adapter.
func (f *Finder) SearchComments(ctx context.Context, cq source.CommentQuery, q Query) ([]source.Comment, error) {
	targets, err := f.targets(q.Client)
	if err != nil {
		return nil, err
	}
	if cq.Limit == 0 {
		cq.Limit = q.Limit
	}
	if cq.Page == 0 {
		cq.Page = q.Page
	}
	if q.Client != "" {
		return targets[0].src.SearchComments(ctx, cq)
	}
	return fanOut(ctx, f, "search comments", targets, q.KeepPartial, func(ctx context.Context, e entry) ([]source.Comment, error) {
		return e.src.SearchComments(ctx, cq)
	})
}

// GetComment fetches one comment; without a client the first hit wins.
func (f *Finder) GetComment(ctx context.Context, commentID, postID int64, q Query) (source.Comment, error) {
	targets, err := f.targets(q.Client)
	if err != nil {
		return source.Comment{}, err
	}
	if q.Client != "" {
		return targets[0].src.GetComment(ctx, commentID, postID)
	}
	hits, err := fanOut(ctx, f, "get comment", targets, q.KeepPartial, func(ctx context.Context, e entry) ([]source.Comment, error) {
		c, err := e.src.GetComment(ctx, commentID, postID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return []source.Comment{c}, nil
	})
	if len(hits) > 0 {
		return hits[0], nil
	}
	if err != nil {
		return source.Comment{}, fmt.Errorf("comment %d: %w (%w)", commentID, errs.ErrNotFound, err)
	}
	return source.Comment{}, errs.NotFound("finder", "comment", commentID)
}

// GetNotes collects notes from the named client or every adapter.
func (f *Finder) GetNotes(ctx context.Context, postID int64, q Query) ([]source.Note, error) {
	targets, err := f.targets(q.Client)
	if err != nil {
		return nil, err
	}
	if q.Client != "" {
		return targets[0].src.GetNotes(ctx, postID)
	}
	return fanOut(ctx, f, "get notes", targets, q.KeepPartial, func(ctx context.Context, e entry) ([]source.Note, error) {
		return e.src.GetNotes(ctx, postID)
	})
}

// fanOut runs call against every target concurrently and concatenates the
// results in target order. Adapters lacking the capability are skipped.
// When ctx ends first, adapters still running are recorded as failed and
// their late results dropped; gathered results are kept only with keepPartial.
func fanOut[T any](ctx context.Context, f *Finder, op string, targets []entry, keepPartial bool, call func(context.Context, entry) ([]T, error)) ([]T, error) {
	var (
		mu       sync.Mutex
		closed   bool
		results  = make([][]T, len(targets))
		failures = make([]error, len(targets))
		finished = make([]bool, len(targets))
	)

	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			items, err := call(ctx, t)
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return nil
			}
			results[i], failures[i], finished[i] = items, err, true
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	closed = true
	defer mu.Unlock()

	// Adapters that honour ctx finish with ctx.Err(); only ctx tells.
	interrupted := ctx.Err() != nil
	if interrupted && !keepPartial {
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}

	var (
		merged      []T
		unsupported int
		units       []errs.UnitError
	)
	for i, t := range targets {
		switch {
		case !finished[i]:
			units = append(units, errs.UnitError{Unit: t.name, Err: ctx.Err()})
		case errors.Is(failures[i], errs.ErrUnsupported):
			unsupported++
			f.log.Debug("adapter does not support operation", "source", t.name, "op", op)
		case interrupted && failures[i] != nil:
			units = append(units, errs.UnitError{Unit: t.name, Err: failures[i]})
		case failures[i] != nil:
			units = append(units, errs.UnitError{Unit: t.name, Err: failures[i]})
			metrics.FanoutFailures.WithLabelValues(t.name, op).Inc()
			f.log.Warn("adapter failed", "source", t.name, "op", op, "error", failures[i])
		default:
			merged = append(merged, results[i]...)
		}
	}

	if unsupported == len(targets) {
		return nil, errs.Unsupported("all adapters", op)
	}

	collector := errs.NewCollector(op, len(targets)-unsupported)
	for _, u := range units {
		collector.Add(u.Unit, u.Err)
	}
	return merged, collector.Err()
}
