package finder

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/filter"
	"github.com/ppiankov/boorufind/internal/source"
)

const defaultFetchConcurrency = 10

// FetchOptions controls a batch fetch.
type FetchOptions struct {
	OnlyMainImage bool
	Force         bool
	Concurrency   int // posts fetched at once; 0 uses the default of 10
}

// FetchData fetches content for many posts with bounded concurrency. Posts
// without a retriever are bound to their adapter first. Failed posts are
// reported in a *errs.PartialError; the rest keep their data.
func (f *Finder) FetchData(ctx context.Context, posts []*source.Post, opts FetchOptions) error {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = defaultFetchConcurrency
	}

	for _, p := range posts {
		if src, err := f.ownerOf(p); err == nil {
			f.bind(src, []*source.Post{p})
		}
	}

	failures := make([]error, len(posts))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, p := range posts {
		g.Go(func() error {
			if opts.OnlyMainImage {
				failures[i] = p.FetchMain(ctx, opts.Force)
			} else {
				failures[i] = p.FetchData(ctx, opts.Force)
			}
			return nil
		})
	}
	_ = g.Wait()

	collector := errs.NewCollector("fetch data", len(posts))
	for i, p := range posts {
		collector.Add(p.Key().String(), failures[i])
	}
	return collector.Err()
}

// FilterByMD5 drops posts whose content hash was already seen, keeping the
// first occurrence. It is how the same image mirrored on several sources is
// collapsed.
func (f *Finder) FilterByMD5(posts []*source.Post) []*source.Post {
	kept := filter.DedupMD5(posts)
	if dropped := len(posts) - len(kept); dropped > 0 {
		f.log.Debug("dropped duplicate posts", "count", dropped)
	}
	return kept
}
