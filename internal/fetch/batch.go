package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/source"
)

// DefaultConcurrency bounds items downloaded at once when Options leaves it unset.
const DefaultConcurrency = 10

// Mode selects how a batch is scheduled.
type Mode int

const (
	// Parallel runs items on a bounded worker pool.
	Parallel Mode = iota
	// Cooperative runs items one at a time on a single scheduler goroutine.
	Cooperative
)

func (m Mode) String() string {
	if m == Cooperative {
		return "cooperative"
	}
	return "parallel"
}

// ParseMode reads a mode name. An empty name is Parallel.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "parallel":
		return Parallel, nil
	case "cooperative", "sequential":
		return Cooperative, nil
	}
	return Parallel, errs.Configuration("unknown download mode %q", s)
}

// Options controls a batch download.
type Options struct {
	Concurrency int // items in flight under Parallel; 0 uses DefaultConcurrency
	Mode        Mode

	// KeepPartial returns the report gathered so far when ctx ends instead of
	// only the context error.
	KeepPartial bool
}

// Report summarizes a batch download.
type Report struct {
	Paths   []string // in post then item order; skipped items carry their existing path
	Written int
	Skipped int
	Failed  int
}

type unit struct {
	post  *source.Post
	index int
}

func (u unit) name() string {
	return fmt.Sprintf("%s image %d", u.post.Key(), u.index)
}

type unitResult struct {
	path    string
	outcome outcome
	err     error
	done    bool
}

// DownloadFast writes every item of every post into dir. A failing item never
// stops the others; failures are returned as a *errs.PartialError with the report.
func (p *Pipeline) DownloadFast(ctx context.Context, posts []*source.Post, dir string, opts Options) (*Report, error) {
	var units []unit
	for _, post := range posts {
		if post == nil {
			continue
		}
		for i := range post.Images {
			units = append(units, unit{post: post, index: i})
		}
	}
	if len(units) == 0 {
		return &Report{}, nil
	}

	results := make([]unitResult, len(units))
	run := func(i int) {
		if ctx.Err() != nil {
			return
		}
		path, out, err := p.downloadItem(ctx, units[i].post, dir, units[i].index)
		results[i] = unitResult{path: path, outcome: out, err: err, done: true}
	}

	switch opts.Mode {
	case Cooperative:
		for i := range units {
			run(i)
		}
	default:
		limit := opts.Concurrency
		if limit <= 0 {
			limit = DefaultConcurrency
		}
		var g errgroup.Group
		g.SetLimit(limit)
		for i := range units {
			g.Go(func() error {
				run(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	interrupted := ctx.Err() != nil
	if interrupted && !opts.KeepPartial {
		return nil, fmt.Errorf("download: %w", ctx.Err())
	}

	report := &Report{}
	collector := errs.NewCollector("download", len(units))
	for i, r := range results {
		switch {
		case !r.done:
			report.Failed++
			collector.Add(units[i].name(), ctx.Err())
		case r.err != nil:
			report.Failed++
			collector.Add(units[i].name(), r.err)
		default:
			if r.outcome == skipped {
				report.Skipped++
			} else {
				report.Written++
			}
			report.Paths = append(report.Paths, r.path)
		}
	}

	p.log.Info("download finished",
		"mode", opts.Mode.String(),
		"items", len(units),
		"written", report.Written,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, collector.Err()
}

// Job is a download running in the background.
type Job struct {
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	report *Report
	err    error
}

// DownloadFastAsync starts DownloadFast in the background and returns at once.
func (p *Pipeline) DownloadFastAsync(ctx context.Context, posts []*source.Post, dir string, opts Options) *Job {
	ctx, cancel := context.WithCancel(ctx)
	job := &Job{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer cancel()
		report, err := p.DownloadFast(ctx, posts, dir, opts)
		job.mu.Lock()
		job.report, job.err = report, err
		job.mu.Unlock()
		close(job.done)
	}()
	return job
}

// Done is closed when the job finishes.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel stops scheduling further items. Items in flight finish or fail on
// the cancelled context.
func (j *Job) Cancel() { j.cancel() }

// Wait blocks until the job finishes or ctx ends.
func (j *Job) Wait(ctx context.Context) (*Report, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.report, j.err
}
