// Package fetch downloads post content to disk through each source's
// transport policy, one item at a time or as a bounded batch.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/metrics"
	"github.com/ppiankov/boorufind/internal/source"
	"github.com/ppiankov/boorufind/internal/store"
	"github.com/ppiankov/boorufind/internal/transport"
)

// Index remembers written items so repeated downloads can skip them.
// *store.Store implements it.
type Index interface {
	Seen(ctx context.Context, key source.Key, item int, md5 string) (store.Download, bool, error)
	RecordDownload(ctx context.Context, d store.Download) error
}

// Config configures a Pipeline.
type Config struct {
	Timeout    time.Duration
	Retry      *transport.RetryConfig
	HTTPClient *http.Client
	Policy     transport.Policy // base policy; each source's policy overlays it
	Index      Index            // optional
	Logger     *slog.Logger
}

// Pipeline retrieves raw content. Each source gets its own transport client
// so throttles stay per source; the underlying HTTP client is shared.
type Pipeline struct {
	cfg Config
	hc  *http.Client
	log *slog.Logger

	mu      sync.Mutex
	clients map[string]*transport.Client
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = transport.DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		cfg:     cfg,
		hc:      hc,
		log:     log,
		clients: make(map[string]*transport.Client),
	}
}

// For returns a retriever applying src's transport policy. It satisfies
// finder.RetrieverProvider.
func (p *Pipeline) For(src source.Source) source.Retriever {
	if src == nil {
		return p.retriever("", transport.Policy{})
	}
	return p.retriever(src.Name(), src.TransportPolicy())
}

func (p *Pipeline) retriever(name string, policy transport.Policy) source.Retriever {
	merged := p.cfg.Policy.Merge(policy)

	p.mu.Lock()
	client, ok := p.clients[name]
	if !ok {
		client = transport.New(transport.Options{
			Name:       name,
			Policy:     merged,
			Retry:      p.cfg.Retry,
			HTTPClient: p.hc,
			Logger:     p.log,
		})
		p.clients[name] = client
	}
	p.mu.Unlock()

	return source.NewRetriever(client, merged)
}

func (p *Pipeline) retrieverFor(post *source.Post) source.Retriever {
	if owner := post.Owner(); owner != nil {
		return p.For(owner)
	}
	return p.retriever(post.Source, transport.Policy{})
}

// DownloadItem writes item index of post into dir and returns its path.
// Items already in the index with the file still present are not fetched again.
func (p *Pipeline) DownloadItem(ctx context.Context, post *source.Post, dir string, index int) (string, error) {
	path, _, err := p.downloadItem(ctx, post, dir, index)
	return path, err
}

// DownloadAll writes every item of post into dir, one after another. Paths
// of written items come back with a *errs.PartialError for the failures.
func (p *Pipeline) DownloadAll(ctx context.Context, post *source.Post, dir string) ([]string, error) {
	collector := errs.NewCollector("download "+post.Key().String(), len(post.Images))
	var paths []string
	for i := range post.Images {
		path, _, err := p.downloadItem(ctx, post, dir, i)
		if err != nil {
			collector.Add(fmt.Sprintf("image %d", i), err)
			continue
		}
		paths = append(paths, path)
	}
	return paths, collector.Err()
}

type outcome int

const (
	written outcome = iota
	skipped
	failed
)

func (o outcome) String() string {
	switch o {
	case written:
		return "written"
	case skipped:
		return "skipped"
	default:
		return "failed"
	}
}

func (p *Pipeline) downloadItem(ctx context.Context, post *source.Post, dir string, index int) (string, outcome, error) {
	if index < 0 || index >= len(post.Images) {
		return "", failed, fmt.Errorf("post %s has no item %d", post.Key(), index)
	}

	md5 := ""
	if sums := post.Hashes(); index < len(sums) {
		md5 = strings.ToLower(sums[index])
	}

	if p.cfg.Index != nil {
		prev, ok, err := p.cfg.Index.Seen(ctx, post.Key(), index, md5)
		if err != nil {
			p.log.Warn("download index lookup failed", "post", post.Key().String(), "error", err)
		} else if ok {
			if _, err := os.Stat(prev.Path); err == nil {
				metrics.DownloadsTotal.WithLabelValues(skipped.String()).Inc()
				p.log.Debug("item already downloaded", "post", post.Key().String(), "item", index, "path", prev.Path)
				return prev.Path, skipped, nil
			}
		}
	}

	path, err := source.WriteItem(ctx, p.retrieverFor(post), post, dir, index)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues(failed.String()).Inc()
		return "", failed, err
	}
	metrics.DownloadsTotal.WithLabelValues(written.String()).Inc()

	if p.cfg.Index != nil {
		d := store.Download{
			Source:       post.Source,
			PostID:       post.ID,
			Item:         index,
			MD5:          md5,
			Path:         path,
			DownloadedAt: time.Now(),
		}
		if info, err := os.Stat(path); err == nil {
			d.Size = info.Size()
		}
		if err := p.cfg.Index.RecordDownload(ctx, d); err != nil {
			p.log.Warn("record download failed", "post", post.Key().String(), "error", err)
		}
	}
	return path, written, nil
}
