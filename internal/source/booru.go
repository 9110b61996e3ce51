package source

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/boorufind/internal/transport"
)

// maxPages stops pagination against sources that never return a short page.
const maxPages = 50

// Config configures one built-in adapter instance.
type Config struct {
	Name       string // registry name; defaults to the adapter kind
	BaseURL    string
	APIKey     string
	User       string // login or user id, depending on the source
	Timeout    time.Duration
	Policy     transport.Policy // overlaid on the adapter's own policy
	Retry      *transport.RetryConfig
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// base carries what every HTTP adapter shares.
type base struct {
	name    string
	baseURL string
	apiKey  string
	user    string
	policy  transport.Policy
	client  *transport.Client
	log     *slog.Logger
}

func newBase(cfg Config, kind, defaultURL string, policy transport.Policy) base {
	name := cfg.Name
	if name == "" {
		name = kind
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultURL
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	policy = policy.Merge(cfg.Policy)
	return base{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		user:    cfg.User,
		policy:  policy,
		client: transport.New(transport.Options{
			Name:       name,
			Timeout:    cfg.Timeout,
			Policy:     policy,
			Retry:      cfg.Retry,
			HTTPClient: cfg.HTTPClient,
			Logger:     log,
		}),
		log: log.With("source", name),
	}
}

func (b *base) Name() string { return b.name }

func (b *base) TransportPolicy() transport.Policy { return b.policy }

// Client exposes the adapter's transport client.
func (b *base) Client() *transport.Client { return b.client }

// bind normalizes posts and attaches them to their owning adapter with a
// retriever under the adapter's policy.
func (b *base) bind(owner Source, posts ...*Post) []*Post {
	r := NewRetriever(b.client, b.policy)
	for _, p := range posts {
		p.Source = b.name
		p.Normalize()
		p.Attach(owner, r)
	}
	return posts
}

func (b *base) endpoint(path string, q url.Values) string {
	u := b.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// pageFunc fetches one result page and reports how many raw entries it held
// before filtering.
type pageFunc func(ctx context.Context, page int) (posts []*Post, raw int, err error)

// collectPages gathers page (1-based, in units of limit) from a source that
// serves perPage entries per request, numbering its own pages from base.
// It stops once limit posts are gathered or a short page signals the end.
func collectPages(ctx context.Context, limit, perPage, page, base int, fetch pageFunc) ([]*Post, error) {
	offset := (page - 1) * limit
	first := offset/perPage + base
	skip := offset % perPage

	var out []*Post
	for sp := first; sp < first+maxPages && len(out) < limit; sp++ {
		posts, raw, err := fetch(ctx, sp)
		if err != nil {
			return nil, err
		}
		if skip > 0 {
			posts = posts[min(skip, len(posts)):]
			skip = 0
		}
		out = append(out, posts...)
		if raw < perPage {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// splitFields splits a space separated source field, dropping empties.
func splitFields(s string) []string {
	fields := strings.Fields(s)
	if fields == nil {
		return []string{}
	}
	return fields
}
