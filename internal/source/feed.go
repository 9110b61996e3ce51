package source

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/transport"
)

const feedKind = "feed"

var trailingDigitsRe = regexp.MustCompile(`(\d+)\D*$`)

// Feed reads posts from a media RSS/Atom feed. The base URL is a template in
// which {tags} and {page} are substituted, e.g.
// "https://example.booru/posts.atom?tags={tags}&page={page}".
// Feeds only support search.
type Feed struct {
	base
	template string
}

// NewFeed creates a feed adapter. cfg.BaseURL is the URL template.
func NewFeed(cfg Config) (*Feed, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errs.Configuration("feed: url template is required")
	}
	return &Feed{
		base:     newBase(cfg, feedKind, cfg.BaseURL, transport.Policy{}),
		template: cfg.BaseURL,
	}, nil
}

func (f *Feed) feedURL(tags []string, page int) string {
	r := strings.NewReplacer(
		"{tags}", url.QueryEscape(joinTags(tags)),
		"{page}", strconv.Itoa(page),
	)
	return r.Replace(f.template)
}

func (f *Feed) SearchPosts(ctx context.Context, tags []string, opts ListOptions) ([]*Post, error) {
	u := f.feedURL(tags, pageOrFirst(opts.Page))
	data, err := f.client.Get(ctx, "search posts", u)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.name, &errs.TransportError{Op: "search posts", URL: u, Err: fmt.Errorf("parse feed: %w", err)})
	}

	limit := limitOrDefault(opts.Limit)
	posts := make([]*Post, 0, min(limit, len(feed.Items)))
	for _, item := range feed.Items {
		if len(posts) >= limit {
			break
		}
		if p := postFromItem(item); p != nil {
			posts = append(posts, p)
		}
	}
	return f.bind(f, posts...), nil
}

func (f *Feed) GetPost(_ context.Context, _ int64) (*Post, error) {
	return nil, errs.Unsupported(f.name, "get post")
}

func (f *Feed) SearchComments(_ context.Context, _ CommentQuery) ([]Comment, error) {
	return nil, errs.Unsupported(f.name, "search comments")
}

func (f *Feed) GetComment(_ context.Context, _, _ int64) (Comment, error) {
	return Comment{}, errs.Unsupported(f.name, "get comment")
}

func (f *Feed) GetNotes(_ context.Context, _ int64) ([]Note, error) {
	return []Note{}, nil
}

// postFromItem maps a feed item to a post. Items without media are skipped.
func postFromItem(item *gofeed.Item) *Post {
	images := itemMedia(item)
	if len(images) == 0 {
		return nil
	}

	p := &Post{
		ID:      itemPostID(item),
		Tags:    itemTags(item),
		Images:  images,
		Authors: []string{},
		Name:    strings.TrimSpace(item.Title),
		Rating:  ParseRating(mediaValue(item, "rating")),
	}
	if item.Link != "" {
		p.Sources = []string{item.Link}
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			p.Authors = append(p.Authors, a.Name)
		}
	}
	if len(p.Authors) > 0 {
		p.Poster = p.Authors[0]
	}
	if thumb := mediaAttr(item, "thumbnail", "url"); thumb != "" {
		p.Preview = thumb
	} else if item.Image != nil {
		p.Preview = item.Image.URL
	}
	return p
}

// itemMedia collects media:content URLs, then media enclosures, then the item image.
func itemMedia(item *gofeed.Item) []string {
	var urls []string
	seen := make(map[string]bool)
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}

	for _, e := range mediaExtensions(item, "content") {
		add(e.Attrs["url"])
	}
	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		if strings.HasPrefix(enc.Type, "image/") || strings.HasPrefix(enc.Type, "video/") || enc.Type == "" {
			add(enc.URL)
		}
	}
	if len(urls) == 0 && item.Image != nil {
		add(item.Image.URL)
	}
	return urls
}

func itemTags(item *gofeed.Item) []string {
	var tags []string
	for _, c := range item.Categories {
		tags = append(tags, strings.Fields(c)...)
	}
	if kw := mediaValue(item, "keywords"); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				tags = append(tags, k)
			}
		}
	}
	if tags == nil {
		return []string{}
	}
	return tags
}

// itemPostID takes the trailing number of the GUID or link, which is the post
// id on booru feeds. Other feeds get a stable hash of the GUID.
func itemPostID(item *gofeed.Item) int64 {
	for _, s := range []string{item.GUID, item.Link} {
		if m := trailingDigitsRe.FindStringSubmatch(s); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				return id
			}
		}
	}
	key := item.GUID
	if key == "" {
		key = item.Link + item.Title
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

func mediaExtensions(item *gofeed.Item, name string) []ext.Extension {
	if item.Extensions == nil {
		return nil
	}
	media, ok := item.Extensions["media"]
	if !ok {
		return nil
	}
	var out []ext.Extension
	out = append(out, media[name]...)
	// media:group wraps content elements in some feeds.
	for _, g := range media["group"] {
		out = append(out, g.Children[name]...)
	}
	return out
}

func mediaAttr(item *gofeed.Item, name, attr string) string {
	for _, e := range mediaExtensions(item, name) {
		if v := e.Attrs[attr]; v != "" {
			return v
		}
	}
	return ""
}

func mediaValue(item *gofeed.Item, name string) string {
	for _, e := range mediaExtensions(item, name) {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return ""
}
