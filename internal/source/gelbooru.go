package source

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"

	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/transport"
)

const (
	gelbooruKind    = "gelbooru"
	gelbooruBaseURL = "https://gelbooru.com"
	rule34Kind      = "rule34"
	rule34BaseURL   = "https://api.rule34.xxx"
	dapiPerPage     = 100

	rule34CommentLayout = "2006-01-02 15:04"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	commentHeaderRe = regexp.MustCompile(`commented at\s+(\d{4}-\d{2}-\d{2} \d{2}:\d{2}(?::\d{2})?)\s*»\s*#(\d+)`)
)

// Gelbooru queries the Gelbooru-style "dapi" API shared by gelbooru and rule34.
// Gelbooru serves comments only as HTML; rule34 still has the XML endpoint.
type Gelbooru struct {
	base
	htmlComments bool
}

// NewGelbooru creates a Gelbooru adapter. APIKey and User (user id) are optional.
func NewGelbooru(cfg Config) *Gelbooru {
	return &Gelbooru{
		base:         newBase(cfg, gelbooruKind, gelbooruBaseURL, transport.Policy{}),
		htmlComments: true,
	}
}

// NewRule34 creates a rule34 adapter.
func NewRule34(cfg Config) *Gelbooru {
	return &Gelbooru{base: newBase(cfg, rule34Kind, rule34BaseURL, transport.Policy{})}
}

func (g *Gelbooru) dapi(s string, q url.Values) string {
	q.Set("page", "dapi")
	q.Set("s", s)
	q.Set("q", "index")
	if g.apiKey != "" && g.user != "" {
		q.Set("api_key", g.apiKey)
		q.Set("user_id", g.user)
	}
	return g.endpoint("/index.php", q)
}

func (g *Gelbooru) SearchPosts(ctx context.Context, tags []string, opts ListOptions) ([]*Post, error) {
	limit := limitOrDefault(opts.Limit)
	perPage := min(limit, dapiPerPage)

	// dapi pages (pid) are 0-based.
	posts, err := collectPages(ctx, limit, perPage, pageOrFirst(opts.Page), 0, func(ctx context.Context, pid int) ([]*Post, int, error) {
		raw, err := g.fetchPosts(ctx, "search posts", url.Values{
			"tags":  {joinTags(tags)},
			"limit": {strconv.Itoa(perPage)},
			"pid":   {strconv.Itoa(pid)},
		})
		if err != nil {
			return nil, 0, err
		}
		out := make([]*Post, 0, len(raw))
		for _, rp := range raw {
			if rp.FileURL == "" {
				continue
			}
			out = append(out, rp.toPost())
		}
		return out, len(raw), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", g.name, err)
	}
	return g.bind(g, posts...), nil
}

func (g *Gelbooru) GetPost(ctx context.Context, id int64) (*Post, error) {
	raw, err := g.fetchPosts(ctx, "get post", url.Values{"id": {strconv.FormatInt(id, 10)}})
	if err != nil {
		if transport.IsNotFound(err) {
			return nil, errs.NotFound(g.name, "post", id)
		}
		return nil, fmt.Errorf("%s: %w", g.name, err)
	}
	for _, rp := range raw {
		if rp.ID == id && rp.FileURL != "" {
			return g.bind(g, rp.toPost())[0], nil
		}
	}
	return nil, errs.NotFound(g.name, "post", id)
}

func (g *Gelbooru) ListChildren(ctx context.Context, parentID int64) ([]*Post, error) {
	return g.SearchPosts(ctx, []string{fmt.Sprintf("parent:%d", parentID)}, ListOptions{})
}

// fetchPosts decodes both response shapes: gelbooru wraps posts in an object,
// rule34 returns a bare array, and either may answer an empty body.
func (g *Gelbooru) fetchPosts(ctx context.Context, op string, q url.Values) ([]dapiPost, error) {
	q.Set("json", "1")
	u := g.dapi("post", q)
	data, err := g.client.Get(ctx, op, u)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var posts []dapiPost
		if err := json.Unmarshal(data, &posts); err != nil {
			return nil, &errs.TransportError{Op: op, URL: u, Err: fmt.Errorf("decode: %w", err)}
		}
		return posts, nil
	}
	var wrapped struct {
		Post []dapiPost `json:"post"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, &errs.TransportError{Op: op, URL: u, Err: fmt.Errorf("decode: %w", err)}
	}
	return wrapped.Post, nil
}

func (g *Gelbooru) SearchComments(ctx context.Context, cq CommentQuery) ([]Comment, error) {
	if cq.PostID == 0 {
		return nil, errs.Unsupported(g.name, "recent comments")
	}
	var (
		comments []Comment
		err      error
	)
	if g.htmlComments {
		comments, err = g.scrapeComments(ctx, cq.PostID)
	} else {
		comments, err = g.xmlComments(ctx, cq.PostID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", g.name, err)
	}
	if cq.Limit > 0 && len(comments) > cq.Limit {
		comments = comments[:cq.Limit]
	}
	return comments, nil
}

func (g *Gelbooru) scrapeComments(ctx context.Context, postID int64) ([]Comment, error) {
	u := g.endpoint("/index.php", url.Values{
		"page": {"post"},
		"s":    {"view"},
		"id":   {strconv.FormatInt(postID, 10)},
	})
	data, err := g.client.Get(ctx, "search comments", u)
	if err != nil {
		return nil, err
	}
	return parseCommentPage(data, postID, g.name)
}

// parseCommentPage extracts comments from a Gelbooru post page.
func parseCommentPage(page []byte, postID int64, source string) ([]Comment, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse comment page: %w", err)
	}

	var comments []Comment
	doc.Find("div.commentBody").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		loc := commentHeaderRe.FindStringSubmatchIndex(text)
		if loc == nil {
			return
		}
		id, err := strconv.ParseInt(text[loc[4]:loc[5]], 10, 64)
		if err != nil {
			return
		}
		link := s.Find("a").First()
		href, _ := link.Attr("href")

		comments = append(comments, Comment{
			ID:        id,
			PostID:    postID,
			CreatorID: queryInt(href, "id"),
			Creator:   strings.TrimSpace(link.Text()),
			Body:      strings.TrimSpace(text[loc[1]:]),
			Source:    source,
			CreatedAt: unixSeconds(text[loc[2]:loc[3]], time.DateTime, rule34CommentLayout),
		})
	})
	return comments, nil
}

func (g *Gelbooru) xmlComments(ctx context.Context, postID int64) ([]Comment, error) {
	data, err := g.client.Get(ctx, "search comments", g.dapi("comment", url.Values{
		"post_id": {strconv.FormatInt(postID, 10)},
	}))
	if err != nil {
		return nil, err
	}
	var doc struct {
		Comments []struct {
			ID        int64  `xml:"id,attr"`
			PostID    int64  `xml:"post_id,attr"`
			CreatorID int64  `xml:"creator_id,attr"`
			Creator   string `xml:"creator,attr"`
			Body      string `xml:"body,attr"`
			CreatedAt string `xml:"created_at,attr"`
		} `xml:"comment"`
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []Comment{}, nil
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	comments := make([]Comment, 0, len(doc.Comments))
	for _, c := range doc.Comments {
		comments = append(comments, Comment{
			ID:        c.ID,
			PostID:    c.PostID,
			CreatorID: c.CreatorID,
			Creator:   c.Creator,
			Body:      c.Body,
			Source:    g.name,
			CreatedAt: unixSeconds(c.CreatedAt, rule34CommentLayout, time.DateTime),
		})
	}
	return comments, nil
}

func (g *Gelbooru) GetComment(_ context.Context, _, _ int64) (Comment, error) {
	return Comment{}, errs.Unsupported(g.name, "get comment")
}

func (g *Gelbooru) GetNotes(ctx context.Context, postID int64) ([]Note, error) {
	data, err := g.client.Get(ctx, "get notes", g.dapi("note", url.Values{
		"post_id": {strconv.FormatInt(postID, 10)},
	}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", g.name, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []Note{}, nil
	}
	var doc struct {
		Notes []struct {
			ID        int64  `xml:"id,attr"`
			PostID    int64  `xml:"post_id,attr"`
			X         int    `xml:"x,attr"`
			Y         int    `xml:"y,attr"`
			Width     int    `xml:"width,attr"`
			Height    int    `xml:"height,attr"`
			Body      string `xml:"body,attr"`
			CreatedAt string `xml:"created_at,attr"`
		} `xml:"note"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: decode notes: %w", g.name, err)
	}
	notes := make([]Note, 0, len(doc.Notes))
	for _, n := range doc.Notes {
		pid := n.PostID
		if pid == 0 {
			pid = postID
		}
		notes = append(notes, Note{
			ID:        n.ID,
			PostID:    pid,
			X:         n.X,
			Y:         n.Y,
			Width:     n.Width,
			Height:    n.Height,
			Body:      n.Body,
			Source:    g.name,
			CreatedAt: unixSeconds(n.CreatedAt, time.RubyDate, time.RFC3339),
		})
	}
	return notes, nil
}

type dapiPost struct {
	ID         int64  `json:"id"`
	Tags       string `json:"tags"`
	Source     string `json:"source"`
	FileURL    string `json:"file_url"`
	PreviewURL string `json:"preview_url"`
	MD5        string `json:"md5"`
	Hash       string `json:"hash"`
	Rating     string `json:"rating"`
	ParentID   int64  `json:"parent_id"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Owner      string `json:"owner"`
	CreatorID  int64  `json:"creator_id"`
}

func (rp dapiPost) toPost() *Post {
	p := &Post{
		ID:         rp.ID,
		Tags:       splitFields(rp.Tags),
		Sources:    splitFields(rp.Source),
		Images:     []string{rp.FileURL},
		Authors:    []string{},
		Preview:    rp.PreviewURL,
		Rating:     ParseRating(rp.Rating),
		ParentID:   rp.ParentID,
		Dimensions: []Dimension{{Width: rp.Width, Height: rp.Height}},
		Poster:     rp.Owner,
		PosterID:   rp.CreatorID,
	}
	md5 := rp.MD5
	if md5 == "" {
		md5 = rp.Hash
	}
	if md5 != "" {
		p.MD5 = []string{md5}
	}
	return p
}

// queryInt returns the integer query parameter key of a link, or 0.
func queryInt(href, key string) int64 {
	u, err := url.Parse(href)
	if err != nil {
		return 0
	}
	n, _ := strconv.ParseInt(u.Query().Get(key), 10, 64)
	return n
}
