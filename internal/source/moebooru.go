package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/transport"
)

const (
	yandereKind     = "yande.re"
	yandereBaseURL  = "https://yande.re"
	konachanKind    = "konachan"
	konachanBaseURL = "https://konachan.com"
	moebooruPerPage = 100
)

// Moebooru queries a Moebooru site (yande.re, konachan).
type Moebooru struct {
	base
}

// NewYandere creates an adapter for yande.re.
func NewYandere(cfg Config) *Moebooru {
	return newMoebooru(cfg, yandereKind, yandereBaseURL)
}

// NewKonachan creates an adapter for konachan.
func NewKonachan(cfg Config) *Moebooru {
	return newMoebooru(cfg, konachanKind, konachanBaseURL)
}

func newMoebooru(cfg Config, kind, defaultURL string) *Moebooru {
	site := cfg.BaseURL
	if site == "" {
		site = defaultURL
	}
	policy := transport.Policy{Referer: site + "/"}
	return &Moebooru{base: newBase(cfg, kind, defaultURL, policy)}
}

// auth adds login and password_hash when configured. APIKey holds the hash.
func (m *Moebooru) auth(q url.Values) url.Values {
	if m.user != "" && m.apiKey != "" {
		q.Set("login", m.user)
		q.Set("password_hash", m.apiKey)
	}
	return q
}

func (m *Moebooru) SearchPosts(ctx context.Context, tags []string, opts ListOptions) ([]*Post, error) {
	limit := limitOrDefault(opts.Limit)
	perPage := min(limit, moebooruPerPage)

	posts, err := collectPages(ctx, limit, perPage, pageOrFirst(opts.Page), 1, func(ctx context.Context, page int) ([]*Post, int, error) {
		q := m.auth(url.Values{
			"tags":  {joinTags(tags)},
			"limit": {strconv.Itoa(perPage)},
			"page":  {strconv.Itoa(page)},
		})
		var raw []moebooruPost
		if err := m.client.GetJSON(ctx, "search posts", m.endpoint("/post.json", q), &raw); err != nil {
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
		return nil, fmt.Errorf("%s: %w", m.name, err)
	}
	return m.bind(m, posts...), nil
}

// GetPost searches "id:<n>"; Moebooru has no single-post endpoint.
func (m *Moebooru) GetPost(ctx context.Context, id int64) (*Post, error) {
	posts, err := m.SearchPosts(ctx, []string{fmt.Sprintf("id:%d", id)}, ListOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, errs.NotFound(m.name, "post", id)
	}
	return posts[0], nil
}

func (m *Moebooru) ListChildren(ctx context.Context, parentID int64) ([]*Post, error) {
	return m.SearchPosts(ctx, []string{fmt.Sprintf("parent:%d", parentID)}, ListOptions{})
}

func (m *Moebooru) SearchComments(ctx context.Context, cq CommentQuery) ([]Comment, error) {
	q := m.auth(url.Values{
		"limit": {strconv.Itoa(limitOrDefault(cq.Limit))},
		"page":  {strconv.Itoa(pageOrFirst(cq.Page))},
	})
	if cq.PostID != 0 {
		q.Set("post_id", strconv.FormatInt(cq.PostID, 10))
	}
	var raw []moebooruComment
	if err := m.client.GetJSON(ctx, "search comments", m.endpoint("/comment.json", q), &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", m.name, err)
	}
	comments := make([]Comment, 0, len(raw))
	for _, rc := range raw {
		comments = append(comments, rc.toComment(m.name))
	}
	return comments, nil
}

func (m *Moebooru) GetComment(ctx context.Context, commentID, _ int64) (Comment, error) {
	q := m.auth(url.Values{"id": {strconv.FormatInt(commentID, 10)}})
	var rc moebooruComment
	if err := m.client.GetJSON(ctx, "get comment", m.endpoint("/comment/show.json", q), &rc); err != nil {
		if transport.IsNotFound(err) {
			return Comment{}, errs.NotFound(m.name, "comment", commentID)
		}
		return Comment{}, fmt.Errorf("%s: %w", m.name, err)
	}
	if rc.ID == 0 {
		return Comment{}, errs.NotFound(m.name, "comment", commentID)
	}
	return rc.toComment(m.name), nil
}

func (m *Moebooru) GetNotes(ctx context.Context, postID int64) ([]Note, error) {
	q := m.auth(url.Values{"post_id": {strconv.FormatInt(postID, 10)}})
	var raw []moebooruNote
	if err := m.client.GetJSON(ctx, "get notes", m.endpoint("/note.json", q), &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", m.name, err)
	}
	notes := make([]Note, 0, len(raw))
	for _, rn := range raw {
		if !rn.IsActive {
			continue
		}
		notes = append(notes, Note{
			ID:        rn.ID,
			PostID:    rn.PostID,
			X:         rn.X,
			Y:         rn.Y,
			Width:     rn.Width,
			Height:    rn.Height,
			Body:      rn.Body,
			Source:    m.name,
			CreatedAt: unixSeconds(rn.CreatedAt),
		})
	}
	return notes, nil
}

type moebooruPost struct {
	ID         int64  `json:"id"`
	Tags       string `json:"tags"`
	Source     string `json:"source"`
	FileURL    string `json:"file_url"`
	PreviewURL string `json:"preview_url"`
	MD5        string `json:"md5"`
	Rating     string `json:"rating"`
	ParentID   *int64 `json:"parent_id"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Author     string `json:"author"`
	CreatorID  int64  `json:"creator_id"`
}

func (rp moebooruPost) toPost() *Post {
	p := &Post{
		ID:         rp.ID,
		Tags:       splitFields(rp.Tags),
		Sources:    splitFields(rp.Source),
		Images:     []string{rp.FileURL},
		Authors:    []string{},
		Preview:    rp.PreviewURL,
		Rating:     ParseRating(rp.Rating),
		Dimensions: []Dimension{{Width: rp.Width, Height: rp.Height}},
		Poster:     rp.Author,
		PosterID:   rp.CreatorID,
	}
	if rp.MD5 != "" {
		p.MD5 = []string{rp.MD5}
	}
	if rp.ParentID != nil {
		p.ParentID = *rp.ParentID
	}
	return p
}

type moebooruComment struct {
	ID        int64  `json:"id"`
	PostID    int64  `json:"post_id"`
	CreatorID int64  `json:"creator_id"`
	Creator   string `json:"creator"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

func (rc moebooruComment) toComment(source string) Comment {
	return Comment{
		ID:        rc.ID,
		PostID:    rc.PostID,
		CreatorID: rc.CreatorID,
		Creator:   rc.Creator,
		Body:      rc.Body,
		Source:    source,
		CreatedAt: unixSeconds(rc.CreatedAt),
	}
}

type moebooruNote struct {
	ID        int64  `json:"id"`
	PostID    int64  `json:"post_id"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
	IsActive  bool   `json:"is_active"`
}
