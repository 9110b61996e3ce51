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
	danbooruKind    = "danbooru"
	danbooruBaseURL = "https://danbooru.donmai.us"
	danbooruPerPage = 100
)

// Danbooru queries the Danbooru JSON API.
type Danbooru struct {
	base
}

// NewDanbooru creates a Danbooru adapter. APIKey and User (login) are optional.
func NewDanbooru(cfg Config) *Danbooru {
	return &Danbooru{base: newBase(cfg, danbooruKind, danbooruBaseURL, transport.Policy{})}
}

func (d *Danbooru) auth(q url.Values) url.Values {
	if d.apiKey != "" && d.user != "" {
		q.Set("login", d.user)
		q.Set("api_key", d.apiKey)
	}
	return q
}

func (d *Danbooru) SearchPosts(ctx context.Context, tags []string, opts ListOptions) ([]*Post, error) {
	limit := limitOrDefault(opts.Limit)
	perPage := min(limit, danbooruPerPage)

	posts, err := collectPages(ctx, limit, perPage, pageOrFirst(opts.Page), 1, func(ctx context.Context, page int) ([]*Post, int, error) {
		q := d.auth(url.Values{
			"tags":  {joinTags(tags)},
			"limit": {strconv.Itoa(perPage)},
			"page":  {strconv.Itoa(page)},
		})
		var raw []danbooruPost
		if err := d.client.GetJSON(ctx, "search posts", d.endpoint("/posts.json", q), &raw); err != nil {
			return nil, 0, err
		}
		out := make([]*Post, 0, len(raw))
		for _, rp := range raw {
			if rp.valid() {
				out = append(out, rp.toPost())
			}
		}
		return out, len(raw), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	return d.bind(d, posts...), nil
}

func (d *Danbooru) GetPost(ctx context.Context, id int64) (*Post, error) {
	var rp danbooruPost
	u := d.endpoint(fmt.Sprintf("/posts/%d.json", id), d.auth(url.Values{}))
	if err := d.client.GetJSON(ctx, "get post", u, &rp); err != nil {
		if transport.IsNotFound(err) {
			return nil, errs.NotFound(d.name, "post", id)
		}
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	// Posts without a file (deleted or gold-only) are treated as absent.
	if !rp.valid() {
		return nil, errs.NotFound(d.name, "post", id)
	}
	return d.bind(d, rp.toPost())[0], nil
}

func (d *Danbooru) ListChildren(ctx context.Context, parentID int64) ([]*Post, error) {
	return d.SearchPosts(ctx, []string{fmt.Sprintf("parent:%d", parentID)}, ListOptions{})
}

func (d *Danbooru) SearchComments(ctx context.Context, cq CommentQuery) ([]Comment, error) {
	q := d.auth(url.Values{
		"group_by": {"comment"},
		"limit":    {strconv.Itoa(limitOrDefault(cq.Limit))},
		"page":     {strconv.Itoa(pageOrFirst(cq.Page))},
	})
	if cq.PostID != 0 {
		q.Set("search[post_id]", strconv.FormatInt(cq.PostID, 10))
	}
	var raw []danbooruComment
	if err := d.client.GetJSON(ctx, "search comments", d.endpoint("/comments.json", q), &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	comments := make([]Comment, 0, len(raw))
	for _, rc := range raw {
		if rc.IsDeleted {
			continue
		}
		comments = append(comments, rc.toComment(d.name))
	}
	return comments, nil
}

func (d *Danbooru) GetComment(ctx context.Context, commentID, _ int64) (Comment, error) {
	var rc danbooruComment
	u := d.endpoint(fmt.Sprintf("/comments/%d.json", commentID), d.auth(url.Values{}))
	if err := d.client.GetJSON(ctx, "get comment", u, &rc); err != nil {
		if transport.IsNotFound(err) {
			return Comment{}, errs.NotFound(d.name, "comment", commentID)
		}
		return Comment{}, fmt.Errorf("%s: %w", d.name, err)
	}
	if rc.IsDeleted {
		return Comment{}, errs.NotFound(d.name, "comment", commentID)
	}
	return rc.toComment(d.name), nil
}

func (d *Danbooru) GetNotes(ctx context.Context, postID int64) ([]Note, error) {
	q := d.auth(url.Values{
		"search[post_id]": {strconv.FormatInt(postID, 10)},
		"limit":           {"1000"},
	})
	var raw []danbooruNote
	if err := d.client.GetJSON(ctx, "get notes", d.endpoint("/notes.json", q), &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}
	notes := make([]Note, 0, len(raw))
	for _, rn := range raw {
		if rn.IsActive != nil && !*rn.IsActive {
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
			Source:    d.name,
			CreatedAt: unixSeconds(rn.CreatedAt),
		})
	}
	return notes, nil
}

// danbooruRating follows Danbooru's own scheme, where "s" means sensitive.
func danbooruRating(s string) Rating {
	if s == "s" {
		return RatingSensitive
	}
	return ParseRating(s)
}

type danbooruPost struct {
	ID              int64  `json:"id"`
	TagString       string `json:"tag_string"`
	TagStringArtist string `json:"tag_string_artist"`
	Source          string `json:"source"`
	FileURL         string `json:"file_url"`
	PreviewFileURL  string `json:"preview_file_url"`
	MD5             string `json:"md5"`
	Rating          string `json:"rating"`
	ParentID        *int64 `json:"parent_id"`
	ImageWidth      int    `json:"image_width"`
	ImageHeight     int    `json:"image_height"`
	UploaderID      int64  `json:"uploader_id"`
}

func (rp danbooruPost) valid() bool {
	return rp.MD5 != "" && rp.FileURL != ""
}

func (rp danbooruPost) toPost() *Post {
	p := &Post{
		ID:         rp.ID,
		Tags:       splitFields(rp.TagString),
		Sources:    splitFields(rp.Source),
		Images:     []string{rp.FileURL},
		Authors:    splitFields(rp.TagStringArtist),
		Preview:    rp.PreviewFileURL,
		MD5:        []string{rp.MD5},
		Rating:     danbooruRating(rp.Rating),
		Dimensions: []Dimension{{Width: rp.ImageWidth, Height: rp.ImageHeight}},
		Poster:     fmt.Sprintf("User %d", rp.UploaderID),
		PosterID:   rp.UploaderID,
	}
	if rp.ParentID != nil {
		p.ParentID = *rp.ParentID
	}
	return p
}

type danbooruComment struct {
	ID        int64  `json:"id"`
	PostID    int64  `json:"post_id"`
	CreatorID int64  `json:"creator_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
	IsDeleted bool   `json:"is_deleted"`
}

func (rc danbooruComment) toComment(source string) Comment {
	return Comment{
		ID:        rc.ID,
		PostID:    rc.PostID,
		CreatorID: rc.CreatorID,
		Creator:   fmt.Sprintf("User %d", rc.CreatorID),
		Body:      rc.Body,
		Source:    source,
		CreatedAt: unixSeconds(rc.CreatedAt),
	}
}

type danbooruNote struct {
	ID        int64  `json:"id"`
	PostID    int64  `json:"post_id"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
	IsActive  *bool  `json:"is_active"`
}
