package source

import (
	"context"
	"io"

	"github.com/ppiankov/boorufind/internal/transport"
)

// DefaultLimit is the per-adapter result cap when a caller gives none.
const DefaultLimit = 100

// ListOptions bounds a post search. Page is 1-based; zero means first page.
type ListOptions struct {
	Limit int
	Page  int
}

// CommentQuery selects comments. A zero PostID asks for recent comments.
type CommentQuery struct {
	PostID int64
	Limit  int
	Page   int
}

// Source is the capability contract every content adapter implements.
// Operations an adapter cannot serve return an error wrapping
// errs.ErrUnsupported; GetNotes returns an empty slice instead.
type Source interface {
	// Name returns the adapter identifier (e.g. "danbooru").
	Name() string

	// SearchPosts returns posts matching tags in source order, at most opts.Limit.
	SearchPosts(ctx context.Context, tags []string, opts ListOptions) ([]*Post, error)

	// GetPost returns one post or an error wrapping errs.ErrNotFound.
	GetPost(ctx context.Context, id int64) (*Post, error)

	SearchComments(ctx context.Context, q CommentQuery) ([]Comment, error)

	// GetComment returns one comment. postID helps sources that index comments per post.
	GetComment(ctx context.Context, commentID, postID int64) (Comment, error)

	GetNotes(ctx context.Context, postID int64) ([]Note, error)

	// TransportPolicy declares headers, cookies and throttling for raw content retrieval.
	TransportPolicy() transport.Policy
}

// ChildLister is implemented by adapters that can query a post's children.
type ChildLister interface {
	ListChildren(ctx context.Context, parentID int64) ([]*Post, error)
}

// PostGetter resolves a post id within one source.
type PostGetter interface {
	GetPost(ctx context.Context, id int64) (*Post, error)
}

// Retriever opens raw content under a source's transport policy.
type Retriever interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// policyRetriever opens content through a transport client.
type policyRetriever struct {
	client *transport.Client
	policy transport.Policy
}

// NewRetriever returns a Retriever that applies policy on every request.
func NewRetriever(client *transport.Client, policy transport.Policy) Retriever {
	return &policyRetriever{client: client, policy: policy}
}

func (r *policyRetriever) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	return r.client.Open(ctx, "fetch content", url, r.policy)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

func pageOrFirst(page int) int {
	if page <= 0 {
		return 1
	}
	return page
}
