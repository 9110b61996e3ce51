package finder

import (
	"context"

	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/source"
)

// Parent resolves post's parent on the adapter that produced it. Lookups go
// through the finder's resolved-post cache; the result is also cached on the
// post. Relations never cross adapters.
func (f *Finder) Parent(ctx context.Context, post *source.Post) (*source.Post, error) {
	src, err := f.ownerOf(post)
	if err != nil {
		return nil, err
	}
	return post.ResolveParent(ctx, &cachedGetter{f: f, src: src})
}

// Children resolves posts whose parent is post, on the same adapter.
func (f *Finder) Children(ctx context.Context, post *source.Post) ([]*source.Post, error) {
	src, err := f.ownerOf(post)
	if err != nil {
		return nil, err
	}
	children, err := post.ResolveChildren(ctx, src)
	if err != nil {
		return nil, err
	}
	f.bind(src, children)
	for _, c := range children {
		f.cache.Add(c.Key(), c)
	}
	return children, nil
}

// ownerOf returns the adapter bound to post, falling back to the adapter
// registered under the post's source name.
func (f *Finder) ownerOf(post *source.Post) (source.Source, error) {
	if owner := post.Owner(); owner != nil {
		return owner, nil
	}
	src, err := f.Get(post.Source)
	if err != nil {
		return nil, errs.Configuration("post %s: owning adapter unknown", post.Key())
	}
	return src, nil
}

// CachedPost returns a resolved post from the finder cache.
func (f *Finder) CachedPost(key source.Key) (*source.Post, bool) {
	return f.cache.Get(key)
}

type cachedGetter struct {
	f   *Finder
	src source.Source
}

func (g *cachedGetter) GetPost(ctx context.Context, id int64) (*source.Post, error) {
	key := source.Key{Source: g.src.Name(), ID: id}
	if p, ok := g.f.cache.Get(key); ok {
		return p, nil
	}
	p, err := g.src.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	g.f.bind(g.src, []*source.Post{p})
	g.f.cache.Add(key, p)
	return p, nil
}
