package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/boorufind/internal/errs"
)

// Dimension is the pixel size of one content item.
type Dimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Key is the global identity of a post: post ids are unique only within a source.
type Key struct {
	Source string
	ID     int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s #%d", k.Source, k.ID)
}

// Post is the canonical record for one submission. Images, Filenames, MD5
// and Dimensions are aligned by index when populated; Images[0] is the
// primary image. Posts carry mutable relation and fetch state and are always
// handled by pointer.
type Post struct {
	ID         int64       `json:"post_id"`
	Tags       []string    `json:"tags"`
	Sources    []string    `json:"sources,omitempty"`
	Images     []string    `json:"images"`
	Authors    []string    `json:"authors,omitempty"`
	Source     string      `json:"source"`
	Preview    string      `json:"preview,omitempty"`
	MD5        []string    `json:"md5,omitempty"`
	Rating     Rating      `json:"rating"`
	ParentID   int64       `json:"parent_id,omitempty"` // 0 when the post has no parent
	Filenames  []string    `json:"filenames,omitempty"`
	Name       string      `json:"name"`
	Dimensions []Dimension `json:"dimensions,omitempty"`
	Poster     string      `json:"poster,omitempty"`
	PosterID   int64       `json:"poster_id,omitempty"`

	owner     Source
	retriever Retriever

	rel     relations
	content content
}

type relations struct {
	mu sync.Mutex

	parentResolved bool
	parent         *Post

	childrenResolved bool
	children         []*Post

	group singleflight.Group
}

// Normalize fills derived defaults: the display name and filenames taken from
// the last path segment of each image URL.
func (p *Post) Normalize() *Post {
	if p.Name == "" {
		p.Name = fmt.Sprintf("Post #%d", p.ID)
	}
	if len(p.Filenames) == 0 && len(p.Images) > 0 {
		p.Filenames = make([]string, len(p.Images))
		for i, u := range p.Images {
			p.Filenames[i] = FilenameFromURL(u)
		}
	}
	return p
}

// Attach binds the adapter that produced the post and the retriever used to
// fetch its content. Nil arguments leave the current binding in place.
func (p *Post) Attach(owner Source, r Retriever) {
	if owner != nil {
		p.owner = owner
	}
	if r != nil {
		p.retriever = r
	}
}

// Owner returns the adapter that produced the post, or nil.
func (p *Post) Owner() Source { return p.owner }

func (p *Post) Key() Key { return Key{Source: p.Source, ID: p.ID} }

// Image returns the primary image URL.
func (p *Post) Image() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

func (p *Post) TagString() string { return strings.Join(p.Tags, " ") }

func (p *Post) IsVideo() bool {
	switch ext := urlExt(p.Image()); ext {
	case ".mp4", ".webm":
		return true
	}
	return false
}

func (p *Post) IsZip() bool { return urlExt(p.Image()) == ".zip" }

// Validate reports lists that are populated but not aligned with Images.
func (p *Post) Validate() error {
	n := len(p.Images)
	check := func(name string, got int) error {
		if got != 0 && got != n {
			return fmt.Errorf("post %s: %d %s for %d images", p.Key(), got, name, n)
		}
		return nil
	}
	return errors.Join(
		check("filenames", len(p.Filenames)),
		check("md5 hashes", len(p.MD5)),
		check("dimensions", len(p.Dimensions)),
	)
}

// Parent resolves the parent through the owning adapter.
func (p *Post) Parent(ctx context.Context) (*Post, error) {
	if p.owner == nil {
		return nil, errs.Configuration("post %s: no owning adapter", p.Key())
	}
	return p.ResolveParent(ctx, p.owner)
}

// Children resolves the children through the owning adapter.
func (p *Post) Children(ctx context.Context) ([]*Post, error) {
	if p.owner == nil {
		return nil, errs.Configuration("post %s: no owning adapter", p.Key())
	}
	return p.ResolveChildren(ctx, p.owner)
}

// CachedParent returns the parent if it has been resolved.
func (p *Post) CachedParent() (*Post, bool) {
	p.rel.mu.Lock()
	defer p.rel.mu.Unlock()
	return p.rel.parent, p.rel.parentResolved
}

// ResolveParent looks the parent up through getter on first call and caches
// it. A parent the source no longer has resolves to nil without error.
// Other failures are returned and not cached.
func (p *Post) ResolveParent(ctx context.Context, getter PostGetter) (*Post, error) {
	if p.ParentID == 0 {
		return nil, nil
	}
	if parent, ok := p.CachedParent(); ok {
		return parent, nil
	}

	v, err, _ := p.rel.group.Do("parent", func() (any, error) {
		if parent, ok := p.CachedParent(); ok {
			return parent, nil
		}
		parent, err := getter.GetPost(ctx, p.ParentID)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("resolve parent of %s: %w", p.Key(), err)
		}
		if err != nil {
			parent = nil
		}
		p.rel.mu.Lock()
		p.rel.parent, p.rel.parentResolved = parent, true
		p.rel.mu.Unlock()
		return parent, nil
	})
	if err != nil {
		return nil, err
	}
	parent, _ := v.(*Post)
	return parent, nil
}

// ResolveChildren lists children on first call and caches them. Sources that
// cannot query children yield an empty list.
func (p *Post) ResolveChildren(ctx context.Context, src Source) ([]*Post, error) {
	if children, ok := p.cachedChildren(); ok {
		return children, nil
	}

	v, err, _ := p.rel.group.Do("children", func() (any, error) {
		if children, ok := p.cachedChildren(); ok {
			return children, nil
		}
		lister, ok := src.(ChildLister)
		if !ok {
			p.setChildren([]*Post{})
			return []*Post{}, nil
		}
		found, err := lister.ListChildren(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve children of %s: %w", p.Key(), err)
		}
		children := make([]*Post, 0, len(found))
		for _, c := range found {
			if c.ID != p.ID {
				children = append(children, c)
			}
		}
		p.setChildren(children)
		return children, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Post), nil
}

func (p *Post) cachedChildren() ([]*Post, bool) {
	p.rel.mu.Lock()
	defer p.rel.mu.Unlock()
	return p.rel.children, p.rel.childrenResolved
}

func (p *Post) setChildren(children []*Post) {
	p.rel.mu.Lock()
	p.rel.children, p.rel.childrenResolved = children, true
	p.rel.mu.Unlock()
}

// FilenameFromURL returns the last path segment of u, or "" if there is none.
func FilenameFromURL(u string) string {
	if u == "" {
		return ""
	}
	parsed, err := url.Parse(u)
	if err != nil {
		if i := strings.LastIndex(u, "/"); i >= 0 {
			return u[i+1:]
		}
		return u
	}
	name := path.Base(parsed.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func urlExt(u string) string {
	return strings.ToLower(path.Ext(FilenameFromURL(u)))
}
