// Package finder holds the adapter registry and fans queries out across
// registered sources, merging their results in registration order.
package finder

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/source"
)

const defaultCacheSize = 1024

// RetrieverProvider supplies the retriever used to fetch a source's content.
// The fetch pipeline implements it.
type RetrieverProvider interface {
	For(src source.Source) source.Retriever
}

// Options configures a Finder.
type Options struct {
	Logger     *slog.Logger
	Retrievers RetrieverProvider // nil keeps each adapter's own retriever
	CacheSize  int               // resolved-post cache entries
}

// Finder is the adapter registry and aggregator. It is safe for concurrent use.
type Finder struct {
	mu       sync.RWMutex
	order    []string
	adapters map[string]source.Source
	aliases  map[string]map[string]string

	retrievers RetrieverProvider
	cache      *lru.Cache[source.Key, *source.Post]
	log        *slog.Logger
}

type entry struct {
	name string
	src  source.Source
}

// New creates an empty Finder.
func New(opts Options) *Finder {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, _ := lru.New[source.Key, *source.Post](size)
	return &Finder{
		adapters:   make(map[string]source.Source),
		aliases:    make(map[string]map[string]string),
		retrievers: opts.Retrievers,
		cache:      cache,
		log:        log,
	}
}

// Register adds src under name, replacing any adapter already registered
// under that name while keeping its position.
func (f *Finder) Register(name string, src source.Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.adapters[name]; !ok {
		f.order = append(f.order, name)
	}
	f.adapters[name] = src
}

// Remove unregisters name. It reports whether an adapter was removed.
func (f *Finder) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.adapters[name]; !ok {
		return false
	}
	delete(f.adapters, name)
	delete(f.aliases, name)
	f.order = slices.DeleteFunc(f.order, func(n string) bool { return n == name })
	return true
}

// Get returns the adapter registered under name.
func (f *Finder) Get(name string) (source.Source, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	src, ok := f.adapters[name]
	if !ok {
		return nil, fmt.Errorf("no adapter named %q: %w", name, errs.ErrNotFound)
	}
	return src, nil
}

func (f *Finder) Has(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.adapters[name]
	return ok
}

// Names returns registered adapter names in registration order.
func (f *Finder) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.order)
}

// SetTagAlias rewrites tag to alias in queries sent to client.
func (f *Finder) SetTagAlias(client, tag, alias string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.adapters[client]; !ok {
		return fmt.Errorf("no adapter named %q: %w", client, errs.ErrNotFound)
	}
	if f.aliases[client] == nil {
		f.aliases[client] = make(map[string]string)
	}
	f.aliases[client][tag] = alias
	return nil
}

func (f *Finder) tagsFor(name string, tags []string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return source.RewriteTags(tags, f.aliases[name])
}

// targets resolves the adapters a query runs against: the named client, or a
// snapshot of all adapters in registration order.
func (f *Finder) targets(client string) ([]entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if client != "" {
		src, ok := f.adapters[client]
		if !ok {
			return nil, fmt.Errorf("no adapter named %q: %w", client, errs.ErrNotFound)
		}
		return []entry{{name: client, src: src}}, nil
	}
	if len(f.order) == 0 {
		return nil, errs.Configuration("no adapters registered")
	}
	out := make([]entry, 0, len(f.order))
	for _, name := range f.order {
		out = append(out, entry{name: name, src: f.adapters[name]})
	}
	return out, nil
}

// bind attaches posts to src and the configured retriever.
func (f *Finder) bind(src source.Source, posts []*source.Post) {
	var r source.Retriever
	if f.retrievers != nil {
		r = f.retrievers.For(src)
	}
	for _, p := range posts {
		if p != nil {
			p.Attach(src, r)
		}
	}
}
