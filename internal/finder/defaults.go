package finder

import (
	"fmt"
	"slices"
	"sort"

	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/source"
)

// Constructor builds one adapter for registration under Name.
type Constructor struct {
	Name string
	New  func() (source.Source, error)
}

type factory func(source.Config) (source.Source, error)

var builtins = map[string]factory{
	"danbooru": func(c source.Config) (source.Source, error) { return source.NewDanbooru(c), nil },
	"yande.re": func(c source.Config) (source.Source, error) { return source.NewYandere(c), nil },
	"konachan": func(c source.Config) (source.Source, error) { return source.NewKonachan(c), nil },
	"gelbooru": func(c source.Config) (source.Source, error) { return source.NewGelbooru(c), nil },
	"rule34":   func(c source.Config) (source.Source, error) { return source.NewRule34(c), nil },
	"feed":     func(c source.Config) (source.Source, error) { return source.NewFeed(c) },
}

// defaultKinds is the built-in default set, in registration order.
var defaultKinds = []string{"danbooru", "rule34", "konachan", "yande.re", "gelbooru"}

// Kinds lists the built-in adapter kinds.
func Kinds() []string {
	kinds := make([]string, 0, len(builtins))
	for k := range builtins {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// IsKind reports whether kind names a built-in adapter.
func IsKind(kind string) bool {
	_, ok := builtins[kind]
	return ok
}

// Builtin returns a constructor for a built-in adapter kind. The adapter is
// registered under cfg.Name, or the kind when the name is empty.
func Builtin(kind string, cfg source.Config) (Constructor, error) {
	build, ok := builtins[kind]
	if !ok {
		return Constructor{}, errs.Configuration("unknown adapter kind %q (known: %v)", kind, Kinds())
	}
	name := cfg.Name
	if name == "" {
		name = kind
		cfg.Name = kind
	}
	return Constructor{
		Name: name,
		New:  func() (source.Source, error) { return build(cfg) },
	}, nil
}

// DefaultSet returns constructors for the default adapters. configure, when
// set, supplies per-kind settings such as credentials.
func DefaultSet(configure func(kind string) source.Config) []Constructor {
	set := make([]Constructor, 0, len(defaultKinds))
	for _, kind := range defaultKinds {
		var cfg source.Config
		if configure != nil {
			cfg = configure(kind)
		}
		c, _ := Builtin(kind, cfg)
		set = append(set, c)
	}
	return set
}

// IsDefault reports whether kind belongs to the default set.
func IsDefault(kind string) bool {
	return slices.Contains(defaultKinds, kind)
}

// AddDefault builds and registers every constructor. Construction stops at
// the first failure; adapters built before it stay registered.
func (f *Finder) AddDefault(defaults []Constructor) error {
	for _, c := range defaults {
		src, err := c.New()
		if err != nil {
			return fmt.Errorf("build adapter %s: %w", c.Name, err)
		}
		f.Register(c.Name, src)
	}
	return nil
}
