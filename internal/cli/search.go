package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/boorufind/internal/filter"
	"github.com/ppiankov/boorufind/internal/finder"
	"github.com/ppiankov/boorufind/internal/render"
	"github.com/ppiankov/boorufind/internal/source"
)

var (
	searchClient string
	searchLimit  int
	searchPage   int
	searchFormat string
	searchSave   bool
	searchDedup  bool
	searchSort   string
	searchTrend  int
	noColor      bool
)

var searchCmd = &cobra.Command{
	Use:   "search [tags...]",
	Short: "Search posts on one or all adapters",
	RunE:  searchAction,
}

func init() {
	searchCmd.Flags().StringVar(&searchClient, "client", "", "adapter to query (default: all)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "posts per adapter (default from config)")
	searchCmd.Flags().IntVar(&searchPage, "page", 1, "page per adapter")
	searchCmd.Flags().StringVar(&searchFormat, "format", render.FormatTerminal, "output format: terminal, json, markdown")
	searchCmd.Flags().BoolVar(&searchSave, "save", false, "record results in the local index")
	searchCmd.Flags().BoolVar(&searchDedup, "dedup", true, "drop posts whose md5 was already listed")
	searchCmd.Flags().StringVar(&searchSort, "sort", "", "sort merged results: id, rating")
	searchCmd.Flags().IntVar(&searchTrend, "trending", 0, "list tags seen on at least this many sources (0 disables)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	rootCmd.AddCommand(searchCmd)
}

func searchAction(cmd *cobra.Command, args []string) error {
	less, err := sortFunc(searchSort)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	tags := source.ParseTags(strings.Join(args, " "))
	posts, qerr := a.finder.SearchPosts(ctx, tags, finder.Query{
		Client:      searchClient,
		Limit:       limitOr(searchLimit, a.cfg.Search.Limit),
		Page:        searchPage,
		KeepPartial: true,
		Less:        less,
	})
	if qerr != nil && len(posts) == 0 {
		if err := resultErr(qerr); err != nil {
			return err
		}
	}

	if searchDedup {
		posts = a.finder.FilterByMD5(posts)
	}
	posts, dropped := a.rules.Apply(posts)

	if searchSave && len(posts) > 0 {
		n, err := a.store.SavePosts(ctx, posts, time.Now())
		if err != nil {
			return fmt.Errorf("save posts: %w", err)
		}
		a.log.Info("saved posts", "count", n)
	}

	var trending []filter.Trend
	if searchTrend > 0 {
		trending = filter.FindTrending(posts, searchTrend, tags)
	}

	if err := output(searchFormat, render.Input{
		Title:    fmt.Sprintf("search %q", strings.Join(tags, " ")),
		Posts:    posts,
		Trending: trending,
		Dropped:  dropped,
		Err:      qerr,
	}); err != nil {
		return err
	}
	return resultErr(qerr)
}

func sortFunc(name string) (func(a, b *source.Post) bool, error) {
	switch name {
	case "":
		return nil, nil
	case "id":
		return func(a, b *source.Post) bool { return a.ID > b.ID }, nil
	case "rating":
		return func(a, b *source.Post) bool { return a.Rating < b.Rating }, nil
	}
	return nil, fmt.Errorf("unknown sort %q (want id or rating)", name)
}

func limitOr(flag, fallback int) int {
	if flag > 0 {
		return flag
	}
	return fallback
}

// signalContext ends on SIGINT so fan-outs and downloads can return what
// they already have.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt)
}
