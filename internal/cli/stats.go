package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/ppiankov/boorufind/internal/config"
	"github.com/ppiankov/boorufind/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	statsFormat string
	statsPrune  bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show saved posts and downloads per source",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
	statsCmd.Flags().BoolVar(&statsPrune, "prune", false, "forget downloads whose files are gone")
	rootCmd.AddCommand(statsCmd)
}

func statsAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx := cmd.Context()

	if statsPrune {
		n, err := db.PruneMissing(ctx)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		if statsFormat != "json" {
			fmt.Fprintf(os.Stdout, "Pruned %d missing downloads.\n", n)
		}
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	switch statsFormat {
	case "json":
		return printStatsJSON(os.Stdout, stats)
	case "terminal", "":
		printStats(os.Stdout, stats)
		return nil
	}
	return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
}

type jsonStatsOutput struct {
	Sources []jsonSourceStats `json:"sources"`
	Totals  jsonStatsTotals   `json:"totals"`
}

type jsonSourceStats struct {
	Source       string `json:"source"`
	SavedPosts   int    `json:"saved_posts"`
	Downloads    int    `json:"downloads"`
	Bytes        int64  `json:"bytes"`
	LastDownload string `json:"last_download,omitempty"`
}

type jsonStatsTotals struct {
	SavedPosts int   `json:"saved_posts"`
	Downloads  int   `json:"downloads"`
	Bytes      int64 `json:"bytes"`
}

func printStatsJSON(w io.Writer, stats []store.SourceStats) error {
	out := jsonStatsOutput{Sources: make([]jsonSourceStats, 0, len(stats))}
	for _, st := range stats {
		js := jsonSourceStats{
			Source:     st.Source,
			SavedPosts: st.SavedPosts,
			Downloads:  st.Downloads,
			Bytes:      st.Bytes,
		}
		if !st.LastDownload.IsZero() {
			js.LastDownload = st.LastDownload.UTC().Format(time.RFC3339)
		}
		out.Sources = append(out.Sources, js)
		out.Totals.SavedPosts += st.SavedPosts
		out.Totals.Downloads += st.Downloads
		out.Totals.Bytes += st.Bytes
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStats(w io.Writer, stats []store.SourceStats) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "Nothing indexed yet. Run 'boorufind search --save' or 'boorufind download' first.")
		return
	}

	var (
		posts, downloads int
		bytes            int64
	)
	maxName := 6 // "Source"
	for _, st := range stats {
		posts += st.SavedPosts
		downloads += st.Downloads
		bytes += st.Bytes
		maxName = max(maxName, len(st.Source))
	}

	fmt.Fprintf(w, "boorufind stats — %s saved posts, %s downloads (%s) from %d sources\n\n",
		humanize.Comma(int64(posts)), humanize.Comma(int64(downloads)), humanize.Bytes(uint64(bytes)), len(stats))

	fmt.Fprintf(w, "  %-*s  %6s  %9s  %9s  %s\n", maxName, "Source", "Saved", "Downloads", "Size", "Last download")
	for _, st := range stats {
		last := "never"
		if !st.LastDownload.IsZero() {
			last = humanize.Time(st.LastDownload)
		}
		fmt.Fprintf(w, "  %-*s  %6d  %9d  %9s  %s\n",
			maxName, st.Source, st.SavedPosts, st.Downloads, humanize.Bytes(uint64(st.Bytes)), last)
	}
}
