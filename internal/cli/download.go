package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/boorufind/internal/errs"
	"github.com/ppiankov/boorufind/internal/fetch"
	"github.com/ppiankov/boorufind/internal/finder"
	"github.com/ppiankov/boorufind/internal/source"
)

var (
	downloadClient      string
	downloadLimit       int
	downloadPage        int
	downloadDir         string
	downloadConcurrency int
	downloadMode        string
	downloadAsync       bool
	downloadKeepPartial bool
)

var downloadCmd = &cobra.Command{
	Use:   "download [tags...]",
	Short: "Search and download every matching image",
	RunE:  downloadAction,
}

func init() {
	downloadCmd.Flags().StringVar(&downloadClient, "client", "", "adapter to query (default: all)")
	downloadCmd.Flags().IntVar(&downloadLimit, "limit", 0, "posts per adapter (default from config)")
	downloadCmd.Flags().IntVar(&downloadPage, "page", 1, "page per adapter")
	downloadCmd.Flags().StringVar(&downloadDir, "dir", "", "target directory (default from config)")
	downloadCmd.Flags().IntVar(&downloadConcurrency, "concurrency", 0, "items in flight (default from config)")
	downloadCmd.Flags().StringVar(&downloadMode, "mode", "", "parallel or cooperative (default from config)")
	downloadCmd.Flags().BoolVar(&downloadAsync, "async", false, "run the download as a background job")
	downloadCmd.Flags().BoolVar(&downloadKeepPartial, "keep-partial", false, "report finished items when interrupted")
	rootCmd.AddCommand(downloadCmd)
}

func downloadAction(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	modeName := downloadMode
	if modeName == "" {
		modeName = a.cfg.Download.Mode
	}
	mode, err := fetch.ParseMode(modeName)
	if err != nil {
		return err
	}
	dir := downloadDir
	if dir == "" {
		dir = a.cfg.Download.Dir
	}
	opts := fetch.Options{
		Concurrency: limitOr(downloadConcurrency, a.cfg.Download.Concurrency),
		Mode:        mode,
		KeepPartial: downloadKeepPartial || a.cfg.Download.KeepPartial,
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	tags := source.ParseTags(strings.Join(args, " "))
	posts, qerr := a.finder.SearchPosts(ctx, tags, finder.Query{
		Client:      downloadClient,
		Limit:       limitOr(downloadLimit, a.cfg.Search.Limit),
		Page:        downloadPage,
		KeepPartial: true,
	})
	if err := resultErr(qerr); err != nil && len(posts) == 0 {
		return err
	}
	posts = a.finder.FilterByMD5(posts)
	posts, dropped := a.rules.Apply(posts)

	fmt.Printf("Found %s posts (%d filtered), downloading to %s (%s)\n",
		humanize.Comma(int64(len(posts))), dropped, dir, mode)
	if qerr != nil {
		printFailures(qerr)
	}

	var (
		report *fetch.Report
		derr   error
	)
	if downloadAsync {
		report, derr = waitJob(ctx, a.pipeline.DownloadFastAsync(ctx, posts, dir, opts))
	} else {
		report, derr = a.pipeline.DownloadFast(ctx, posts, dir, opts)
	}
	if report == nil {
		return derr
	}

	fmt.Printf("Downloaded %s items, %s already present, %s failed.\n",
		humanize.Comma(int64(report.Written)), humanize.Comma(int64(report.Skipped)), humanize.Comma(int64(report.Failed)))
	if derr != nil {
		printFailures(derr)
	}

	if err := resultErr(derr); err != nil {
		return err
	}
	return resultErr(qerr)
}

// waitJob waits for job. When ctx ends first the job is cancelled and its
// own result is still collected.
func waitJob(ctx context.Context, job *fetch.Job) (*fetch.Report, error) {
	report, err := job.Wait(ctx)
	if ctx.Err() == nil {
		return report, err
	}
	job.Cancel()
	return job.Wait(context.Background())
}

func printFailures(err error) {
	pe, ok := errs.AsPartial(err)
	if !ok {
		fmt.Printf("  failed: %v\n", err)
		return
	}
	for _, u := range pe.Units {
		fmt.Printf("  failed: %s: %v\n", u.Unit, u.Err)
	}
}
