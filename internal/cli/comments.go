package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/boorufind/internal/finder"
	"github.com/ppiankov/boorufind/internal/render"
	"github.com/ppiankov/boorufind/internal/source"
)

var (
	commentsClient string
	commentsPost   int64
	commentsID     int64
	commentsLimit  int
	commentsPage   int
	commentsFormat string
)

var commentsCmd = &cobra.Command{
	Use:   "comments",
	Short: "List comments, or show one comment with --id",
	Args:  cobra.NoArgs,
	RunE:  commentsAction,
}

func init() {
	commentsCmd.Flags().StringVar(&commentsClient, "client", "", "adapter to query (default: all)")
	commentsCmd.Flags().Int64Var(&commentsPost, "post", 0, "only comments on this post")
	commentsCmd.Flags().Int64Var(&commentsID, "id", 0, "show a single comment")
	commentsCmd.Flags().IntVar(&commentsLimit, "limit", 0, "comments per adapter (default from config)")
	commentsCmd.Flags().IntVar(&commentsPage, "page", 1, "page per adapter")
	commentsCmd.Flags().StringVar(&commentsFormat, "format", render.FormatTerminal, "output format: terminal, json, markdown")
	rootCmd.AddCommand(commentsCmd)
}

func commentsAction(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	q := finder.Query{Client: commentsClient, KeepPartial: true}

	if commentsID > 0 {
		c, err := a.finder.GetComment(ctx, commentsID, commentsPost, q)
		if err != nil {
			return err
		}
		return output(commentsFormat, render.Input{
			Title:    fmt.Sprintf("comment %d", commentsID),
			Comments: []source.Comment{c},
		})
	}

	comments, qerr := a.finder.SearchComments(ctx, source.CommentQuery{
		PostID: commentsPost,
		Limit:  limitOr(commentsLimit, a.cfg.Search.Limit),
		Page:   commentsPage,
	}, q)
	if qerr != nil && len(comments) == 0 {
		if err := resultErr(qerr); err != nil {
			return err
		}
	}

	title := "comments"
	if commentsPost > 0 {
		title = fmt.Sprintf("comments on #%d", commentsPost)
	}
	if err := output(commentsFormat, render.Input{Title: title, Comments: comments, Err: qerr}); err != nil {
		return err
	}
	return resultErr(qerr)
}
