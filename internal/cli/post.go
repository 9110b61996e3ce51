package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ppiankov/boorufind/internal/finder"
	"github.com/ppiankov/boorufind/internal/render"
	"github.com/ppiankov/boorufind/internal/source"
)

var (
	postClient   string
	postParent   bool
	postChildren bool
	postFormat   string
)

var postCmd = &cobra.Command{
	Use:   "post <id>",
	Short: "Show one post, optionally with its parent and children",
	Args:  cobra.ExactArgs(1),
	RunE:  postAction,
}

func init() {
	postCmd.Flags().StringVar(&postClient, "client", "", "adapter to ask (default: first adapter that has it)")
	postCmd.Flags().BoolVar(&postParent, "parent", false, "also resolve the parent post")
	postCmd.Flags().BoolVar(&postChildren, "children", false, "also list child posts")
	postCmd.Flags().StringVar(&postFormat, "format", render.FormatTerminal, "output format: terminal, json, markdown")
	rootCmd.AddCommand(postCmd)
}

func postAction(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
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

	post, err := a.finder.GetPost(ctx, id, finder.Query{Client: postClient})
	if err != nil {
		return err
	}
	posts := []*source.Post{post}

	if postParent {
		parent, err := a.finder.Parent(ctx, post)
		if err != nil {
			return fmt.Errorf("parent of %s: %w", post.Key(), err)
		}
		if parent != nil {
			posts = append(posts, parent)
		}
	}
	if postChildren {
		children, err := a.finder.Children(ctx, post)
		if err != nil {
			return fmt.Errorf("children of %s: %w", post.Key(), err)
		}
		posts = append(posts, children...)
	}

	return output(postFormat, render.Input{
		Title: fmt.Sprintf("post %s", post.Key()),
		Posts: posts,
	})
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid post id %q", s)
	}
	return id, nil
}
