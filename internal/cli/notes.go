package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/boorufind/internal/finder"
	"github.com/ppiankov/boorufind/internal/render"
)

var (
	notesClient string
	notesFormat string
)

var notesCmd = &cobra.Command{
	Use:   "notes <post-id>",
	Short: "Show translation notes attached to a post",
	Args:  cobra.ExactArgs(1),
	RunE:  notesAction,
}

func init() {
	notesCmd.Flags().StringVar(&notesClient, "client", "", "adapter to query (default: all)")
	notesCmd.Flags().StringVar(&notesFormat, "format", render.FormatTerminal, "output format: terminal, json, markdown")
	rootCmd.AddCommand(notesCmd)
}

func notesAction(cmd *cobra.Command, args []string) error {
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

	notes, qerr := a.finder.GetNotes(ctx, id, finder.Query{Client: notesClient, KeepPartial: true})
	if qerr != nil && len(notes) == 0 {
		if err := resultErr(qerr); err != nil {
			return err
		}
	}
	if err := output(notesFormat, render.Input{
		Title: fmt.Sprintf("notes on #%d", id),
		Notes: notes,
		Err:   qerr,
	}); err != nil {
		return err
	}
	return resultErr(qerr)
}
