package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/casebuffer/internal/codec"
	"github.com/mesh-intelligence/casebuffer/pkg/types"
)

func newStatusCmd(a *app) *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show buffered writes waiting for sync",
		Long: "List queued entries without modifying the queue file. A corrupt file is\n" +
			"reported as a warning and left in place; the next enqueue or sync\n" +
			"quarantines it. With --verify a corrupt file is an error.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStatus(cmd, verify)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "check the queue file digest without quarantining it")
	return cmd
}

type statusOutput struct {
	Queue   string            `json:"queue"`
	Pending int               `json:"pending"`
	Entries []json.RawMessage `json:"entries"`
}

func (a *app) runStatus(cmd *cobra.Command, verify bool) error {
	buf, err := a.buffer()
	if err != nil {
		return err
	}
	entries, err := buf.Peek()
	if err != nil {
		if verify || !errors.Is(err, types.ErrCorruptQueue) {
			return sysError("verify %s: %w", buf.QueuePath(), err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\nthe file will be quarantined on the next enqueue or sync\n", err)
	}
	out := cmd.OutOrStdout()

	if a.flags.jsonMode {
		res := statusOutput{Queue: buf.QueuePath(), Pending: len(entries), Entries: []json.RawMessage{}}
		for _, e := range entries {
			raw, err := codec.Encode(e)
			if err != nil {
				return sysError("encode entry: %w", err)
			}
			res.Entries = append(res.Entries, raw)
		}
		return writeJSON(out, res)
	}

	fmt.Fprintf(out, "queue: %s\n%d pending\n", buf.QueuePath(), len(entries))
	if len(entries) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE ID\tTYPE\tQUEUED AT")
	for _, e := range entries {
		m := e.Metadata()
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.QueueID, e.Kind(), m.QueuedAt)
	}
	return tw.Flush()
}
