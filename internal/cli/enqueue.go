package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/casebuffer/internal/codec"
)

func newEnqueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue [json|-]",
		Short: "Buffer a case write for a later sync",
		Long: "Append one case mutation to the local queue. The payload is a JSON object\n" +
			"with a \"type\" of insert_case, update_case or delete_case plus its fields.\n" +
			"With no argument or \"-\" the payload is read from standard input.",
		Example: `  casebuf enqueue '{"type":"insert_case","clinic":"Neuro","device_name":"Endoscope","submitter":"A"}'
  echo '{"type":"update_case","id":7,"status":"Abgeschlossen"}' | casebuf enqueue -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEnqueue(cmd, args)
		},
	}
}

func (a *app) runEnqueue(cmd *cobra.Command, args []string) error {
	var raw []byte
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return sysError("read payload: %w", err)
		}
		raw = data
	} else {
		raw = []byte(args[0])
	}

	payload, err := decodePayload(raw)
	if err != nil {
		return userError("invalid payload: %w", err)
	}
	entry, err := codec.FromPayload(payload)
	if err != nil {
		return userError("invalid payload: %w", err)
	}

	buf, err := a.buffer()
	if err != nil {
		return err
	}
	if err := buf.EnqueueEntry(cmd.Context(), entry); err != nil {
		return sysError("%w", err)
	}

	pending := len(buf.Pending(cmd.Context()))
	out := cmd.OutOrStdout()
	if a.flags.jsonMode {
		return writeJSON(out, map[string]any{"queued": true, "pending": pending})
	}
	fmt.Fprintf(out, "saved locally, will sync later (%d pending)\n", pending)
	return nil
}

// decodePayload parses a JSON object, keeping numbers exact so large case
// ids survive.
func decodePayload(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, errors.New("payload must be a JSON object")
	}
	return payload, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
