package cli

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/casebuffer/pkg/casebuf"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay buffered writes against the case store once",
		Long: "Apply queued entries in order. A busy or locked store ends the pass and\n" +
			"keeps the remaining entries; entries that fail for any other reason are dropped.\n" +
			"A SQLite store must already exist (see init); a missing database is an error\n" +
			"and leaves the queue untouched.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSync(cmd)
		},
	}
}

func (a *app) runSync(cmd *cobra.Command) error {
	if err := a.cfg.Validate(); err != nil {
		return userError("invalid config: %w", err)
	}
	ctx := cmd.Context()

	m, err := casebuf.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		return sysError("register metrics: %w", err)
	}
	buf, err := a.buffer(casebuf.WithMetrics(m))
	if err != nil {
		return err
	}
	st, err := casebuf.OpenStore(ctx, a.cfg)
	if err != nil {
		return sysError("open store: %w", err)
	}
	defer st.Close()

	res, err := buf.SyncOnce(ctx, st)
	if err != nil {
		return sysError("%w", err)
	}

	if a.cfg.MetricsFile != "" {
		path := a.cfg.MetricsFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(a.cfg.DataDir, path)
		}
		if err := m.WriteTextfile(path); err != nil {
			a.log.Warn(ctx, "metrics not written", "path", path, "error", err)
		}
	}

	out := cmd.OutOrStdout()
	if a.flags.jsonMode {
		return writeJSON(out, map[string]int{
			"applied":   res.Applied,
			"remaining": res.Remaining,
			"dropped":   res.Dropped,
		})
	}
	fmt.Fprintf(out, "synced %d, %d still pending\n", res.Applied, res.Remaining)
	if res.Dropped > 0 {
		fmt.Fprintf(out, "dropped %d entries that cannot be applied\n", res.Dropped)
	}
	return nil
}
