package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/casebuffer/pkg/casebuf"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize casebuf configuration and storage",
		Long: "Create the configuration and data directories, write a default config.yaml\n" +
			"if none exists, and create the case tables in a SQLite store.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInit(cmd)
		},
	}
}

func (a *app) runInit(cmd *cobra.Command) error {
	if err := a.cfg.Validate(); err != nil {
		return userError("invalid config: %w", err)
	}
	if err := os.MkdirAll(a.configDir, 0o755); err != nil {
		return sysError("create config directory: %w", err)
	}
	configDataDir := ""
	if a.flags.dataDir != "" {
		configDataDir = a.cfg.DataDir
	}
	if _, err := writeConfigIfMissing(a.configDir, configDataDir); err != nil {
		return sysError("write config: %w", err)
	}
	if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
		return sysError("create data directory: %w", err)
	}

	ctx := cmd.Context()
	st, err := casebuf.CreateStore(ctx, a.cfg)
	if err != nil {
		return sysError("open store: %w", err)
	}
	st.Close()

	a.log.Debug(ctx, "initialized", "config_dir", a.configDir, "data_dir", a.cfg.DataDir)
	fmt.Fprintln(cmd.OutOrStdout(), "casebuf initialized successfully")
	return nil
}
