// Package cli implements the casebuf command-line interface.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/casebuffer/internal/logging"
	"github.com/mesh-intelligence/casebuffer/internal/paths"
	"github.com/mesh-intelligence/casebuffer/pkg/casebuf"
	"github.com/mesh-intelligence/casebuffer/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(format string, args ...any) error {
	return &exitError{code: exitUserError, err: fmt.Errorf(format, args...)}
}

func sysError(format string, args ...any) error {
	return &exitError{code: exitSysError, err: fmt.Errorf(format, args...)}
}

// exitCode maps a command error to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUserError
}

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	logLevel  string
}

// app is the state shared by subcommands once configuration is loaded.
type app struct {
	flags     rootFlags
	configDir string
	cfg       types.Config
	log       logging.Logger
}

// NewRootCmd creates the top-level "casebuf" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "casebuf",
		Short: "Offline write buffer for device-repair cases",
		Long: "casebuf holds case inserts, updates and deletes in a local queue file\n" +
			"while the case database is unavailable, and replays them on sync.",
		Version: casebuf.Version,
		// Do not print usage on errors returned by subcommands.
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: $XDG_CONFIG_HOME/casebuf)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: $XDG_DATA_HOME/casebuf)")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newEnqueueCmd(a))
	root.AddCommand(newSyncCmd(a))
	root.AddCommand(newStatusCmd(a))

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// load resolves directories, reads config.yaml and builds the logger.
func (a *app) load(cmd *cobra.Command) error {
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return sysError("resolve config dir: %w", err)
	}
	cfg, err := loadConfig(configDir)
	if err != nil {
		return userError("%w", err)
	}
	dataDir, err := paths.ResolveDataDir(a.flags.dataDir, cfg.DataDir)
	if err != nil {
		return sysError("resolve data dir: %w", err)
	}
	cfg.DataDir = dataDir
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}

	log, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return userError("configure logging: %w", err)
	}

	a.configDir = configDir
	a.cfg = cfg
	a.log = log
	return nil
}

// buffer opens the queue described by the loaded config.
func (a *app) buffer(opts ...casebuf.Option) (*casebuf.Buffer, error) {
	opts = append([]casebuf.Option{casebuf.WithLogger(a.log)}, opts...)
	buf, err := casebuf.Open(a.cfg, opts...)
	if err != nil {
		return nil, sysError("open buffer: %w", err)
	}
	return buf, nil
}
