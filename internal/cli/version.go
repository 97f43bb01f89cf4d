package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/casebuffer/pkg/casebuf"
)

const modulePath = "github.com/mesh-intelligence/casebuffer"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the casebuf version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "casebuf v%s\nmodule: %s\n", casebuf.Version, modulePath)
			return nil
		},
	}
}
