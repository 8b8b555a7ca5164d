package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/almsync/pkg/alm"
)

const modulePath = "github.com/mesh-intelligence/almsync"

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the almctl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "almctl v%s\nmodule: %s\n", alm.Version, modulePath)
			return nil
		},
	}
}
