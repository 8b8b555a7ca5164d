package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/almsync/internal/paths"
	"github.com/mesh-intelligence/almsync/internal/sqlite"
)

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configuration and the reference server database",
		Long:  "Create the configuration directory with a default config.yaml, then create and seed the reference server database.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := paths.ResolveConfigDir(a.flags.configDir)
			if err != nil {
				return err
			}
			dataDir, err := a.dataDir()
			if err != nil {
				return fmt.Errorf("resolve data dir: %w", err)
			}

			backend := sqlite.NewBackend()
			if err := backend.Attach(dataDir); err != nil {
				return fmt.Errorf("initialize storage: %w", err)
			}
			if err := backend.Detach(); err != nil {
				return fmt.Errorf("finalize storage: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "almctl initialized")
			fmt.Fprintf(out, "  config: %s\n", configDir)
			fmt.Fprintf(out, "  data:   %s\n", dataDir)
			return nil
		},
	}
}
