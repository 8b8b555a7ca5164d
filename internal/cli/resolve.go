package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

func (a *app) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <uri>",
		Short: "Resolve an identifier to the entity it names",
		Long: `Resolve opens the entity an identifier names, whatever its type.

Example:
  almctl resolve 'subterra:data-service:objects:/default/PROJ${WorkItem}PROJ-1'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := types.ParseURI(args[0])
			if err != nil {
				return err
			}
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			e, err := c.Resolve(cmd.Context(), u.Raw)
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return printJSON(cmd, e)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", u.Tag, e.ID())
			return nil
		},
	}
}
