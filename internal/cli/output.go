package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

// errUsage marks malformed command arguments.
var errUsage = errors.New("invalid arguments")

// printJSON writes v as indented JSON to the command output.
func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// printFields writes label/value pairs as aligned columns.
func printFields(cmd *cobra.Command, pairs ...string) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(tw, "%s:\t%s\n", pairs[i], pairs[i+1])
	}
	return tw.Flush()
}

// localIDs maps identifiers to their local ids.
func localIDs(uris []string) string {
	ids := make([]string, len(uris))
	for i, u := range uris {
		ids[i] = types.LocalID(u)
	}
	return strings.Join(ids, ", ")
}

// objectURI returns ref unchanged when it already is an identifier and the
// identifier of the typeName object ref in project otherwise.
func objectURI(project, typeName, ref string) string {
	if strings.HasPrefix(ref, types.URIScheme+":") {
		return ref
	}
	return types.ObjectURI(project, typeName, ref)
}
