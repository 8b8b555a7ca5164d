package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/almsync/pkg/alm"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// planView is the JSON rendering of a plan.
type planView struct {
	URI string `json:"uri"`
	ID  string `json:"id"`
	alm.PlanData
}

func (a *app) planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Read plans and change their contents",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <project> <id>",
			Short: "Show a plan and the work items planned in it",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				pl, err := a.plan(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return a.printPlan(cmd, pl)
			},
		},
		&cobra.Command{
			Use:   "add <project> <plan> <workitem>",
			Short: "Plan a work item",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.changePlan(cmd, args, (*alm.Plan).AddWorkItem, "Added %s to %s\n")
			},
		},
		&cobra.Command{
			Use:   "remove <project> <plan> <workitem>",
			Short: "Take a work item out of a plan",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.changePlan(cmd, args, (*alm.Plan).RemoveWorkItem, "Removed %s from %s\n")
			},
		},
	)
	return cmd
}

// plan opens plan id of project.
func (a *app) plan(ctx context.Context, project, id string) (*alm.Plan, error) {
	p, err := a.project(ctx, project)
	if err != nil {
		return nil, err
	}
	return p.Plan(ctx, id)
}

func (a *app) changePlan(cmd *cobra.Command, args []string, change func(*alm.Plan, context.Context, *alm.WorkItem) error, format string) error {
	ctx := cmd.Context()
	pl, err := a.plan(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	w, err := a.workItem(ctx, args[0], args[2])
	if err != nil {
		return err
	}
	if err := change(pl, ctx, w); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), format, w.ID(), pl.ID())
	return nil
}

func (a *app) printPlan(cmd *cobra.Command, pl *alm.Plan) error {
	if a.flags.jsonMode {
		return printJSON(cmd, planView{URI: pl.URI(), ID: pl.ID(), PlanData: pl.PlanData})
	}
	return printFields(cmd,
		"id", pl.ID(),
		"name", pl.Name,
		"status", types.OptionID(pl.Status),
		"start", pl.StartDate,
		"due", pl.DueDate,
		"parent", types.LocalID(pl.ParentURI),
		"work items", localIDs(pl.WorkItemURIs()),
	)
}
