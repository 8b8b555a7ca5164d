package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/almsync/pkg/alm"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// workItemView is the JSON rendering of a work item.
type workItemView struct {
	URI string `json:"uri"`
	ID  string `json:"id"`
	alm.WorkItemData
}

func (a *app) workItemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workitem",
		Aliases: []string{"wi"},
		Short:   "Read and edit work items",
	}

	var title string
	comment := &cobra.Command{
		Use:   "comment <project> <id> <text>",
		Short: "Comment on a work item",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.workItem(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if err := w.AddComment(cmd.Context(), title, types.Plain(args[2]), nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added comment to %s\n", w.ID())
			return nil
		},
	}
	comment.Flags().StringVar(&title, "title", "", "comment title")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <project> <id>",
			Short: "Show a work item",
			Args:  cobra.ExactArgs(2),
			RunE:  a.runWorkItemGet,
		},
		&cobra.Command{
			Use:   "create <project> <type> <title>",
			Short: "Create a work item",
			Args:  cobra.ExactArgs(3),
			RunE:  a.runWorkItemCreate,
		},
		&cobra.Command{
			Use:   "set <project> <id> <field=value>...",
			Short: "Change work item fields",
			Long: `Set changes the named fields and saves them in one update.

Known fields are title, description, severity, priority, resolution and
status; any other name is treated as a custom field.

Example:
  almctl workitem set PROJ PROJ-1 title="Login form" risk=high`,
			Args: cobra.MinimumNArgs(3),
			RunE: a.runWorkItemSet,
		},
		comment,
		&cobra.Command{
			Use:   "action <project> <id> [action]",
			Short: "List or perform workflow actions",
			Args:  cobra.RangeArgs(2, 3),
			RunE:  a.runWorkItemAction,
		},
		&cobra.Command{
			Use:   "delete <project> <id>",
			Short: "Delete a work item",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				w, err := a.workItem(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if err := w.Delete(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", w.ID())
				return nil
			},
		},
	)
	return cmd
}

// project opens the project with id.
func (a *app) project(ctx context.Context, id string) (*alm.Project, error) {
	c, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	return c.Project(ctx, id)
}

// workItem opens work item id of project.
func (a *app) workItem(ctx context.Context, project, id string) (*alm.WorkItem, error) {
	p, err := a.project(ctx, project)
	if err != nil {
		return nil, err
	}
	return p.WorkItem(ctx, id)
}

func (a *app) runWorkItemGet(cmd *cobra.Command, args []string) error {
	w, err := a.workItem(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	return a.printWorkItem(cmd, w)
}

func (a *app) printWorkItem(cmd *cobra.Command, w *alm.WorkItem) error {
	if a.flags.jsonMode {
		return printJSON(cmd, workItemView{URI: w.URI(), ID: w.ID(), WorkItemData: w.WorkItemData})
	}
	return printFields(cmd,
		"id", w.ID(),
		"title", w.Title,
		"type", types.OptionID(w.Type),
		"status", types.OptionID(w.Status),
		"resolution", types.OptionID(w.Resolution),
		"assignee", localIDs(w.Assignee),
		"description", w.DescriptionText(),
	)
}

func (a *app) runWorkItemCreate(cmd *cobra.Command, args []string) error {
	p, err := a.project(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	w, err := p.CreateWorkItem(cmd.Context(), args[1], &alm.WorkItemData{Title: args[2]})
	if err != nil {
		return err
	}
	if a.flags.jsonMode {
		return a.printWorkItem(cmd, w)
	}
	fmt.Fprintln(cmd.OutOrStdout(), w.ID())
	return nil
}

func (a *app) runWorkItemSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w, err := a.workItem(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	changes := make([][2]string, 0, len(args)-2)
	for _, kv := range args[2:] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("%w: %q is not field=value", errUsage, kv)
		}
		changes = append(changes, [2]string{key, value})
	}

	err = w.Edit(ctx, func() error {
		for _, c := range changes {
			key, value := c[0], c[1]
			switch key {
			case "title":
				w.Title = value
			case "description":
				w.SetDescription(value)
			case "severity":
				w.Severity = types.Enum(value)
			case "priority":
				w.Priority = types.Enum(value)
			case "resolution":
				w.Resolution = types.Enum(value)
			case "status":
				if err := w.SetStatus(ctx, value); err != nil {
					return err
				}
			default:
				if err := w.SetCustomField(ctx, key, value); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return a.printWorkItem(cmd, w)
}

func (a *app) runWorkItemAction(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w, err := a.workItem(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	if len(args) == 2 {
		actions, err := w.AvailableActions(ctx)
		if err != nil {
			return err
		}
		if a.flags.jsonMode {
			return printJSON(cmd, actions)
		}
		for _, act := range actions {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t-> %s\n", act.ActionID, act.ActionName, act.TargetStatus)
		}
		return nil
	}

	if id, convErr := strconv.Atoi(args[2]); convErr == nil {
		err = w.PerformActionID(ctx, id)
	} else {
		err = w.PerformAction(ctx, args[2])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", w.ID(), types.OptionID(w.Status))
	return nil
}
