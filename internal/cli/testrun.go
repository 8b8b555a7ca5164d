package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/almsync/pkg/alm"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// testRecordView is the JSON rendering of a test record.
type testRecordView struct {
	Index int `json:"index"`
	alm.TestRecordData
}

// testRunView is the JSON rendering of a test run.
type testRunView struct {
	URI string `json:"uri"`
	ID  string `json:"id"`
	alm.TestRunData
	Records []testRecordView `json:"records"`
}

func (a *app) testRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "testrun",
		Aliases: []string{"tr"},
		Short:   "Read test runs and record results",
	}

	var comment string
	result := &cobra.Command{
		Use:   "result <project> <run> <testcase> <passed|failed|blocked>",
		Short: "Record the result of executing a test case",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			run, err := a.testRun(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			testCase := objectURI(args[0], "WorkItem", args[2])
			if err := run.RecordResult(ctx, testCase, args[3], comment); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for %s in %s\n", args[3], types.LocalID(testCase), run.ID())
			return nil
		},
	}
	result.Flags().StringVar(&comment, "comment", "", "result comment (HTML)")

	var template string
	create := &cobra.Command{
		Use:   "create <project> <id> <title>",
		Short: "Create a test run, optionally from a template",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.project(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			run, err := p.CreateTestRun(cmd.Context(), args[1], args[2], template)
			if err != nil {
				return err
			}
			return a.printTestRun(cmd, run)
		},
	}
	create.Flags().StringVar(&template, "template", "", "template test run id")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <project> <id>",
			Short: "Show a test run and its records",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				run, err := a.testRun(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return a.printTestRun(cmd, run)
			},
		},
		create,
		result,
	)
	return cmd
}

// testRun opens test run id of project.
func (a *app) testRun(ctx context.Context, project, id string) (*alm.TestRun, error) {
	p, err := a.project(ctx, project)
	if err != nil {
		return nil, err
	}
	return p.TestRun(ctx, id)
}

func (a *app) printTestRun(cmd *cobra.Command, run *alm.TestRun) error {
	records := run.Records()
	if a.flags.jsonMode {
		view := testRunView{URI: run.URI(), ID: run.ID(), TestRunData: run.TestRunData}
		view.Records = make([]testRecordView, len(records))
		for i, r := range records {
			view.Records[i] = testRecordView{Index: r.Index(), TestRecordData: r.TestRecordData}
		}
		return printJSON(cmd, view)
	}

	if err := printFields(cmd,
		"id", run.ID(),
		"title", run.Title,
		"status", types.OptionID(run.Status),
		"template", fmt.Sprint(run.IsTemplate),
	); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, r := range records {
		result := types.OptionID(r.Result)
		if result == "" {
			result = "-"
		}
		fmt.Fprintf(out, "  [%d] %s %s\n", r.Index(), types.LocalID(r.TestCaseURI), result)
	}
	return nil
}
