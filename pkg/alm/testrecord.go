package alm

import (
	"context"
	"fmt"
	"time"

	"github.com/mesh-intelligence/almsync/internal/session"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// Test results. An unset result means not tested.
const (
	ResultPassed  = "passed"
	ResultFailed  = "failed"
	ResultBlocked = "blocked"
)

func checkResult(result string) error {
	switch result {
	case "", ResultPassed, ResultFailed, ResultBlocked:
		return nil
	}
	return fmt.Errorf("%w: %q", types.ErrInvalidResult, result)
}

// TestRecordData holds the fields of one test record.
type TestRecordData struct {
	TestCaseURI     string                 `json:"testCaseURI"`
	Result          *types.EnumOption      `json:"result"`
	Comment         *types.Text            `json:"comment"`
	Executed        *time.Time             `json:"executed"`
	ExecutedByURI   string                 `json:"executedByURI"`
	Duration        float64                `json:"duration"`
	TestStepResults []types.TestStepResult `json:"testStepResults"`

	Attachments []types.Attachment `json:"attachments"`
}

var testRecordDiffable = []string{"result", "comment", "executed", "executedByURI", "duration", "testStepResults"}

// TestRecord is one execution of a test case inside a test run. It has no
// identifier of its own: it is addressed by its position in the run. Saving
// it updates that position and rebinds the record from a fresh copy of the
// run; the run's own fields and its other records keep their pending edits.
type TestRecord struct {
	TestRecordData
	entity

	run   *TestRun
	index int
}

func newTestRecord(run *TestRun, index int) *TestRecord {
	r := &TestRecord{run: run, index: index}
	r.entity = entity{
		client:   run.client,
		name:     "test record",
		id:       fmt.Sprintf("%s[%d]", run.id, index),
		project:  run.project,
		data:     &r.TestRecordData,
		diffable: testRecordDiffable,
	}
	r.push = func(ctx context.Context, delta types.Fields) error {
		if run.deleted {
			return types.ErrStaleEntity
		}
		return run.client.call(ctx, session.ServiceTestManagement, "updateTestRecordAtIndex", nil,
			run.uri, index, map[string]any(delta))
	}
	r.refresh = r.reloadFromRun
	return r
}

// reloadFromRun refetches the run and rebinds this record only.
func (r *TestRecord) reloadFromRun(ctx context.Context) error {
	raw, err := r.run.fetch(ctx)
	if err != nil {
		return fmt.Errorf("reload %s %s: %w", r.name, r.ident(), err)
	}
	fields, err := types.Flatten(raw)
	if err != nil {
		return fmt.Errorf("reload %s %s: %w", r.name, r.ident(), err)
	}
	records, _ := fields["records"].([]any)
	if r.index >= len(records) {
		return fmt.Errorf("reload %s %s: %w", r.name, r.ident(), types.ErrInvalidIndex)
	}
	values, _ := records[r.index].(map[string]any)
	if err := r.bind(ctx, types.Record{"values": values}); err != nil {
		return fmt.Errorf("reload %s %s: %w", r.name, r.ident(), err)
	}
	return nil
}

// Run returns the test run holding the record.
func (r *TestRecord) Run() *TestRun { return r.run }

// Index returns the position of the record in its run.
func (r *TestRecord) Index() int { return r.index }

// Project returns the project of the run.
func (r *TestRecord) Project(ctx context.Context) (*Project, error) {
	return r.run.Project(ctx)
}

// TestCase fetches the test case work item.
func (r *TestRecord) TestCase(ctx context.Context) (*WorkItem, error) {
	return r.client.workItemAt(ctx, r.run.project, r.TestCaseURI)
}

// ExecutedBy fetches the user who executed the test, or returns nil when it
// has not been executed.
func (r *TestRecord) ExecutedBy(ctx context.Context) (*User, error) {
	if r.ExecutedByURI == "" {
		return nil, nil
	}
	return r.client.UserByURI(ctx, r.ExecutedByURI)
}

// SetResult sets the result, one of the Result constants or "" for not
// tested. It is sent by the next Save.
func (r *TestRecord) SetResult(result string) error {
	if err := checkResult(result); err != nil {
		return err
	}
	if result == "" {
		r.Result = nil
		return nil
	}
	r.Result = types.Enum(result)
	return nil
}

// SetComment replaces the comment with html content.
func (r *TestRecord) SetComment(html string) {
	r.Comment = types.HTML(html)
}

// SetStepResult records the outcome of step, growing the step results as
// needed.
func (r *TestRecord) SetStepResult(step int, result, comment string) error {
	if step < 0 {
		return fmt.Errorf("%w: step %d", types.ErrInvalidIndex, step)
	}
	if err := checkResult(result); err != nil {
		return err
	}
	for len(r.TestStepResults) <= step {
		r.TestStepResults = append(r.TestStepResults, types.TestStepResult{})
	}
	sr := &r.TestStepResults[step]
	sr.Result = nil
	if result != "" {
		sr.Result = types.Enum(result)
	}
	sr.Comment = nil
	if comment != "" {
		sr.Comment = types.HTML(comment)
	}
	return nil
}

func (r *TestRecord) manage(ctx context.Context, operation string, params ...any) error {
	if r.run.deleted {
		return fmt.Errorf("%s on %s: %w", operation, r.id, types.ErrStaleEntity)
	}
	if err := r.client.call(ctx, session.ServiceTestManagement, operation, nil, params...); err != nil {
		return fmt.Errorf("%s on %s: %w", operation, r.id, err)
	}
	return r.run.Reload(ctx)
}

// Attachment returns the record attachment with id.
func (r *TestRecord) Attachment(id string) (types.Attachment, error) {
	return findAttachment(r.Attachments, id)
}

// AddAttachment uploads content to the record.
func (r *TestRecord) AddAttachment(ctx context.Context, fileName, title string, content []byte) error {
	return r.manage(ctx, "addAttachmentToTestRecord", r.run.uri, r.index, fileName, title, content)
}

// DeleteAttachment removes the record attachment with id.
func (r *TestRecord) DeleteAttachment(ctx context.Context, id string) error {
	if _, err := r.Attachment(id); err != nil {
		return err
	}
	return r.manage(ctx, "deleteTestRecordAttachment", r.run.uri, r.index, id)
}

// DownloadAttachment returns the content of the record attachment with id.
func (r *TestRecord) DownloadAttachment(ctx context.Context, id string) ([]byte, error) {
	a, err := r.Attachment(id)
	if err != nil {
		return nil, err
	}
	return r.client.Download(ctx, a)
}

// StepAttachment returns attachment id of step.
func (r *TestRecord) StepAttachment(step int, id string) (types.Attachment, error) {
	if step < 0 || step >= len(r.TestStepResults) {
		return types.Attachment{}, fmt.Errorf("%w: step %d", types.ErrInvalidIndex, step)
	}
	return findAttachment(r.TestStepResults[step].Attachments, id)
}

// AddStepAttachment uploads content to the result of step. The step result
// must have been saved.
func (r *TestRecord) AddStepAttachment(ctx context.Context, step int, fileName, title string, content []byte) error {
	return r.manage(ctx, "addAttachmentToTestStep", r.run.uri, r.index, step, fileName, title, content)
}

// DeleteStepAttachment removes attachment id from the result of step.
func (r *TestRecord) DeleteStepAttachment(ctx context.Context, step int, id string) error {
	if _, err := r.StepAttachment(step, id); err != nil {
		return err
	}
	return r.manage(ctx, "deleteTestStepAttachment", r.run.uri, r.index, step, id)
}

// DownloadStepAttachment returns the content of attachment id of step.
func (r *TestRecord) DownloadStepAttachment(ctx context.Context, step int, id string) ([]byte, error) {
	a, err := r.StepAttachment(step, id)
	if err != nil {
		return nil, err
	}
	return r.client.Download(ctx, a)
}
