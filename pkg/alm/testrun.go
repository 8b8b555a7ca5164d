package alm

import (
	"context"
	"fmt"
	"time"

	"github.com/mesh-intelligence/almsync/internal/session"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// TestRunData holds the fields of a test run record.
type TestRunData struct {
	Title        string            `json:"title"`
	Type         *types.EnumOption `json:"type"`
	Status       *types.EnumOption `json:"status"`
	FinishedOn   *time.Time        `json:"finishedOn"`
	IsTemplate   bool              `json:"isTemplate"`
	CustomFields []types.Custom    `json:"customFields"`

	Author      string             `json:"author"`
	Created     *time.Time         `json:"created"`
	Updated     *time.Time         `json:"updated"`
	Template    string             `json:"template"`
	Attachments []types.Attachment `json:"attachments"`
	Comments    []types.Comment    `json:"comments"`
}

var testRunDiffable = []string{"title", "type", "status", "finishedOn", "isTemplate", "customFields"}

// TestRun is a change-tracked test run. Its records are bound with it and
// rebound in place whenever it reloads.
type TestRun struct {
	TestRunData
	entity
	comments
	customFields

	records []*TestRecord
}

func newTestRun(c *Client, p *Project) *TestRun {
	t := &TestRun{}
	t.entity = entity{client: c, name: "test run", project: p, data: &t.TestRunData, diffable: testRunDiffable}
	t.addressable(session.ServiceTestManagement, "getTestRunByUri", "updateTestRun")
	t.extract = t.bindRecords
	t.comments = comments{e: &t.entity, list: func() []types.Comment { return t.Comments }}
	t.customFields = customFields{e: &t.entity, fields: &t.CustomFields}
	return t
}

// TestRun fetches the test run an identifier names.
func (c *Client) TestRun(ctx context.Context, uri string) (*TestRun, error) {
	return c.testRunAt(ctx, nil, uri)
}

func (c *Client) testRunAt(ctx context.Context, p *Project, uri string) (*TestRun, error) {
	if err := checkTag(uri, types.TagTestRun); err != nil {
		return nil, err
	}
	t := newTestRun(c, p)
	t.uri = uri
	if err := t.open(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// bindRecords consumes the records of the run. Existing TestRecord handles
// are rebound by position so callers holding one see the reloaded state.
func (t *TestRun) bindRecords(ctx context.Context, fields types.Fields) error {
	raw, _ := fields["records"].([]any)
	delete(fields, "records")

	out := make([]*TestRecord, 0, len(raw))
	for i, r := range raw {
		values, _ := r.(map[string]any)
		var rec *TestRecord
		if i < len(t.records) {
			rec = t.records[i]
		} else {
			rec = newTestRecord(t, i)
		}
		if err := rec.bind(ctx, types.Record{"values": values}); err != nil {
			return err
		}
		out = append(out, rec)
	}
	t.records = out
	return nil
}

func (t *TestRun) manage(ctx context.Context, operation string, params ...any) error {
	if t.deleted {
		return fmt.Errorf("%s on %s: %w", operation, t.uri, types.ErrStaleEntity)
	}
	if err := t.client.call(ctx, session.ServiceTestManagement, operation, nil, params...); err != nil {
		return fmt.Errorf("%s on %s: %w", operation, t.uri, err)
	}
	return t.Reload(ctx)
}

// Records returns the test records in execution order.
func (t *TestRun) Records() []*TestRecord {
	return t.records
}

// Record returns the record at index.
func (t *TestRun) Record(index int) (*TestRecord, error) {
	if index < 0 || index >= len(t.records) {
		return nil, fmt.Errorf("%w: record %d of %s", types.ErrInvalidIndex, index, t.uri)
	}
	return t.records[index], nil
}

// AddTestCase appends an unexecuted record for the test case work item.
func (t *TestRun) AddTestCase(ctx context.Context, testCase string) error {
	return t.manage(ctx, "addTestRecord", t.uri, testCase)
}

// RecordResult appends an executed record for the test case.
func (t *TestRun) RecordResult(ctx context.Context, testCase, result, comment string) error {
	if err := checkResult(result); err != nil {
		return err
	}
	fields := map[string]any{"testCaseURI": testCase}
	if result != "" {
		fields["result"] = types.Enum(result)
	}
	if comment != "" {
		fields["comment"] = types.HTML(comment)
	}
	return t.manage(ctx, "executeTest", t.uri, fields)
}

// Attachment returns the run attachment with id.
func (t *TestRun) Attachment(id string) (types.Attachment, error) {
	return findAttachment(t.Attachments, id)
}

// AddAttachment uploads content to the run.
func (t *TestRun) AddAttachment(ctx context.Context, fileName, title string, content []byte) error {
	return t.manage(ctx, "addAttachmentToTestRun", t.uri, fileName, title, content)
}

// AddAttachmentFile uploads the file at path to the run.
func (t *TestRun) AddAttachmentFile(ctx context.Context, path, title string) error {
	name, content, err := readFile(path)
	if err != nil {
		return err
	}
	return t.AddAttachment(ctx, name, title, content)
}

// DownloadAttachment returns the content of the run attachment with id.
func (t *TestRun) DownloadAttachment(ctx context.Context, id string) ([]byte, error) {
	a, err := t.Attachment(id)
	if err != nil {
		return nil, err
	}
	return t.client.Download(ctx, a)
}

// DeleteAttachment removes the run attachment with id.
func (t *TestRun) DeleteAttachment(ctx context.Context, id string) error {
	if _, err := t.Attachment(id); err != nil {
		return err
	}
	return t.manage(ctx, "deleteTestRunAttachment", t.uri, id)
}

// Delete removes the run on the server. The run and its records can no
// longer be saved.
func (t *TestRun) Delete(ctx context.Context) error {
	if err := t.client.call(ctx, session.ServiceTestManagement, "deleteTestRuns", nil, []string{t.uri}); err != nil {
		return fmt.Errorf("delete %s: %w", t.uri, err)
	}
	t.markDeleted()
	for _, r := range t.records {
		r.markDeleted()
	}
	return nil
}
