// This file implements the TestManagement service: test runs, their
// records, test step tables and attachments at run, record and step level.
package sqlite

import (
	"fmt"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

// testRunWritable lists the test run fields updateTestRun accepts.
var testRunWritable = set("title", "type", "status", "finishedOn", "isTemplate", "customFields")

// recordWritable lists the test record fields executeTest and
// updateTestRecordAtIndex accept.
var recordWritable = set("testCaseURI", "result", "comment", "executed", "executedByURI", "duration", "testStepResults")

// Test run defaults.
const (
	defaultRunStatus = "open"
	testStepsField   = "testSteps"
	testStepsKey     = "_testSteps"
)

func (b *Backend) getTestRunByID(c *call) (any, error) {
	var project, id string
	if err := c.bind(&project, &id); err != nil {
		return nil, err
	}
	return b.getRecordByID(kindTestRun, project, id)
}

func (b *Backend) getTestRunByURI(c *call) (any, error) {
	var uri string
	if err := c.bind(&uri); err != nil {
		return nil, err
	}
	return b.getRecord(kindTestRun, uri)
}

// testRunDerived adds comments and attachments, and the attachments of each
// record and step result. Step attachments are inline.
func (b *Backend) testRunDerived(o *object, values map[string]any) error {
	comments, err := b.commentValues(o.URI)
	if err != nil {
		return err
	}
	values["comments"] = comments

	attachments, err := b.attachmentDescriptors(o.URI, "", false)
	if err != nil {
		return err
	}
	values["attachments"] = attachments

	records := make([]any, 0, len(list(o.Data, "records")))
	for i, r := range list(o.Data, "records") {
		stored, ok := r.(map[string]any)
		if !ok {
			continue
		}
		rec := cloneData(stored)
		if rec["attachments"], err = b.attachmentDescriptors(o.URI, recordScope(i), false); err != nil {
			return err
		}
		steps := list(rec, "testStepResults")
		for j, s := range steps {
			sm, _ := s.(map[string]any)
			if sm == nil {
				continue
			}
			if sm["attachments"], err = b.attachmentDescriptors(o.URI, stepScope(i, j), true); err != nil {
				return err
			}
		}
		records = append(records, rec)
	}
	values["records"] = records
	return nil
}

func recordScope(index int) string {
	return fmt.Sprintf("record:%d", index)
}

func stepScope(index, step int) string {
	return fmt.Sprintf("step:%d:%d", index, step)
}

func (b *Backend) createTestRunWithTitle(c *call) (any, error) {
	var project, id, title, template string
	if err := c.bind(&project, &id, &title, &template); err != nil {
		return nil, err
	}
	if _, err := b.mustProject(project); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, invalid("test run needs an id")
	}

	now := timestamp(b.now())
	o := &object{
		Kind:    kindTestRun,
		Project: project,
		ID:      id,
		Data: map[string]any{
			"title":      title,
			"status":     enumValue(defaultRunStatus),
			"isTemplate": false,
			"records":    []any{},
			"author":     UserURI(c.user),
			"created":    now,
			"updated":    now,
		},
	}
	if template != "" {
		tpl, err := b.findObjectByID(kindTestRun, project, template)
		if err != nil {
			return nil, err
		}
		if tpl == nil || tpl.Data["isTemplate"] != true {
			return nil, notFound("test run template", template)
		}
		o.Data["template"] = tpl.URI
		if t, ok := tpl.Data["type"]; ok {
			o.Data["type"] = t
		}
	}
	if err := b.insertObject(o); err != nil {
		return nil, err
	}
	return o.URI, nil
}

func (b *Backend) updateTestRun(c *call) (any, error) {
	var delta map[string]any
	if err := c.bind(&delta); err != nil {
		return nil, err
	}
	uri, err := deltaURI(delta)
	if err != nil {
		return nil, err
	}
	o, err := b.mustObject(kindTestRun, uri)
	if err != nil {
		return nil, err
	}
	if err := applyDelta(o, delta, testRunWritable); err != nil {
		return nil, err
	}
	if err := b.validateCustomFields(o, enumID(o.Data, "type")); err != nil {
		return nil, err
	}
	return nil, b.touch(o)
}

// touch bumps the updated timestamp and stores o.
func (b *Backend) touch(o *object) error {
	o.Data["updated"] = timestamp(b.now())
	return b.saveObject(o)
}

func (b *Backend) deleteTestRuns(c *call) (any, error) {
	var uris []string
	if err := c.bind(&uris); err != nil {
		return nil, err
	}
	for _, uri := range uris {
		if _, err := b.mustObject(kindTestRun, uri); err != nil {
			return nil, err
		}
		if err := b.deleteObject(uri); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (b *Backend) searchTestRunsLimited(c *call) (any, error) {
	var (
		q, sort string
		limit   int
	)
	if err := c.bind(&q, &sort, &limit); err != nil {
		return nil, err
	}
	hits, err := b.search(kindTestRun, q, sort, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		out = append(out, wrapRecord(h.values))
	}
	return out, nil
}

// mergeRecord applies fields to a stored test record and validates the
// result. Step result attachments are server state and are dropped.
func (b *Backend) mergeRecord(run *object, rec, fields map[string]any) error {
	for k, v := range fields {
		if !recordWritable[k] {
			return invalid("test record field %q is read-only", k)
		}
		if v == nil {
			delete(rec, k)
			continue
		}
		rec[k] = v
	}
	for _, s := range list(rec, "testStepResults") {
		if sm, ok := s.(map[string]any); ok {
			delete(sm, "attachments")
		}
	}

	caseURI := str(rec, "testCaseURI")
	if caseURI == "" {
		return invalid("test record needs a test case")
	}
	if _, err := b.mustObject(kindWorkItem, caseURI); err != nil {
		return err
	}
	if result := enumID(rec, "result"); result != "" {
		ok, err := b.hasOption(run.Project, enumTestResult, "", result)
		if err != nil {
			return err
		}
		if !ok {
			return invalid("unknown test result %q", result)
		}
	}
	return nil
}

// appendRecord adds a record to a run.
func (b *Backend) appendRecord(user string, run *object, fields map[string]any) error {
	rec := make(map[string]any)
	if err := b.mergeRecord(run, rec, fields); err != nil {
		return err
	}
	if enumID(rec, "result") != "" {
		if _, ok := rec["executed"]; !ok {
			rec["executed"] = timestamp(b.now())
		}
		if _, ok := rec["executedByURI"]; !ok {
			rec["executedByURI"] = UserURI(user)
		}
	}
	run.Data["records"] = append(list(run.Data, "records"), rec)
	return b.touch(run)
}

func (b *Backend) executeTest(c *call) (any, error) {
	var (
		uri    string
		fields map[string]any
	)
	if err := c.bind(&uri, &fields); err != nil {
		return nil, err
	}
	run, err := b.mustObject(kindTestRun, uri)
	if err != nil {
		return nil, err
	}
	return nil, b.appendRecord(c.user, run, fields)
}

func (b *Backend) addTestRecord(c *call) (any, error) {
	var uri, testCase string
	if err := c.bind(&uri, &testCase); err != nil {
		return nil, err
	}
	run, err := b.mustObject(kindTestRun, uri)
	if err != nil {
		return nil, err
	}
	return nil, b.appendRecord(c.user, run, map[string]any{"testCaseURI": testCase})
}

// recordAt returns the record at index of run.
func recordAt(run *object, index int) (map[string]any, error) {
	records := list(run.Data, "records")
	if index < 0 || index >= len(records) {
		return nil, invalid("test run %s has no record %d", run.ID, index)
	}
	rec, _ := records[index].(map[string]any)
	return rec, nil
}

// updateTestRecordAtIndex merges a partial record into the record at index.
func (b *Backend) updateTestRecordAtIndex(c *call) (any, error) {
	var (
		uri   string
		index int
		delta map[string]any
	)
	if err := c.bind(&uri, &index, &delta); err != nil {
		return nil, err
	}
	run, err := b.mustObject(kindTestRun, uri)
	if err != nil {
		return nil, err
	}
	rec, err := recordAt(run, index)
	if err != nil {
		return nil, err
	}
	delete(delta, "uri")
	if err := b.mergeRecord(run, rec, delta); err != nil {
		return nil, err
	}
	return nil, b.touch(run)
}

// stepsWorkItem loads a work item whose type carries a test step table.
func (b *Backend) stepsWorkItem(uri string) (*object, error) {
	o, err := b.mustObject(kindWorkItem, uri)
	if err != nil {
		return nil, err
	}
	keys, err := b.customFieldKeys(o.Project, o.Kind, enumID(o.Data, "type"))
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k == testStepsField {
			return o, nil
		}
	}
	return nil, rejected("work items of type %q have no test steps", enumID(o.Data, "type"))
}

func (b *Backend) getTestSteps(c *call) (any, error) {
	var uri string
	if err := c.bind(&uri); err != nil {
		return nil, err
	}
	o, err := b.stepsWorkItem(uri)
	if err != nil {
		return nil, err
	}
	keys, err := b.testStepKeys(o.Project)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"keys": keyOptions(keys), "steps": []any{}}
	if steps, ok := o.Data[testStepsKey]; ok {
		out["steps"] = steps
	}
	return out, nil
}

func keyOptions(keys []string) []types.EnumOption {
	out := make([]types.EnumOption, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.EnumOption{ID: k})
	}
	return out
}

// setTestSteps replaces the step table. Every step must have one value per
// configured column.
func (b *Backend) setTestSteps(c *call) (any, error) {
	var (
		uri   string
		steps types.TestSteps
	)
	if err := c.bind(&uri, &steps); err != nil {
		return nil, err
	}
	o, err := b.stepsWorkItem(uri)
	if err != nil {
		return nil, err
	}
	keys, err := b.testStepKeys(o.Project)
	if err != nil {
		return nil, err
	}
	for i, s := range steps.Steps {
		if len(s.Values) != len(keys) {
			return nil, invalid("step %d has %d values, want %d", i, len(s.Values), len(keys))
		}
	}
	stored, err := toJSONValue(steps.Steps)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		stored = []any{}
	}
	o.Data[testStepsKey] = stored
	return nil, b.touchWorkItem(o)
}

func (b *Backend) addAttachmentToTestRun(c *call) (any, error) {
	var (
		uri, fileName, title string
		content              []byte
	)
	if err := c.bind(&uri, &fileName, &title, &content); err != nil {
		return nil, err
	}
	if _, err := b.mustObject(kindTestRun, uri); err != nil {
		return nil, err
	}
	return b.insertAttachment(uri, "", fileName, title, content)
}

func (b *Backend) getTestRunAttachment(c *call) (any, error) {
	var uri, id string
	if err := c.bind(&uri, &id); err != nil {
		return nil, err
	}
	return b.attachmentDescriptor(uri, "", id, false)
}

func (b *Backend) deleteTestRunAttachment(c *call) (any, error) {
	var uri, id string
	if err := c.bind(&uri, &id); err != nil {
		return nil, err
	}
	return nil, b.removeAttachment(uri, "", id)
}

func (b *Backend) addAttachmentToTestRecord(c *call) (any, error) {
	var (
		uri, fileName, title string
		index                int
		content              []byte
	)
	if err := c.bind(&uri, &index, &fileName, &title, &content); err != nil {
		return nil, err
	}
	run, err := b.mustObject(kindTestRun, uri)
	if err != nil {
		return nil, err
	}
	if _, err := recordAt(run, index); err != nil {
		return nil, err
	}
	return b.insertAttachment(uri, recordScope(index), fileName, title, content)
}

func (b *Backend) deleteTestRecordAttachment(c *call) (any, error) {
	var (
		uri, id string
		index   int
	)
	if err := c.bind(&uri, &index, &id); err != nil {
		return nil, err
	}
	return nil, b.removeAttachment(uri, recordScope(index), id)
}

func (b *Backend) addAttachmentToTestStep(c *call) (any, error) {
	var (
		uri, fileName, title string
		index, step          int
		content              []byte
	)
	if err := c.bind(&uri, &index, &step, &fileName, &title, &content); err != nil {
		return nil, err
	}
	run, err := b.mustObject(kindTestRun, uri)
	if err != nil {
		return nil, err
	}
	rec, err := recordAt(run, index)
	if err != nil {
		return nil, err
	}
	if step < 0 || step >= len(list(rec, "testStepResults")) {
		return nil, invalid("record %d has no step result %d", index, step)
	}
	return b.insertAttachment(uri, stepScope(index, step), fileName, title, content)
}

func (b *Backend) deleteTestStepAttachment(c *call) (any, error) {
	var (
		uri, id     string
		index, step int
	)
	if err := c.bind(&uri, &index, &step, &id); err != nil {
		return nil, err
	}
	return nil, b.removeAttachment(uri, stepScope(index, step), id)
}
