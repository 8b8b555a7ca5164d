package sqlite

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/almsync/internal/rpc"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

func option(id string) map[string]any {
	return map[string]any{"id": id}
}

func optionID(v any) string {
	m, _ := v.(map[string]any)
	s, _ := m["id"].(string)
	return s
}

func newTask(t *testing.T, b *Backend, session, title string) string {
	t.Helper()
	return mustInvoke(t, b, session, "Tracker", "createWorkItem", DemoProject, map[string]any{
		"type":  option("task"),
		"title": title,
	}).(string)
}

func TestSeededWorkItem(t *testing.T) {
	b, session := newTestBackend(t)

	values := valuesOf(t, mustInvoke(t, b, session, "Tracker", "getWorkItemById", DemoProject, "PROJ-1"))
	assert.Equal(t, workItemURI("PROJ-1"), values["uri"])
	assert.Equal(t, "requirement", optionID(values["type"]))
	assert.Equal(t, "open", optionID(values["status"]))
	assert.Len(t, values["comments"], 1)
	assert.Equal(t, []any{types.ObjectURI(DemoProject, "Plan", demoReleaseID)}, values["plannedIn"])
	assert.Equal(t, types.ObjectURI(DemoProject, "Module", demoDocSpace+"/"+demoDocName), values["moduleURI"])

	backlinks, _ := values["linkedWorkItemsDerived"].([]any)
	require.Len(t, backlinks, 1)
	link := backlinks[0].(map[string]any)
	assert.Equal(t, workItemURI("PROJ-2"), link["workItemURI"])
	assert.Equal(t, "verifies", optionID(link["role"]))

	tc := valuesOf(t, mustInvoke(t, b, session, "Tracker", "getWorkItemById", DemoProject, "PROJ-2"))
	assert.NotContains(t, tc, testStepsKey, "server-private keys are not emitted")

	assert.True(t, isUnresolvable(mustInvoke(t, b, session, "Tracker", "getWorkItemById", DemoProject, "PROJ-999")))
	assert.True(t, isUnresolvable(mustInvoke(t, b, session, "Tracker", "getWorkItemByUri",
		types.ObjectURI(DemoProject, "Plan", demoReleaseID))), "a plan uri is not a work item")
}

func TestWorkItemUpdate(t *testing.T) {
	b, session := newTestBackend(t)
	uri := newTask(t, b, session, "Draft")

	created := valuesOf(t, mustInvoke(t, b, session, "Tracker", "getWorkItemByUri", uri))
	assert.Equal(t, "PROJ-4", created["id"])
	assert.Equal(t, "open", optionID(created["status"]), "status defaults to the first option")
	assert.Equal(t, UserURI(DemoUser), created["author"])

	tests := []struct {
		name     string
		delta    map[string]any
		wantCode string
		check    func(t *testing.T, v map[string]any)
	}{
		{
			name:  "title",
			delta: map[string]any{"title": "Final"},
			check: func(t *testing.T, v map[string]any) {
				assert.Equal(t, "Final", v["title"])
			},
		},
		{
			name:  "status change applies the resolution default",
			delta: map[string]any{"status": option("done")},
			check: func(t *testing.T, v map[string]any) {
				assert.Equal(t, "done", optionID(v["resolution"]))
			},
		},
		{
			name:  "explicit resolution wins",
			delta: map[string]any{"status": option("open"), "resolution": option("duplicate")},
			check: func(t *testing.T, v map[string]any) {
				assert.Equal(t, "duplicate", optionID(v["resolution"]))
			},
		},
		{
			name:  "null removes a field",
			delta: map[string]any{"resolution": nil},
			check: func(t *testing.T, v map[string]any) {
				assert.NotContains(t, v, "resolution")
			},
		},
		{
			name:  "allowed custom field",
			delta: map[string]any{"customFields": []any{map[string]any{"key": "notes", "value": "n"}}},
			check: func(t *testing.T, v map[string]any) {
				assert.Len(t, v["customFields"], 1)
			},
		},
		{
			name:     "custom field not defined for the type",
			delta:    map[string]any{"customFields": []any{map[string]any{"key": "risk", "value": "high"}}},
			wantCode: rpc.FaultRejected,
		},
		{
			name:     "read-only field",
			delta:    map[string]any{"created": "2020-01-01T00:00:00Z"},
			wantCode: rpc.FaultInvalidArguments,
		},
		{
			name:     "unknown status",
			delta:    map[string]any{"status": option("limbo")},
			wantCode: rpc.FaultInvalidArguments,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta := map[string]any{"uri": uri}
			for k, v := range tt.delta {
				delta[k] = v
			}
			_, err := invoke(b, session, "Tracker", "updateWorkItem", delta)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, faultCode(err))
				return
			}
			require.NoError(t, err)
			tt.check(t, valuesOf(t, mustInvoke(t, b, session, "Tracker", "getWorkItemByUri", uri)))
		})
	}

	_, err := invoke(b, session, "Tracker", "updateWorkItem", map[string]any{"title": "x"})
	assert.Equal(t, rpc.FaultInvalidArguments, faultCode(err), "update without uri")
}

func TestDeleteWorkItems(t *testing.T) {
	b, session := newTestBackend(t)
	uri := newTask(t, b, session, "Short lived")
	mustInvoke(t, b, session, "Tracker", "addComment", uri, nil, types.Plain("bye"))

	mustInvoke(t, b, session, "Tracker", "deleteWorkItems", []string{uri})
	assert.True(t, isUnresolvable(mustInvoke(t, b, session, "Tracker", "getWorkItemByUri", uri)))

	_, err := invoke(b, session, "Tracker", "deleteWorkItems", []string{uri})
	assert.Equal(t, rpc.FaultNotFound, faultCode(err))
}

func TestWorkflowActions(t *testing.T) {
	b, session := newTestBackend(t)
	uri := newTask(t, b, session, "Flow")

	actionIDs := func() []float64 {
		var ids []float64
		for _, a := range mustInvoke(t, b, session, "Tracker", "getAvailableActions", uri).([]any) {
			ids = append(ids, a.(map[string]any)["actionId"].(float64))
		}
		return ids
	}
	assert.Equal(t, []float64{1, 3}, actionIDs())

	statuses := mustInvoke(t, b, session, "Tracker", "getAvailableEnumOptionIdsForId", uri, "status").([]any)
	assert.Equal(t, []any{option("open"), option("inprogress"), option("rejected")}, statuses)

	_, err := invoke(b, session, "Tracker", "performWorkflowAction", uri, 2)
	assert.Equal(t, rpc.FaultRejected, faultCode(err), "resolve is not available from open")

	mustInvoke(t, b, session, "Tracker", "performWorkflowAction", uri, 1)
	mustInvoke(t, b, session, "Tracker", "performWorkflowAction", uri, 2)
	values := valuesOf(t, mustInvoke(t, b, session, "Tracker", "getWorkItemByUri", uri))
	assert.Equal(t, "done", optionID(values["status"]))
	assert.Equal(t, "done", optionID(values["resolution"]))

	mustInvoke(t, b, session, "Tracker", "updateWorkItem", map[string]any{"uri": uri, "resolution": nil})
	_, err = invoke(b, session, "Tracker", "performWorkflowAction", uri, 4)
	assert.Equal(t, rpc.FaultRejected, faultCode(err), "close requires a resolution")
}

func TestEnumerationsAndCustomFieldKeys(t *testing.T) {
	b, session := newTestBackend(t)

	results := mustInvoke(t, b, session, "Tracker", "getAllEnumOptionsForKey", DemoProject, enumTestResult).([]any)
	require.Len(t, results, 3)
	assert.Equal(t, "passed", optionID(results[0]))

	keys := mustInvoke(t, b, session, "Tracker", "getCustomFieldKeys", workItemURI("PROJ-2")).([]any)
	assert.Equal(t, []any{"automated", "notes", testStepsField}, keys)

	_, err := invoke(b, session, "Tracker", "getCustomFieldKeys", workItemURI("PROJ-999"))
	assert.Equal(t, rpc.FaultNotFound, faultCode(err))
}

func TestPeopleAndLinks(t *testing.T) {
	b, session := newTestBackend(t)
	uri := newTask(t, b, session, "People")
	bob := UserURI("bob")

	assert.Equal(t, true, mustInvoke(t, b, session, "Tracker", "addAssignee", uri, "bob"))
	assert.Equal(t, false, mustInvoke(t, b, session, "Tracker", "addAssignee", uri, "bob"), "already assigned")
	mustInvoke(t, b, session, "Tracker", "addApprovee", uri, "bob")
	mustInvoke(t, b, session, "Tracker", "editApproval", uri, "bob", "approved")
	mustInvoke(t, b, session, "Tracker", "addLinkedItem", uri, workItemURI("PROJ-1"), "relates_to")
	mustInvoke(t, b, session, "Tracker", "addHyperlink", uri, "https://example.com", types.HyperlinkExternal)

	values := valuesOf(t, mustInvoke(t, b, session, "Tracker", "getWorkItemByUri", uri))
	assert.Equal(t, []any{bob}, values["assignee"])
	approvals := values["approvals"].([]any)
	require.Len(t, approvals, 1)
	assert.Equal(t, "approved", optionID(approvals[0].(map[string]any)["status"]))
	assert.Len(t, values["linkedWorkItems"], 1)
	assert.Len(t, values["hyperlinks"], 1)

	_, err := invoke(b, session, "Tracker", "addLinkedItem", uri, workItemURI("PROJ-1"), "owns")
	assert.Equal(t, rpc.FaultInvalidArguments, faultCode(err), "unknown link role")

	_, err = invoke(b, session, "Tracker", "addAssignee", uri, "mallory")
	assert.Equal(t, rpc.FaultNotFound, faultCode(err))
}

func TestComments(t *testing.T) {
	b, session := newTestBackend(t)
	owner := workItemURI("PROJ-3")

	top := mustInvoke(t, b, session, "Tracker", "addComment", owner, "Question", types.Plain("Why?")).(string)
	reply := mustInvoke(t, b, session, "Tracker", "addComment", top, nil, types.Plain("Because.")).(string)

	_, err := invoke(b, session, "Tracker", "addComment", top, "Title", types.Plain("no"))
	assert.Equal(t, rpc.FaultInvalidArguments, faultCode(err), "replies carry no title")

	_, err = invoke(b, session, "Tracker", "addComment", owner, nil, types.Text{Type: "text/markdown", Content: "x"})
	assert.Equal(t, rpc.FaultInvalidArguments, faultCode(err))

	mustInvoke(t, b, session, "Tracker", "setResolvedComment", top, true)
	mustInvoke(t, b, session, "Tracker", "setCommentTags", top, []string{"review"})

	values := valuesOf(t, mustInvoke(t, b, session, "Tracker", "getWorkItemByUri", owner))
	comments := values["comments"].([]any)
	require.Len(t, comments, 2)
	first := comments[0].(map[string]any)
	assert.Equal(t, top, first["uri"])
	assert.Equal(t, true, first["resolved"])
	assert.Equal(t, []any{"review"}, first["tags"])
	assert.Equal(t, []any{reply}, first["childCommentURIs"])
	assert.Equal(t, top, comments[1].(map[string]any)["parentCommentURI"])
}

func TestAttachments(t *testing.T) {
	b, session := newTestBackend(t)
	owner := workItemURI("PROJ-1")

	id := mustInvoke(t, b, session, "Tracker", "createAttachment", owner, "spec.pdf", "Spec", []byte("%PDF")).(string)
	desc := mustInvoke(t, b, session, "Tracker", "getAttachment", owner, id).(map[string]any)
	assert.Equal(t, AttachmentPath+id, desc["url"])
	assert.Equal(t, float64(4), desc["length"])

	_, err := invoke(b, session, "Tracker", "createAttachment", owner, "", "", []byte("x"))
	assert.Equal(t, rpc.FaultInvalidArguments, faultCode(err))

	mustInvoke(t, b, session, "Tracker", "deleteAttachment", owner, id)
	_, err = invoke(b, session, "Tracker", "getAttachment", owner, id)
	assert.Equal(t, rpc.FaultNotFound, faultCode(err))
}

func TestQueryWorkItems(t *testing.T) {
	b, session := newTestBackend(t)

	tests := []struct {
		name    string
		query   string
		sort    string
		limit   int
		wantIDs []any
	}{
		{"by type", "type:requirement", "id", -1, []any{"PROJ-1"}},
		{"alternatives", "type:(task testcase)", "id", -1, []any{"PROJ-2", "PROJ-3"}},
		{"descending", "project:PROJ", "~id", -1, []any{"PROJ-3", "PROJ-2", "PROJ-1"}},
		{"limited", "project:PROJ", "id", 2, []any{"PROJ-1", "PROJ-2"}},
		{"prefix", "title:Verify*", "id", -1, []any{"PROJ-2"}},
		{"no match", "type:defect", "id", -1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := mustInvoke(t, b, session, "Tracker", "queryWorkItemsLimited", tt.query, tt.sort, []string{"title"}, tt.limit).([]any)
			var ids []any
			for _, h := range hits {
				v := valuesOf(t, h)
				assert.Contains(t, v, "title")
				assert.NotContains(t, v, "status", "only requested fields are returned")
				ids = append(ids, v["id"])
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestDocuments(t *testing.T) {
	b, session := newTestBackend(t)
	docURI := types.ObjectURI(DemoProject, "Module", demoDocSpace+"/"+demoDocName)

	doc := valuesOf(t, mustInvoke(t, b, session, "Tracker", "getModuleByLocation", DemoProject, demoDocSpace+"/"+demoDocName))
	assert.Equal(t, docURI, doc["uri"])
	assert.Equal(t, false, doc["stale"])

	child := mustInvoke(t, b, session, "Tracker", "createWorkItemInModule", docURI, workItemURI("PROJ-1"), map[string]any{
		"type":  option("requirement"),
		"title": "Lockout after five failures",
	}).(string)
	assert.Equal(t, []any{workItemURI("PROJ-1")}, mustInvoke(t, b, session, "Tracker", "getModuleWorkItemUris", docURI, "", false))
	assert.Equal(t, []any{workItemURI("PROJ-1"), child}, mustInvoke(t, b, session, "Tracker", "getModuleWorkItemUris", docURI, "", true))

	childValues := valuesOf(t, mustInvoke(t, b, session, "Tracker", "getWorkItemByUri", child))
	links := childValues["linkedWorkItems"].([]any)
	require.Len(t, links, 1)
	assert.Equal(t, "parent", optionID(links[0].(map[string]any)["role"]))

	_, err := invoke(b, session, "Tracker", "createWorkItemInModule", docURI, "", map[string]any{"type": option("task")})
	assert.Equal(t, rpc.FaultRejected, faultCode(err), "tasks are not allowed in the document")

	assert.Equal(t, []any{demoDocSpace}, mustInvoke(t, b, session, "Tracker", "getDocumentSpaces", DemoProject))
	assert.Equal(t, []any{docURI}, mustInvoke(t, b, session, "Tracker", "getModuleUris", DemoProject, demoDocSpace))

	commentURI := mustInvoke(t, b, session, "Tracker", "createDocumentCommentReferringWI", docURI, child, types.Plain("Check this")).(string)
	mustInvoke(t, b, session, "Tracker", "createDocumentCommentReply", commentURI, types.Plain("Done"))
	doc = valuesOf(t, mustInvoke(t, b, session, "Tracker", "getModuleByUri", docURI))
	comments := doc["comments"].([]any)
	require.Len(t, comments, 2)
	assert.Equal(t, child, comments[0].(map[string]any)["referredWorkItemURI"])
}

func TestDerivedDocumentStaleness(t *testing.T) {
	b, session := newTestBackend(t)
	source := types.ObjectURI(DemoProject, "Module", demoDocSpace+"/"+demoDocName)

	derived := mustInvoke(t, b, session, "Tracker", "reuseDocument", source, DemoLibrary, "Derived", "Login", "derived_from", []string{"title"}).(string)
	values := valuesOf(t, mustInvoke(t, b, session, "Tracker", "getModuleByUri", derived))
	assert.Equal(t, false, values["stale"])
	assert.Equal(t, source, values["derivedFromURI"])

	items := mustInvoke(t, b, session, "Tracker", "getModuleWorkItemUris", derived, "", true).([]any)
	require.Len(t, items, 1)
	copyURI := items[0].(string)
	copied := valuesOf(t, mustInvoke(t, b, session, "Tracker", "getWorkItemByUri", copyURI))
	assert.Equal(t, "Login accepts valid credentials", copied["title"])
	assert.Equal(t, "LIB-1", copied["id"])

	mustInvoke(t, b, session, "Tracker", "updateWorkItem", map[string]any{"uri": workItemURI("PROJ-1"), "title": "Login accepts valid credentials only"})
	values = valuesOf(t, mustInvoke(t, b, session, "Tracker", "getModuleByUri", derived))
	assert.Equal(t, true, values["stale"], "source changed after derivation")

	mustInvoke(t, b, session, "Tracker", "updateDerivedDocument", derived)
	values = valuesOf(t, mustInvoke(t, b, session, "Tracker", "getModuleByUri", derived))
	assert.Equal(t, false, values["stale"])
	copied = valuesOf(t, mustInvoke(t, b, session, "Tracker", "getWorkItemByUri", copyURI))
	assert.Equal(t, "Login accepts valid credentials only", copied["title"])

	mustInvoke(t, b, session, "Tracker", "deleteModule", derived)
	assert.True(t, isUnresolvable(mustInvoke(t, b, session, "Tracker", "getModuleByUri", derived)))
}

func TestTestRuns(t *testing.T) {
	b, session := newTestBackend(t)
	run := types.ObjectURI(DemoProject, "TestRun", demoRunID)
	tc := workItemURI("PROJ-2")

	values := valuesOf(t, mustInvoke(t, b, session, "TestManagement", "getTestRunById", DemoProject, demoRunID))
	records := values["records"].([]any)
	require.Len(t, records, 1)
	assert.Equal(t, tc, records[0].(map[string]any)["testCaseURI"])

	stepID := mustInvoke(t, b, session, "TestManagement", "addAttachmentToTestStep", run, 0, 1, "shot.png", "Shot", []byte("png")).(string)
	recordID := mustInvoke(t, b, session, "TestManagement", "addAttachmentToTestRecord", run, 0, "log.txt", "Log", []byte("log")).(string)
	runID := mustInvoke(t, b, session, "TestManagement", "addAttachmentToTestRun", run, "report.html", "Report", []byte("<p/>")).(string)

	values = valuesOf(t, mustInvoke(t, b, session, "TestManagement", "getTestRunByUri", run))
	rec := values["records"].([]any)[0].(map[string]any)
	steps := rec["testStepResults"].([]any)
	stepAttachments := steps[1].(map[string]any)["attachments"].([]any)
	require.Len(t, stepAttachments, 1)
	assert.Equal(t, stepID, stepAttachments[0].(map[string]any)["id"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png")), stepAttachments[0].(map[string]any)["data"])
	assert.Empty(t, steps[0].(map[string]any)["attachments"])
	recAttachments := rec["attachments"].([]any)
	require.Len(t, recAttachments, 1)
	assert.Equal(t, AttachmentPath+recordID, recAttachments[0].(map[string]any)["url"])
	assert.Len(t, values["attachments"], 1)

	_, err := invoke(b, session, "TestManagement", "addAttachmentToTestStep", run, 0, 5, "x.png", "", []byte("x"))
	assert.Equal(t, rpc.FaultInvalidArguments, faultCode(err), "no such step result")

	mustInvoke(t, b, session, "TestManagement", "deleteTestStepAttachment", run, 0, 1, stepID)
	mustInvoke(t, b, session, "TestManagement", "deleteTestRecordAttachment", run, 0, recordID)
	mustInvoke(t, b, session, "TestManagement", "deleteTestRunAttachment", run, runID)
	_, err = invoke(b, session, "TestManagement", "getTestRunAttachment", run, runID)
	assert.Equal(t, rpc.FaultNotFound, faultCode(err))
}

func TestTestRecords(t *testing.T) {
	b, session := newTestBackend(t)
	run := types.ObjectURI(DemoProject, "TestRun", demoRunID)

	mustInvoke(t, b, session, "TestManagement", "executeTest", run, map[string]any{
		"testCaseURI": workItemURI("PROJ-1"),
		"result":      option("failed"),
	})
	mustInvoke(t, b, session, "TestManagement", "addTestRecord", run, workItemURI("PROJ-3"))
	mustInvoke(t, b, session, "TestManagement", "updateTestRecordAtIndex", run, 2, map[string]any{
		"result":  option("blocked"),
		"comment": types.Plain("env down"),
	})

	values := valuesOf(t, mustInvoke(t, b, session, "TestManagement", "getTestRunByUri", run))
	records := values["records"].([]any)
	require.Len(t, records, 3)
	executed := records[1].(map[string]any)
	assert.Equal(t, "failed", optionID(executed["result"]))
	assert.Equal(t, UserURI(DemoUser), executed["executedByURI"])
	assert.NotEmpty(t, executed["executed"])
	assert.Equal(t, "blocked", optionID(records[2].(map[string]any)["result"]))

	tests := []struct {
		name     string
		op       string
		args     []any
		wantCode string
	}{
		{"unknown result", "executeTest", []any{run, map[string]any{"testCaseURI": workItemURI("PROJ-1"), "result": option("meh")}}, rpc.FaultInvalidArguments},
		{"missing test case", "executeTest", []any{run, map[string]any{"result": option("passed")}}, rpc.FaultInvalidArguments},
		{"unknown test case", "addTestRecord", []any{run, workItemURI("PROJ-999")}, rpc.FaultNotFound},
		{"index out of range", "updateTestRecordAtIndex", []any{run, 9, map[string]any{"result": option("passed")}}, rpc.FaultInvalidArguments},
		{"read-only record field", "updateTestRecordAtIndex", []any{run, 0, map[string]any{"attachments": []any{}}}, rpc.FaultInvalidArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := invoke(b, session, "TestManagement", tt.op, tt.args...)
			assert.Equal(t, tt.wantCode, faultCode(err))
		})
	}
}

func TestCreateTestRun(t *testing.T) {
	b, session := newTestBackend(t)

	uri := mustInvoke(t, b, session, "TestManagement", "createTestRunWithTitle", DemoProject, "RUN-2", "Nightly", demoTemplate).(string)
	values := valuesOf(t, mustInvoke(t, b, session, "TestManagement", "getTestRunByUri", uri))
	assert.Equal(t, "Nightly", values["title"])
	assert.Equal(t, types.ObjectURI(DemoProject, "TestRun", demoTemplate), values["template"])
	assert.Equal(t, defaultRunStatus, optionID(values["status"]))

	_, err := invoke(b, session, "TestManagement", "createTestRunWithTitle", DemoProject, "RUN-3", "x", demoRunID)
	assert.Equal(t, rpc.FaultNotFound, faultCode(err), "a regular run is not a template")
	_, err = invoke(b, session, "TestManagement", "createTestRunWithTitle", DemoProject, "RUN-2", "again", "")
	assert.Equal(t, rpc.FaultRejected, faultCode(err), "duplicate id")

	mustInvoke(t, b, session, "TestManagement", "updateTestRun", map[string]any{"uri": uri, "status": option("finished")})
	hits := mustInvoke(t, b, session, "TestManagement", "searchTestRunsLimited", "status:finished", "id", -1).([]any)
	require.Len(t, hits, 1)
	assert.Equal(t, "RUN-2", valuesOf(t, hits[0])["id"])

	mustInvoke(t, b, session, "TestManagement", "deleteTestRuns", []string{uri})
	assert.True(t, isUnresolvable(mustInvoke(t, b, session, "TestManagement", "getTestRunByUri", uri)))
}

func TestTestSteps(t *testing.T) {
	b, session := newTestBackend(t)
	tc := workItemURI("PROJ-2")

	steps := mustInvoke(t, b, session, "TestManagement", "getTestSteps", tc).(map[string]any)
	assert.Equal(t, []any{option("step"), option("expectedResult")}, steps["keys"])
	assert.Len(t, steps["steps"], 2)

	mustInvoke(t, b, session, "TestManagement", "setTestSteps", tc, types.TestSteps{Steps: []types.TestStep{
		{Values: []types.Text{*types.Plain("Do it"), *types.Plain("It is done")}},
	}})
	steps = mustInvoke(t, b, session, "TestManagement", "getTestSteps", tc).(map[string]any)
	assert.Len(t, steps["steps"], 1)

	_, err := invoke(b, session, "TestManagement", "setTestSteps", tc, types.TestSteps{Steps: []types.TestStep{
		{Values: []types.Text{*types.Plain("only one column")}},
	}})
	assert.Equal(t, rpc.FaultInvalidArguments, faultCode(err))

	_, err = invoke(b, session, "TestManagement", "getTestSteps", workItemURI("PROJ-1"))
	assert.Equal(t, rpc.FaultRejected, faultCode(err), "requirements have no step table")
}

func TestPlans(t *testing.T) {
	b, session := newTestBackend(t)
	release := types.ObjectURI(DemoProject, "Plan", demoReleaseID)

	child := mustInvoke(t, b, session, "Planning", "createPlan", DemoProject, "Iteration 1", "ITER-1", demoReleaseID, "").(string)
	values := valuesOf(t, mustInvoke(t, b, session, "Planning", "getPlanById", DemoProject, "ITER-1"))
	assert.Equal(t, child, values["uri"])
	assert.Equal(t, release, values["parent"])

	_, err := invoke(b, session, "Planning", "createPlan", DemoProject, "Orphan", "ORPHAN", "NOPE", "")
	assert.Equal(t, rpc.FaultNotFound, faultCode(err))

	mustInvoke(t, b, session, "Planning", "addPlanAllowedType", release, "requirement")
	_, err = invoke(b, session, "Planning", "addPlanAllowedType", release, "epic")
	assert.Equal(t, rpc.FaultInvalidArguments, faultCode(err))

	task := newTask(t, b, session, "Not plannable")
	_, err = invoke(b, session, "Planning", "addPlanItems", release, []string{task})
	assert.Equal(t, rpc.FaultRejected, faultCode(err), "type not allowed by the plan")

	mustInvoke(t, b, session, "Planning", "removePlanAllowedType", release, "requirement")
	mustInvoke(t, b, session, "Planning", "addPlanItems", release, []string{task, workItemURI("PROJ-1")})
	values = valuesOf(t, mustInvoke(t, b, session, "Planning", "getPlanByUri", release))
	assert.Len(t, values["records"], 3, "existing items are not added twice")

	mustInvoke(t, b, session, "Planning", "removePlanItems", release, []string{workItemURI("PROJ-1")})
	wi := valuesOf(t, mustInvoke(t, b, session, "Tracker", "getWorkItemById", DemoProject, "PROJ-1"))
	assert.Empty(t, wi["plannedIn"])

	_, err = invoke(b, session, "Planning", "updatePlan", map[string]any{"uri": release, "parent": release})
	assert.Equal(t, rpc.FaultInvalidArguments, faultCode(err))
	mustInvoke(t, b, session, "Planning", "updatePlan", map[string]any{"uri": release, "dueDate": "2026-04-30"})

	hits := mustInvoke(t, b, session, "Planning", "searchPlans", "project:PROJ", "id", -1).([]any)
	assert.Len(t, hits, 2)

	mustInvoke(t, b, session, "Planning", "deletePlans", DemoProject, []string{"ITER-1"})
	assert.True(t, isUnresolvable(mustInvoke(t, b, session, "Planning", "getPlanByUri", child)))
}

func TestProjectsUsersAndGroups(t *testing.T) {
	b, session := newTestBackend(t)

	project := valuesOf(t, mustInvoke(t, b, session, "Project", "getProject", DemoProject))
	assert.Equal(t, "PROJ", project["trackerPrefix"])

	users := mustInvoke(t, b, session, "Project", "getProjectUsers", DemoProject).([]any)
	assert.Len(t, users, 3)

	user := valuesOf(t, mustInvoke(t, b, session, "Project", "getUserByUri", UserURI("bob")))
	assert.Equal(t, "Bob Builder", user["name"])
	assert.True(t, isUnresolvable(mustInvoke(t, b, session, "Project", "getUser", "mallory")))

	demo := valuesOf(t, mustInvoke(t, b, session, "Project", "getProjectGroupAtLocation", "Demo"))
	assert.Equal(t, GroupURI("Demo"), demo["uri"])
	contained := mustInvoke(t, b, session, "Project", "getContainedGroups", GroupURI("Demo")).([]any)
	require.Len(t, contained, 1)
	assert.Equal(t, "Shared", valuesOf(t, contained[0])["name"])

	projectIDs := func(group string) []any {
		var ids []any
		for _, rec := range mustInvoke(t, b, session, "Project", "getDeepContainedProjects", group).([]any) {
			ids = append(ids, valuesOf(t, rec)["id"])
		}
		return ids
	}
	assert.Equal(t, []any{DemoLibrary, DemoProject}, projectIDs(GroupURI("Demo")))
	assert.Equal(t, []any{DemoLibrary}, projectIDs(GroupURI("Shared")))
}
