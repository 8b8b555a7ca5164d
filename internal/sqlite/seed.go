// This file seeds the demo dataset on first attach: two projects, a group
// hierarchy, users, enumerations, a workflow and a handful of records.
package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

// Demo identities. Tests and almctl serve log in with these.
const (
	DemoProject   = "PROJ"
	DemoLibrary   = "LIB"
	DemoUser      = "alice"
	DemoPassword  = "secret"
	DemoReader    = "carol"
	DemoReaderPw  = "reader"
	demoDocSpace  = "Specifications"
	demoDocName   = "Login"
	demoRunID     = "RUN-1"
	demoTemplate  = "SMOKE-TEMPLATE"
	demoReleaseID = "RELEASE-1"
)

type seedProject struct {
	id, name, description, prefix, location string
}

var seedProjects = []seedProject{
	{DemoProject, "Demo Project", "Reference project for the demo server", "PROJ", "Demo/PROJ"},
	{DemoLibrary, "Shared Library", "", "LIB", "Demo/Shared/LIB"},
}

var seedStepKeys = []string{"step", "expectedResult"}

type seedUser struct {
	id, name, email, password string
	canDownload               bool
	projects                  []string
}

var seedUsers = []seedUser{
	{DemoUser, "Alice Admin", "alice@example.com", DemoPassword, true, []string{DemoProject, DemoLibrary}},
	{"bob", "Bob Builder", "bob@example.com", "builder", true, []string{DemoProject}},
	{DemoReader, "Carol Reader", "carol@example.com", DemoReaderPw, false, []string{DemoProject}},
}

// GroupURI returns the identifier of the project group named name.
func GroupURI(name string) string {
	return types.ObjectURI("", "ProjectGroup", name)
}

type seedGroup struct {
	name, location, parent string
}

var seedGroups = []seedGroup{
	{"Demo", "Demo", ""},
	{"Shared", "Demo/Shared", "Demo"},
}

type seedOption struct {
	enum, typeID, id, name string
}

var seedEnums = []seedOption{
	{enumType, "", "requirement", "Requirement"},
	{enumType, "", "task", "Task"},
	{enumType, "", "testcase", "Test Case"},
	{enumType, "", "defect", "Defect"},
	{enumStatus, "", "open", "Open"},
	{enumStatus, "", "inprogress", "In Progress"},
	{enumStatus, "", "done", "Done"},
	{enumStatus, "", "closed", "Closed"},
	{enumStatus, "", "rejected", "Rejected"},
	{enumResolution, "", "done", "Done"},
	{enumResolution, "", "invalid", "Invalid"},
	{enumResolution, "", "duplicate", "Duplicate"},
	{enumSeverity, "", "must_have", "Must Have"},
	{enumSeverity, "", "should_have", "Should Have"},
	{enumSeverity, "", "nice_to_have", "Nice to Have"},
	{enumLinkRole, "", "parent", "has parent"},
	{enumLinkRole, "", "relates_to", "relates to"},
	{enumLinkRole, "", "verifies", "verifies"},
	{enumLinkRole, "", "derived_from", "is derived from"},
	{enumTestResult, "", "passed", "Passed"},
	{enumTestResult, "", "failed", "Failed"},
	{enumTestResult, "", "blocked", "Blocked"},
}

type seedAction struct {
	id             int
	name, from, to string
	resolution     string
	requiredFields []string
}

var seedWorkflow = []seedAction{
	{1, "start", "open", "inprogress", "", nil},
	{2, "resolve", "inprogress", "done", "done", nil},
	{3, "reject", "open", "rejected", "invalid", nil},
	{4, "close", "done", "closed", "", []string{"resolution"}},
	{5, "reopen", "done", "open", "", nil},
	{6, "reopen", "closed", "open", "", nil},
	{7, "reopen", "rejected", "open", "", nil},
}

type seedFieldKey struct {
	kind, typeID, key string
}

var seedFieldKeys = []seedFieldKey{
	{kindWorkItem, "", "notes"},
	{kindWorkItem, "requirement", "risk"},
	{kindWorkItem, "testcase", testStepsField},
	{kindWorkItem, "testcase", "automated"},
	{kindTestRun, "", "build"},
	{kindPlan, "", "goal"},
}

// seedDemoData populates an empty database. A database holding any project
// is left alone.
func (b *Backend) seedDemoData() error {
	var n int
	if err := b.db.QueryRow("SELECT COUNT(*) FROM projects").Scan(&n); err != nil {
		return fmt.Errorf("counting projects: %w", err)
	}
	if n > 0 {
		return nil
	}
	if err := b.seedReference(); err != nil {
		return err
	}
	return b.seedRecords()
}

// seedReference inserts projects, users, groups and project configuration.
func (b *Backend) seedReference() error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	stepKeys, err := json.Marshal(seedStepKeys)
	if err != nil {
		return err
	}
	exec := func(query string, args ...any) {
		if err == nil {
			_, err = tx.Exec(query, args...)
		}
	}

	for _, p := range seedProjects {
		exec("INSERT INTO projects (project_id, name, description, tracker_prefix, location, test_step_keys) VALUES (?, ?, ?, ?, ?, ?)",
			p.id, p.name, p.description, p.prefix, p.location, string(stepKeys))
		for i, o := range seedEnums {
			exec("INSERT INTO enums (project_id, enum_id, type_id, option_id, name, ordinal) VALUES (?, ?, ?, ?, ?, ?)",
				p.id, o.enum, o.typeID, o.id, o.name, i)
		}
		for _, a := range seedWorkflow {
			var required any
			if a.requiredFields != nil {
				raw, _ := json.Marshal(a.requiredFields)
				required = string(raw)
			}
			exec("INSERT INTO workflow (project_id, type_id, action_id, action_name, from_status, to_status, resolution, required_fields) VALUES (?, '', ?, ?, ?, ?, ?, ?)",
				p.id, a.id, a.name, a.from, a.to, a.resolution, required)
		}
		for _, k := range seedFieldKeys {
			exec("INSERT INTO custom_field_keys (project_id, kind, type_id, field_key) VALUES (?, ?, ?, ?)",
				p.id, k.kind, k.typeID, k.key)
		}
	}
	for _, u := range seedUsers {
		exec("INSERT INTO users (user_id, name, email, password, can_download) VALUES (?, ?, ?, ?, ?)",
			u.id, u.name, u.email, u.password, u.canDownload)
		for _, p := range u.projects {
			exec("INSERT INTO project_users (project_id, user_id) VALUES (?, ?)", p, u.id)
		}
	}
	for _, g := range seedGroups {
		var parent any
		if g.parent != "" {
			parent = GroupURI(g.parent)
		}
		exec("INSERT INTO project_groups (group_uri, name, location, parent_uri) VALUES (?, ?, ?, ?)",
			GroupURI(g.name), g.name, g.location, parent)
	}
	if err != nil {
		return fmt.Errorf("seeding reference data: %w", err)
	}
	return tx.Commit()
}

// seedRecords creates the demo work items, document, test runs and plans
// through the same paths the operations use.
func (b *Backend) seedRecords() error {
	req, err := b.newWorkItem(DemoUser, DemoProject, map[string]any{
		"title":       "Login accepts valid credentials",
		"type":        enumValue("requirement"),
		"severity":    enumValue("must_have"),
		"description": map[string]any{"type": types.TextHTML, "content": "<p>A user with valid credentials is signed in.</p>"},
	})
	if err != nil {
		return err
	}
	tc, err := b.newWorkItem(DemoUser, DemoProject, map[string]any{
		"title": "Verify login",
		"type":  enumValue("testcase"),
	})
	if err != nil {
		return err
	}
	task, err := b.newWorkItem("bob", DemoProject, map[string]any{
		"title": "Build login page",
		"type":  enumValue("task"),
	})
	if err != nil {
		return err
	}

	steps, err := toJSONValue([]types.TestStep{
		{Values: []types.Text{*types.Plain("Open the login page"), *types.Plain("The form is shown")}},
		{Values: []types.Text{*types.Plain("Submit valid credentials"), *types.Plain("The dashboard is shown")}},
	})
	if err != nil {
		return err
	}
	tc.Data[testStepsKey] = steps
	if _, err := b.link(tc, req.URI, "verifies"); err != nil {
		return err
	}
	task.Data["assignee"] = []any{UserURI("bob")}
	if err := b.touchWorkItem(task); err != nil {
		return err
	}
	if _, err := b.insertComment(req, "bob", map[string]any{
		"text":     textValue(*types.Plain("Should lockout be covered here?")),
		"resolved": false,
		"tags":     []any{},
	}); err != nil {
		return err
	}

	doc, err := b.newDocument(DemoUser, DemoProject, demoDocSpace, demoDocName, "Login Specification",
		[]string{"requirement", "testcase"}, defaultStructureRole, nil)
	if err != nil {
		return err
	}
	if err := b.placeInDocument(doc, req, ""); err != nil {
		return err
	}

	now := timestamp(b.now())
	for _, o := range []*object{
		{Kind: kindTestRun, Project: DemoProject, ID: demoTemplate, Data: map[string]any{
			"title":      "Smoke template",
			"status":     enumValue(defaultRunStatus),
			"isTemplate": true,
			"records":    []any{},
			"author":     UserURI(DemoUser),
			"created":    now,
			"updated":    now,
		}},
		{Kind: kindTestRun, Project: DemoProject, ID: demoRunID, Data: map[string]any{
			"title":      "Smoke",
			"status":     enumValue(defaultRunStatus),
			"isTemplate": false,
			"records": []any{map[string]any{
				"testCaseURI":   tc.URI,
				"result":        enumValue("passed"),
				"executed":      now,
				"executedByURI": UserURI(DemoUser),
				"testStepResults": []any{
					map[string]any{"result": enumValue("passed")},
					map[string]any{"result": enumValue("passed")},
				},
			}},
			"author":  UserURI(DemoUser),
			"created": now,
			"updated": now,
		}},
		{Kind: kindPlan, Project: DemoProject, ID: demoReleaseID, Data: map[string]any{
			"name":         "Release 1",
			"startDate":    "2026-01-05",
			"dueDate":      "2026-03-27",
			"records":      []any{map[string]any{"item": req.URI}, map[string]any{"item": task.URI}},
			"allowedTypes": []any{},
			"author":       UserURI(DemoUser),
			"created":      now,
			"updated":      now,
		}},
	} {
		if err := b.insertObject(o); err != nil {
			return err
		}
	}
	return nil
}
