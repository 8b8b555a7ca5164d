package alm

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/almsync/internal/session"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// fetchConcurrency bounds the parallel fetches of fetchAll.
const fetchConcurrency = 8

// ProjectData holds the fields of a project record.
type ProjectData struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	TrackerPrefix string `json:"trackerPrefix"`
	Location      string `json:"location"`
}

// Project is a read-only project and the entry point to the entities it
// owns.
type Project struct {
	ProjectData
	client *Client
	id     string
}

// Project fetches the project with the given id.
func (c *Client) Project(ctx context.Context, id string) (*Project, error) {
	var raw types.Record
	if err := c.call(ctx, session.ServiceProject, "getProject", &raw, id); err != nil {
		return nil, fmt.Errorf("%w: project %s: %w", types.ErrNotFound, id, err)
	}
	return c.projectFromRecord(ctx, raw)
}

func (c *Client) projectFromRecord(ctx context.Context, raw types.Record) (*Project, error) {
	p := &Project{client: c}
	_, id, err := bindReadOnly(ctx, "project", raw, &p.ProjectData)
	if err != nil {
		return nil, err
	}
	p.id = id
	return p, nil
}

// ID returns the project id.
func (p *Project) ID() string { return p.id }

// Users returns the members of the project.
func (p *Project) Users(ctx context.Context) ([]*User, error) {
	var raws []types.Record
	if err := p.client.call(ctx, session.ServiceProject, "getProjectUsers", &raws, p.id); err != nil {
		return nil, fmt.Errorf("users of %s: %w", p.id, err)
	}
	users := make([]*User, 0, len(raws))
	for _, raw := range raws {
		u, err := userFromRecord(ctx, raw)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// FindUser returns the member whose id or name equals needle, ignoring
// case.
func (p *Project) FindUser(ctx context.Context, needle string) (*User, error) {
	users, err := p.Users(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if strings.EqualFold(u.id, needle) || strings.EqualFold(u.Name, needle) {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: user %q in %s", types.ErrNotFound, needle, p.id)
}

// Enum returns the options of the named enumeration.
func (p *Project) Enum(ctx context.Context, name string) ([]types.EnumOptionInfo, error) {
	var opts []types.EnumOptionInfo
	if err := p.client.call(ctx, session.ServiceTracker, "getAllEnumOptionsForKey", &opts, p.id, name); err != nil {
		return nil, fmt.Errorf("enum %s of %s: %w", name, p.id, err)
	}
	return opts, nil
}

// scopedQuery restricts q to the given projects.
func scopedQuery(projects []string, q string) string {
	scope := "project.id:" + projects[0]
	if len(projects) > 1 {
		scope = "project.id:(" + strings.Join(projects, " ") + ")"
	}
	if q = strings.TrimSpace(q); q != "" {
		scope += " " + q
	}
	return scope
}

// limitParam converts a caller limit to the wire form: negative for none.
func limitParam(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// SearchWorkItems returns the ids of the work items matching q, ordered by
// sort (a field name, ~ for descending). A limit of zero means no limit.
func (p *Project) SearchWorkItems(ctx context.Context, q, sort string, limit int) ([]string, error) {
	var raws []types.Record
	err := p.client.call(ctx, session.ServiceTracker, "queryWorkItemsLimited", &raws,
		scopedQuery([]string{p.id}, q), sort, []string{"id"}, limitParam(limit))
	if err != nil {
		return nil, fmt.Errorf("search work items in %s: %w", p.id, err)
	}
	ids := make([]string, 0, len(raws))
	for _, raw := range raws {
		fields, err := types.Flatten(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, fields.String("id"))
	}
	return ids, nil
}

// SearchWorkItemsFull is SearchWorkItems returning bound work items.
func (p *Project) SearchWorkItemsFull(ctx context.Context, q, sort string, limit int) ([]*WorkItem, error) {
	return p.client.searchWorkItems(ctx, p, []string{p.id}, q, sort, limit)
}

func (c *Client) searchWorkItems(ctx context.Context, p *Project, projects []string, q, sort string, limit int) ([]*WorkItem, error) {
	var raws []types.Record
	err := c.call(ctx, session.ServiceTracker, "queryWorkItemsLimited", &raws,
		scopedQuery(projects, q), sort, []string{}, limitParam(limit))
	if err != nil {
		return nil, fmt.Errorf("search work items: %w", err)
	}
	items := make([]*WorkItem, 0, len(raws))
	for _, raw := range raws {
		w := newWorkItem(c, p)
		if err := w.openRecord(ctx, raw); err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, nil
}

// WorkItem fetches the work item with the given id.
func (p *Project) WorkItem(ctx context.Context, id string) (*WorkItem, error) {
	w := newWorkItem(p.client, p)
	w.id = id
	err := w.openWith(ctx, func(ctx context.Context) (types.Record, error) {
		var raw types.Record
		err := p.client.call(ctx, session.ServiceTracker, "getWorkItemById", &raw, p.id, id)
		return raw, err
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// CreateWorkItem creates a work item of typeID carrying the diffable
// fields set in data, and returns it as stored.
func (p *Project) CreateWorkItem(ctx context.Context, typeID string, data *WorkItemData) (*WorkItem, error) {
	values, err := creationValues(typeID, data)
	if err != nil {
		return nil, err
	}
	var uri string
	if err := p.client.call(ctx, session.ServiceTracker, "createWorkItem", &uri, p.id, values); err != nil {
		return nil, fmt.Errorf("create %s in %s: %w", typeID, p.id, err)
	}
	return p.client.workItemAt(ctx, p, uri)
}

// TestRun fetches the test run with the given id.
func (p *Project) TestRun(ctx context.Context, id string) (*TestRun, error) {
	t := newTestRun(p.client, p)
	t.id = id
	err := t.openWith(ctx, func(ctx context.Context) (types.Record, error) {
		var raw types.Record
		err := p.client.call(ctx, session.ServiceTestManagement, "getTestRunById", &raw, p.id, id)
		return raw, err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SearchTestRuns returns the test runs matching q.
func (p *Project) SearchTestRuns(ctx context.Context, q, sort string, limit int) ([]*TestRun, error) {
	var raws []types.Record
	err := p.client.call(ctx, session.ServiceTestManagement, "searchTestRunsLimited", &raws,
		scopedQuery([]string{p.id}, q), sort, limitParam(limit))
	if err != nil {
		return nil, fmt.Errorf("search test runs in %s: %w", p.id, err)
	}
	runs := make([]*TestRun, 0, len(raws))
	for _, raw := range raws {
		t := newTestRun(p.client, p)
		if err := t.openRecord(ctx, raw); err != nil {
			return nil, err
		}
		runs = append(runs, t)
	}
	return runs, nil
}

// CreateTestRun creates a test run, optionally from the template run with
// id template.
func (p *Project) CreateTestRun(ctx context.Context, id, title, template string) (*TestRun, error) {
	var uri string
	if err := p.client.call(ctx, session.ServiceTestManagement, "createTestRunWithTitle", &uri, p.id, id, title, template); err != nil {
		return nil, fmt.Errorf("create test run %s in %s: %w", id, p.id, err)
	}
	return p.client.testRunAt(ctx, p, uri)
}

// Plan fetches the plan with the given id.
func (p *Project) Plan(ctx context.Context, id string) (*Plan, error) {
	pl := newPlan(p.client, p)
	pl.id = id
	err := pl.openWith(ctx, func(ctx context.Context) (types.Record, error) {
		var raw types.Record
		err := p.client.call(ctx, session.ServicePlanning, "getPlanById", &raw, p.id, id)
		return raw, err
	})
	if err != nil {
		return nil, err
	}
	return pl, nil
}

// CreatePlan creates a plan under the plan parentID, or at the top level
// when it is empty. A template plan contributes its allowed types.
func (p *Project) CreatePlan(ctx context.Context, name, id, parentID, templateID string) (*Plan, error) {
	var uri string
	if err := p.client.call(ctx, session.ServicePlanning, "createPlan", &uri, p.id, name, id, parentID, templateID); err != nil {
		return nil, fmt.Errorf("create plan %s in %s: %w", id, p.id, err)
	}
	return p.client.planAt(ctx, p, uri)
}

// SearchPlans returns the plans matching q.
func (p *Project) SearchPlans(ctx context.Context, q, sort string, limit int) ([]*Plan, error) {
	return p.client.searchPlans(ctx, p, scopedQuery([]string{p.id}, q), sort, limit)
}

func (c *Client) searchPlans(ctx context.Context, p *Project, q, sort string, limit int) ([]*Plan, error) {
	var raws []types.Record
	if err := c.call(ctx, session.ServicePlanning, "searchPlans", &raws, q, sort, limitParam(limit)); err != nil {
		return nil, fmt.Errorf("search plans: %w", err)
	}
	plans := make([]*Plan, 0, len(raws))
	for _, raw := range raws {
		pl := newPlan(c, p)
		if err := pl.openRecord(ctx, raw); err != nil {
			return nil, err
		}
		plans = append(plans, pl)
	}
	return plans, nil
}

// Document fetches the document at location, "space/name".
func (p *Project) Document(ctx context.Context, location string) (*Document, error) {
	d := newDocument(p.client, p)
	d.id = location
	err := d.openWith(ctx, func(ctx context.Context) (types.Record, error) {
		var raw types.Record
		err := p.client.call(ctx, session.ServiceTracker, "getModuleByLocation", &raw, p.id, location)
		return raw, err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// CreateDocument creates a document in space. allowedTypes restricts the
// work item types it accepts (empty for any); structureRole is the link
// role that orders its hierarchy (empty for the server default).
func (p *Project) CreateDocument(ctx context.Context, space, name, title string, allowedTypes []string, structureRole string, home *types.Text) (*Document, error) {
	if allowedTypes == nil {
		allowedTypes = []string{}
	}
	var uri string
	err := p.client.call(ctx, session.ServiceTracker, "createDocument", &uri,
		p.id, space, name, title, allowedTypes, structureRole, home)
	if err != nil {
		return nil, fmt.Errorf("create document %s/%s in %s: %w", space, name, p.id, err)
	}
	return p.client.documentAt(ctx, p, uri)
}

// DocumentSpaces returns the names of the spaces holding documents.
func (p *Project) DocumentSpaces(ctx context.Context) ([]string, error) {
	var spaces []string
	if err := p.client.call(ctx, session.ServiceTracker, "getDocumentSpaces", &spaces, p.id); err != nil {
		return nil, fmt.Errorf("document spaces of %s: %w", p.id, err)
	}
	return spaces, nil
}

// DocumentLocations returns the locations of every document.
func (p *Project) DocumentLocations(ctx context.Context) ([]string, error) {
	var locations []string
	if err := p.client.call(ctx, session.ServiceTracker, "getDocumentLocations", &locations, p.id); err != nil {
		return nil, fmt.Errorf("document locations of %s: %w", p.id, err)
	}
	return locations, nil
}

// DocumentsInSpace fetches every document of space.
func (p *Project) DocumentsInSpace(ctx context.Context, space string) ([]*Document, error) {
	var uris []string
	if err := p.client.call(ctx, session.ServiceTracker, "getModuleUris", &uris, p.id, space); err != nil {
		return nil, fmt.Errorf("documents in %s/%s: %w", p.id, space, err)
	}
	return fetchAll(ctx, uris, func(ctx context.Context, uri string) (*Document, error) {
		return p.client.documentAt(ctx, p, uri)
	})
}

// fetchAll opens one entity per uri concurrently and returns them in the
// order of uris.
func fetchAll[T any](ctx context.Context, uris []string, open func(ctx context.Context, uri string) (T, error)) ([]T, error) {
	out := make([]T, len(uris))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, uri := range uris {
		g.Go(func() error {
			v, err := open(gctx, uri)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
