package alm

import (
	"context"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/almsync/internal/session"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// ProjectGroupData holds the fields of a project group record.
type ProjectGroupData struct {
	Name      string `json:"name"`
	Location  string `json:"location"`
	ParentURI string `json:"parentURI"`
}

// ProjectGroup is a read-only node of the project hierarchy.
type ProjectGroup struct {
	ProjectGroupData
	client *Client
	uri    string
}

// ProjectGroup fetches the group at location, for example "Demo/Shared".
func (c *Client) ProjectGroup(ctx context.Context, location string) (*ProjectGroup, error) {
	var raw types.Record
	if err := c.call(ctx, session.ServiceProject, "getProjectGroupAtLocation", &raw, location); err != nil {
		return nil, fmt.Errorf("%w: project group %s: %w", types.ErrNotFound, location, err)
	}
	return c.groupFromRecord(ctx, raw)
}

func (c *Client) groupFromRecord(ctx context.Context, raw types.Record) (*ProjectGroup, error) {
	g := &ProjectGroup{client: c}
	uri, _, err := bindReadOnly(ctx, "project group", raw, &g.ProjectGroupData)
	if err != nil {
		return nil, err
	}
	g.uri = uri
	return g, nil
}

// URI returns the resource identifier of the group.
func (g *ProjectGroup) URI() string { return g.uri }

// Groups returns the groups directly below g.
func (g *ProjectGroup) Groups(ctx context.Context) ([]*ProjectGroup, error) {
	var raws []types.Record
	if err := g.client.call(ctx, session.ServiceProject, "getContainedGroups", &raws, g.uri); err != nil {
		return nil, fmt.Errorf("groups of %s: %w", g.Location, err)
	}
	groups := make([]*ProjectGroup, 0, len(raws))
	for _, raw := range raws {
		child, err := g.client.groupFromRecord(ctx, raw)
		if err != nil {
			return nil, err
		}
		groups = append(groups, child)
	}
	return groups, nil
}

// Projects returns every project below g, at any depth.
func (g *ProjectGroup) Projects(ctx context.Context) ([]*Project, error) {
	var raws []types.Record
	if err := g.client.call(ctx, session.ServiceProject, "getDeepContainedProjects", &raws, g.uri); err != nil {
		return nil, fmt.Errorf("projects of %s: %w", g.Location, err)
	}
	projects := make([]*Project, 0, len(raws))
	for _, raw := range raws {
		p, err := g.client.projectFromRecord(ctx, raw)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// Find returns g or the group below it named name, searching depth first.
func (g *ProjectGroup) Find(ctx context.Context, name string) (*ProjectGroup, error) {
	if g.Name == name {
		return g, nil
	}
	children, err := g.Groups(ctx)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		found, err := child.Find(ctx, name)
		if err == nil {
			return found, nil
		}
		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: project group %q below %s", types.ErrNotFound, name, g.Location)
}

func (g *ProjectGroup) projectIDs(ctx context.Context) ([]string, []*Project, error) {
	projects, err := g.Projects(ctx)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.ID())
	}
	return ids, projects, nil
}

// SearchWorkItems runs q across every project below g.
func (g *ProjectGroup) SearchWorkItems(ctx context.Context, q, sort string, limit int) ([]*WorkItem, error) {
	ids, _, err := g.projectIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return g.client.searchWorkItems(ctx, nil, ids, q, sort, limit)
}

// WorkItem returns the work item with id from whichever project below g
// holds it.
func (g *ProjectGroup) WorkItem(ctx context.Context, id string) (*WorkItem, error) {
	_, projects, err := g.projectIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		w, err := p.WorkItem(ctx, id)
		if err == nil {
			return w, nil
		}
		if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: work item %s below %s", types.ErrNotFound, id, g.Location)
}
