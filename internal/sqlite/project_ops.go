// This file implements the Project service: projects, users and groups.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

// UserURI returns the identifier of user.
func UserURI(user string) string {
	return types.ObjectURI("", "User", user)
}

func (b *Backend) projectValues(project string) (map[string]any, error) {
	var (
		name, prefix, location string
		description, stepKeys  sql.NullString
	)
	err := b.db.QueryRow(
		"SELECT name, description, tracker_prefix, location, test_step_keys FROM projects WHERE project_id = ?",
		project).Scan(&name, &description, &prefix, &location, &stepKeys)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up project: %w", err)
	}
	return map[string]any{
		"id":            project,
		"name":          name,
		"description":   description.String,
		"trackerPrefix": prefix,
		"location":      location,
	}, nil
}

// mustProject fails with a not-found fault unless project exists.
func (b *Backend) mustProject(project string) (map[string]any, error) {
	values, err := b.projectValues(project)
	if err != nil {
		return nil, err
	}
	if values == nil {
		return nil, notFound("project", project)
	}
	return values, nil
}

// testStepKeys returns the configured test step columns of project.
func (b *Backend) testStepKeys(project string) ([]string, error) {
	var raw sql.NullString
	err := b.db.QueryRow("SELECT test_step_keys FROM projects WHERE project_id = ?", project).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("looking up test step keys: %w", err)
	}
	var keys []string
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &keys); err != nil {
			return nil, fmt.Errorf("decoding test step keys: %w", err)
		}
	}
	return keys, nil
}

func (b *Backend) getProject(c *call) (any, error) {
	var project string
	if err := c.bind(&project); err != nil {
		return nil, err
	}
	values, err := b.projectValues(project)
	if err != nil {
		return nil, err
	}
	if values == nil {
		return unresolvable(), nil
	}
	return wrapRecord(values), nil
}

func (b *Backend) userRecords(query string, args ...any) ([]map[string]any, error) {
	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			id, name string
			email    sql.NullString
		)
		if err := rows.Scan(&id, &name, &email); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		out = append(out, wrapRecord(map[string]any{
			"id":    id,
			"name":  name,
			"email": email.String,
			"uri":   UserURI(id),
		}))
	}
	return out, rows.Err()
}

func (b *Backend) userRecord(id string) (any, error) {
	recs, err := b.userRecords("SELECT user_id, name, email FROM users WHERE user_id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return unresolvable(), nil
	}
	return recs[0], nil
}

func (b *Backend) getProjectUsers(c *call) (any, error) {
	var project string
	if err := c.bind(&project); err != nil {
		return nil, err
	}
	if _, err := b.mustProject(project); err != nil {
		return nil, err
	}
	return b.userRecords(
		`SELECT u.user_id, u.name, u.email FROM users u
		 JOIN project_users pu ON pu.user_id = u.user_id
		 WHERE pu.project_id = ? ORDER BY u.user_id`, project)
}

func (b *Backend) getUser(c *call) (any, error) {
	var id string
	if err := c.bind(&id); err != nil {
		return nil, err
	}
	return b.userRecord(id)
}

func (b *Backend) getUserByURI(c *call) (any, error) {
	var uri string
	if err := c.bind(&uri); err != nil {
		return nil, err
	}
	u, err := types.ParseURI(uri)
	if err != nil || u.Tag != types.TagUser {
		return unresolvable(), nil
	}
	return b.userRecord(u.Local)
}

func (b *Backend) groupRecords(where string, args ...any) ([]map[string]any, error) {
	rows, err := b.db.Query("SELECT group_uri, name, location, parent_uri FROM project_groups WHERE "+where+" ORDER BY name", args...)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			uri, name, location string
			parent              sql.NullString
		)
		if err := rows.Scan(&uri, &name, &location, &parent); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		out = append(out, wrapRecord(map[string]any{
			"uri":       uri,
			"name":      name,
			"location":  location,
			"parentURI": parent.String,
		}))
	}
	return out, rows.Err()
}

func (b *Backend) singleGroup(where string, args ...any) (any, error) {
	recs, err := b.groupRecords(where, args...)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return unresolvable(), nil
	}
	return recs[0], nil
}

func (b *Backend) getProjectGroupAtLocation(c *call) (any, error) {
	var location string
	if err := c.bind(&location); err != nil {
		return nil, err
	}
	return b.singleGroup("location = ?", location)
}

func (b *Backend) getProjectGroup(c *call) (any, error) {
	var uri string
	if err := c.bind(&uri); err != nil {
		return nil, err
	}
	return b.singleGroup("group_uri = ?", uri)
}

func (b *Backend) getContainedGroups(c *call) (any, error) {
	var uri string
	if err := c.bind(&uri); err != nil {
		return nil, err
	}
	return b.groupRecords("parent_uri = ?", uri)
}

func (b *Backend) getDeepContainedProjects(c *call) (any, error) {
	var uri string
	if err := c.bind(&uri); err != nil {
		return nil, err
	}
	rows, err := b.db.Query(
		`SELECT p.project_id FROM projects p, project_groups g
		 WHERE g.group_uri = ? AND p.location LIKE g.location || '/%'
		 ORDER BY p.project_id`, uri)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		values, err := b.projectValues(id)
		if err != nil {
			return nil, err
		}
		out = append(out, wrapRecord(values))
	}
	return out, nil
}
