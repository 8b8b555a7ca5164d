package alm

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/almsync/internal/session"
	"github.com/mesh-intelligence/almsync/pkg/types"
)

// UserData holds the fields of a user record.
type UserData struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// User is a read-only user of the server. Two users are equal when their
// ids are.
type User struct {
	UserData
	uri string
	id  string
}

// URI returns the resource identifier of the user.
func (u *User) URI() string { return u.uri }

// ID returns the login name of the user.
func (u *User) ID() string { return u.id }

// Equal reports whether u and other name the same user.
func (u *User) Equal(other *User) bool {
	return u != nil && other != nil && u.id == other.id
}

func (u *User) String() string {
	if u.Name == "" {
		return u.id
	}
	return fmt.Sprintf("%s (%s)", u.Name, u.id)
}

// User fetches the user with the given login name.
func (c *Client) User(ctx context.Context, id string) (*User, error) {
	var raw types.Record
	if err := c.call(ctx, session.ServiceProject, "getUser", &raw, id); err != nil {
		return nil, fmt.Errorf("%w: user %s: %w", types.ErrNotFound, id, err)
	}
	u, err := userFromRecord(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}
	return u, nil
}

// UserByURI fetches the user an identifier names.
func (c *Client) UserByURI(ctx context.Context, uri string) (*User, error) {
	u, err := types.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if u.Tag != types.TagUser {
		return nil, fmt.Errorf("%w: %s does not name a user", types.ErrMalformedIdentifier, uri)
	}

	var raw types.Record
	if err := c.call(ctx, session.ServiceProject, "getUserByUri", &raw, uri); err != nil {
		return nil, fmt.Errorf("%w: user %s: %w", types.ErrNotFound, uri, err)
	}
	user, err := userFromRecord(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", uri, err)
	}
	return user, nil
}

func userFromRecord(ctx context.Context, raw types.Record) (*User, error) {
	u := &User{}
	uri, id, err := bindReadOnly(ctx, "user", raw, &u.UserData)
	if err != nil {
		return nil, err
	}
	u.uri, u.id = uri, id
	return u, nil
}

// bindReadOnly decodes a record into data without change tracking and
// returns the identifiers it carried.
func bindReadOnly(ctx context.Context, name string, raw types.Record, data any) (uri, id string, err error) {
	e := entity{name: name, data: data}
	if err := e.openRecord(ctx, raw); err != nil {
		return "", "", err
	}
	return e.uri, e.id, nil
}
