// This file implements comments on work items, test runs and documents.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mesh-intelligence/almsync/pkg/types"
)

// commentOwner loads the object uri names, of any kind.
func (b *Backend) commentOwner(uri string) (*object, error) {
	o, err := b.findObject(uri)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, notFound("object", uri)
	}
	return o, nil
}

// findComment returns the owner and stored data of a comment.
func (b *Backend) findComment(uri string) (string, map[string]any, error) {
	var owner, raw string
	err := b.db.QueryRow("SELECT owner_uri, data FROM comments WHERE comment_uri = ?", uri).Scan(&owner, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, notFound("comment", uri)
	}
	if err != nil {
		return "", nil, fmt.Errorf("looking up comment: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return "", nil, fmt.Errorf("decoding comment: %w", err)
	}
	return owner, data, nil
}

func (b *Backend) saveComment(uri string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding comment: %w", err)
	}
	if _, err := b.db.Exec("UPDATE comments SET data = ? WHERE comment_uri = ?", string(raw), uri); err != nil {
		return fmt.Errorf("updating comment: %w", err)
	}
	return nil
}

// insertComment stores a comment on owner and returns its URI.
func (b *Backend) insertComment(owner *object, user string, data map[string]any) (string, error) {
	n, err := b.nextCounter("comments")
	if err != nil {
		return "", err
	}
	u, err := types.ParseURI(owner.URI)
	if err != nil {
		return "", err
	}
	uri := types.ObjectURI(owner.Project, "Comment", fmt.Sprintf("%s/%d", u.Local, n))

	data["id"] = strconv.FormatInt(n, 10)
	data["author"] = UserURI(user)
	data["created"] = timestamp(b.now())
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding comment: %w", err)
	}
	_, err = b.db.Exec("INSERT INTO comments (comment_uri, owner_uri, data, seq) VALUES (?, ?, ?, ?)",
		uri, owner.URI, string(raw), n)
	if err != nil {
		return "", fmt.Errorf("inserting comment: %w", err)
	}
	return uri, nil
}

// commentValues returns the comments on owner in creation order, each with
// its uri and the uris of its direct replies.
func (b *Backend) commentValues(owner string) ([]map[string]any, error) {
	rows, err := b.db.Query("SELECT comment_uri, data FROM comments WHERE owner_uri = ? ORDER BY seq", owner)
	if err != nil {
		return nil, fmt.Errorf("querying comments: %w", err)
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var uri, raw string
		if err := rows.Scan(&uri, &raw); err != nil {
			return nil, fmt.Errorf("scanning comment: %w", err)
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("decoding comment: %w", err)
		}
		data["uri"] = uri
		data["childCommentURIs"] = []any{}
		out = append(out, data)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byURI := make(map[string]map[string]any, len(out))
	for _, c := range out {
		byURI[str(c, "uri")] = c
	}
	for _, c := range out {
		if parent, ok := byURI[str(c, "parentCommentURI")]; ok {
			parent["childCommentURIs"] = append(parent["childCommentURIs"].([]any), str(c, "uri"))
		}
	}
	return out, nil
}

func checkText(t types.Text) error {
	if t.Type != types.TextHTML && t.Type != types.TextPlain {
		return invalid("text type must be %s or %s, got %q", types.TextHTML, types.TextPlain, t.Type)
	}
	return nil
}

func textValue(t types.Text) map[string]any {
	return map[string]any{"type": t.Type, "content": t.Content, "contentLossy": t.ContentLossy}
}

// reply stores an untitled reply to the comment at parentURI.
func (b *Backend) reply(user, parentURI string, content types.Text) (string, error) {
	ownerURI, _, err := b.findComment(parentURI)
	if err != nil {
		return "", err
	}
	owner, err := b.commentOwner(ownerURI)
	if err != nil {
		return "", err
	}
	return b.insertComment(owner, user, map[string]any{
		"title":            "",
		"text":             textValue(content),
		"parentCommentURI": parentURI,
		"resolved":         false,
		"tags":             []any{},
	})
}

// addComment posts a comment. A parent naming a comment makes the new
// comment a reply, which must not carry a title; any other parent is the
// object the comment is attached to.
func (b *Backend) addComment(c *call) (any, error) {
	var (
		parent  string
		title   *string
		content types.Text
	)
	if err := c.bind(&parent, &title, &content); err != nil {
		return nil, err
	}
	if err := checkText(content); err != nil {
		return nil, err
	}

	if u, err := types.ParseURI(parent); err == nil && u.Tag == types.TagComment {
		if title != nil && *title != "" {
			return nil, invalid("a reply cannot carry a title")
		}
		return b.reply(c.user, parent, content)
	}

	owner, err := b.commentOwner(parent)
	if err != nil {
		return nil, err
	}
	data := map[string]any{
		"title":    "",
		"text":     textValue(content),
		"resolved": false,
		"tags":     []any{},
	}
	if title != nil {
		data["title"] = *title
	}
	return b.insertComment(owner, c.user, data)
}

func (b *Backend) setResolvedComment(c *call) (any, error) {
	var (
		uri      string
		resolved bool
	)
	if err := c.bind(&uri, &resolved); err != nil {
		return nil, err
	}
	_, data, err := b.findComment(uri)
	if err != nil {
		return nil, err
	}
	data["resolved"] = resolved
	return nil, b.saveComment(uri, data)
}

func (b *Backend) setCommentTags(c *call) (any, error) {
	var (
		uri  string
		tags []string
	)
	if err := c.bind(&uri, &tags); err != nil {
		return nil, err
	}
	_, data, err := b.findComment(uri)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	data["tags"] = tags
	return nil, b.saveComment(uri, data)
}

func (b *Backend) createDocumentComment(c *call) (any, error) {
	var (
		module  string
		content types.Text
	)
	if err := c.bind(&module, &content); err != nil {
		return nil, err
	}
	return b.documentComment(c.user, module, "", content)
}

func (b *Backend) createDocumentCommentReferringWI(c *call) (any, error) {
	var (
		module, workItem string
		content          types.Text
	)
	if err := c.bind(&module, &workItem, &content); err != nil {
		return nil, err
	}
	if _, err := b.mustObject(kindWorkItem, workItem); err != nil {
		return nil, err
	}
	return b.documentComment(c.user, module, workItem, content)
}

func (b *Backend) documentComment(user, module, workItem string, content types.Text) (string, error) {
	if err := checkText(content); err != nil {
		return "", err
	}
	owner, err := b.mustObject(kindModule, module)
	if err != nil {
		return "", err
	}
	return b.insertComment(owner, user, map[string]any{
		"title":               "",
		"text":                textValue(content),
		"resolved":            false,
		"tags":                []any{},
		"referredWorkItemURI": workItem,
	})
}

func (b *Backend) createDocumentCommentReply(c *call) (any, error) {
	var (
		parent  string
		content types.Text
	)
	if err := c.bind(&parent, &content); err != nil {
		return nil, err
	}
	if err := checkText(content); err != nil {
		return nil, err
	}
	return b.reply(c.user, parent, content)
}
