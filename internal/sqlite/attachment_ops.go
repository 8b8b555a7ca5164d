// This file implements attachment storage and the Tracker attachment
// operations.
package sqlite

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
)

// AttachmentPath is the side-channel path prefix attachment URLs use.
const AttachmentPath = "/attachments/"

// insertAttachment stores content under owner and scope and returns its id.
func (b *Backend) insertAttachment(owner, scope, fileName, title string, content []byte) (string, error) {
	if fileName == "" {
		return "", invalid("attachment needs a file name")
	}
	seq, err := b.nextCounter("attachments")
	if err != nil {
		return "", err
	}
	id := generateUUID()
	_, err = b.db.Exec(
		`INSERT INTO attachments (attachment_id, owner_uri, scope, file_name, title, content, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, owner, scope, fileName, title, content, seq)
	if err != nil {
		return "", fmt.Errorf("inserting attachment: %w", err)
	}
	return id, nil
}

// attachmentDescriptors lists the attachments under owner and scope. Inline
// descriptors carry the base64 content instead of a side-channel URL.
func (b *Backend) attachmentDescriptors(owner, scope string, inline bool) ([]map[string]any, error) {
	rows, err := b.db.Query(
		`SELECT attachment_id, file_name, COALESCE(title, ''), content FROM attachments
		 WHERE owner_uri = ? AND scope = ? ORDER BY seq`, owner, scope)
	if err != nil {
		return nil, fmt.Errorf("querying attachments: %w", err)
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var (
			id, fileName, title string
			content             []byte
		)
		if err := rows.Scan(&id, &fileName, &title, &content); err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		d := map[string]any{
			"id":       id,
			"fileName": fileName,
			"title":    title,
			"length":   len(content),
		}
		if inline {
			d["data"] = base64.StdEncoding.EncodeToString(content)
		} else {
			d["url"] = AttachmentPath + id
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// attachmentDescriptor returns one attachment under owner and scope.
func (b *Backend) attachmentDescriptor(owner, scope, id string, inline bool) (map[string]any, error) {
	all, err := b.attachmentDescriptors(owner, scope, inline)
	if err != nil {
		return nil, err
	}
	for _, d := range all {
		if d["id"] == id {
			return d, nil
		}
	}
	return nil, notFound("attachment", id)
}

// removeAttachment deletes one attachment under owner and scope.
func (b *Backend) removeAttachment(owner, scope, id string) error {
	res, err := b.db.Exec("DELETE FROM attachments WHERE attachment_id = ? AND owner_uri = ? AND scope = ?", id, owner, scope)
	if err != nil {
		return fmt.Errorf("deleting attachment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("attachment", id)
	}
	return nil
}

// Attachment returns the file name and content of the attachment with id,
// for the side channel.
func (b *Backend) Attachment(id string) (string, []byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return "", nil, ErrDetached
	}

	var (
		fileName string
		content  []byte
	)
	err := b.db.QueryRow("SELECT file_name, content FROM attachments WHERE attachment_id = ?", id).Scan(&fileName, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, notFound("attachment", id)
	}
	if err != nil {
		return "", nil, fmt.Errorf("reading attachment: %w", err)
	}
	return fileName, content, nil
}

func (b *Backend) createAttachment(c *call) (any, error) {
	var (
		uri, fileName, title string
		content              []byte
	)
	if err := c.bind(&uri, &fileName, &title, &content); err != nil {
		return nil, err
	}
	if _, err := b.mustObject(kindWorkItem, uri); err != nil {
		return nil, err
	}
	return b.insertAttachment(uri, "", fileName, title, content)
}

func (b *Backend) getAttachment(c *call) (any, error) {
	var uri, id string
	if err := c.bind(&uri, &id); err != nil {
		return nil, err
	}
	return b.attachmentDescriptor(uri, "", id, false)
}

func (b *Backend) deleteAttachment(c *call) (any, error) {
	var uri, id string
	if err := c.bind(&uri, &id); err != nil {
		return nil, err
	}
	return nil, b.removeAttachment(uri, "", id)
}
