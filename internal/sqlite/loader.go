// This file implements JSONL loading on attach and persistence on detach.
package sqlite

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// jsonlTable maps a JSONL file to its SQLite table. jsonColumns hold JSON
// text and are written as nested values; blobColumns are base64 encoded.
type jsonlTable struct {
	file        string
	table       string
	columns     []string
	jsonColumns []string
	blobColumns []string
}

// jsonlTableMapping lists every persisted table in load order.
var jsonlTableMapping = []jsonlTable{
	{file: "projects.jsonl", table: "projects", columns: []string{"project_id", "name", "description", "tracker_prefix", "location", "test_step_keys"}, jsonColumns: []string{"test_step_keys"}},
	{file: "users.jsonl", table: "users", columns: []string{"user_id", "name", "email", "password", "can_download"}},
	{file: "project_users.jsonl", table: "project_users", columns: []string{"project_id", "user_id"}},
	{file: "tokens.jsonl", table: "tokens", columns: []string{"token", "user_id"}},
	{file: "groups.jsonl", table: "project_groups", columns: []string{"group_uri", "name", "location", "parent_uri"}},
	{file: "enums.jsonl", table: "enums", columns: []string{"project_id", "enum_id", "type_id", "option_id", "name", "ordinal"}},
	{file: "workflow.jsonl", table: "workflow", columns: []string{"project_id", "type_id", "action_id", "action_name", "from_status", "to_status", "resolution", "required_fields"}, jsonColumns: []string{"required_fields"}},
	{file: "custom_field_keys.jsonl", table: "custom_field_keys", columns: []string{"project_id", "kind", "type_id", "field_key"}},
	{file: "objects.jsonl", table: "objects", columns: []string{"uri", "kind", "project_id", "object_id", "data", "seq"}, jsonColumns: []string{"data"}},
	{file: "comments.jsonl", table: "comments", columns: []string{"comment_uri", "owner_uri", "data", "seq"}, jsonColumns: []string{"data"}},
	{file: "attachments.jsonl", table: "attachments", columns: []string{"attachment_id", "owner_uri", "scope", "file_name", "title", "content", "seq"}, blobColumns: []string{"content"}},
	{file: "doc_items.jsonl", table: "doc_items", columns: []string{"module_uri", "work_item_uri", "parent_uri", "position"}},
	{file: "counters.jsonl", table: "counters", columns: []string{"scope", "next_value"}},
}

// loadAllJSONL reads each JSONL file from dataDir and inserts its records
// into the corresponding table. Loading is transactional: all succeed or the
// database remains empty. Unknown fields are ignored.
func loadAllJSONL(db *sql.DB, dataDir string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	for _, mapping := range jsonlTableMapping {
		records, err := readJSONL(filepath.Join(dataDir, mapping.file))
		if err != nil {
			return fmt.Errorf("reading %s: %w", mapping.file, err)
		}
		if len(records) == 0 {
			continue
		}
		if err := insertRecords(tx, mapping, records); err != nil {
			return fmt.Errorf("loading %s into %s: %w", mapping.file, mapping.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}

// insertRecords inserts parsed JSONL records into a table. Records that do
// not parse or violate a constraint are skipped.
func insertRecords(tx *sql.Tx, mapping jsonlTable, records []json.RawMessage) error {
	placeholders := strings.Repeat("?, ", len(mapping.columns))
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		mapping.table,
		strings.Join(mapping.columns, ", "),
		strings.TrimSuffix(placeholders, ", "),
	)

	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		return fmt.Errorf("preparing insert for %s: %w", mapping.table, err)
	}
	defer stmt.Close()

	for _, rec := range records {
		var obj map[string]any
		if err := json.Unmarshal(rec, &obj); err != nil {
			continue
		}

		args := make([]any, len(mapping.columns))
		for i, col := range mapping.columns {
			val, ok := obj[col]
			if !ok {
				continue
			}
			switch v := val.(type) {
			case map[string]any, []any:
				b, err := json.Marshal(v)
				if err != nil {
					continue
				}
				args[i] = string(b)
			case string:
				if slices.Contains(mapping.blobColumns, col) {
					raw, err := base64.StdEncoding.DecodeString(v)
					if err != nil {
						continue
					}
					args[i] = raw
					continue
				}
				args[i] = v
			default:
				args[i] = val
			}
		}

		if _, err := stmt.Exec(args...); err != nil {
			continue
		}
	}
	return nil
}

// dumpAllJSONL writes every table to its JSONL file in rowid order.
func dumpAllJSONL(db *sql.DB, dataDir string) error {
	for _, mapping := range jsonlTableMapping {
		records, err := dumpTable(db, mapping)
		if err != nil {
			return err
		}
		if err := writeJSONL(filepath.Join(dataDir, mapping.file), records); err != nil {
			return fmt.Errorf("writing %s: %w", mapping.file, err)
		}
	}
	return nil
}

func dumpTable(db *sql.DB, mapping jsonlTable) ([]json.RawMessage, error) {
	rows, err := db.Query(fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid",
		strings.Join(mapping.columns, ", "), mapping.table))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", mapping.table, err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		vals := make([]any, len(mapping.columns))
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", mapping.table, err)
		}

		rec := make(map[string]any, len(vals))
		for i, col := range mapping.columns {
			v := vals[i]
			if s, ok := v.(string); ok && slices.Contains(mapping.jsonColumns, col) && json.Valid([]byte(s)) {
				v = json.RawMessage(s)
			}
			rec[col] = v
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s row: %w", mapping.table, err)
		}
		records = append(records, data)
	}
	return records, rows.Err()
}
