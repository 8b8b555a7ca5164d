// Package sqlite implements the reference ALM backend used by tests and by
// almctl serve. Remote records live in SQLite as JSON documents; JSONL files
// in the data directory are the durable copy.
package sqlite

// Schema DDL for all tables.
const (
	createProjects = `CREATE TABLE projects (
    project_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    tracker_prefix TEXT NOT NULL,
    location TEXT NOT NULL,
    test_step_keys TEXT
);`

	createUsers = `CREATE TABLE users (
    user_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT,
    password TEXT,
    can_download INTEGER NOT NULL DEFAULT 1
);`

	createProjectUsers = `CREATE TABLE project_users (
    project_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    PRIMARY KEY (project_id, user_id)
);`

	createTokens = `CREATE TABLE tokens (
    token TEXT PRIMARY KEY,
    user_id TEXT NOT NULL
);`

	createSessions = `CREATE TABLE sessions (
    session_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    created_at TEXT NOT NULL
);`

	createGroups = `CREATE TABLE project_groups (
    group_uri TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    location TEXT NOT NULL,
    parent_uri TEXT
);`

	createEnums = `CREATE TABLE enums (
    project_id TEXT NOT NULL,
    enum_id TEXT NOT NULL,
    type_id TEXT NOT NULL DEFAULT '',
    option_id TEXT NOT NULL,
    name TEXT NOT NULL,
    ordinal INTEGER NOT NULL
);`

	createWorkflow = `CREATE TABLE workflow (
    project_id TEXT NOT NULL,
    type_id TEXT NOT NULL,
    action_id INTEGER NOT NULL,
    action_name TEXT NOT NULL,
    from_status TEXT NOT NULL,
    to_status TEXT NOT NULL,
    resolution TEXT,
    required_fields TEXT
);`

	createCustomFieldKeys = `CREATE TABLE custom_field_keys (
    project_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    type_id TEXT NOT NULL DEFAULT '',
    field_key TEXT NOT NULL
);`

	createObjects = `CREATE TABLE objects (
    uri TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    project_id TEXT NOT NULL,
    object_id TEXT NOT NULL,
    data TEXT NOT NULL,
    seq INTEGER NOT NULL
);`

	createComments = `CREATE TABLE comments (
    comment_uri TEXT PRIMARY KEY,
    owner_uri TEXT NOT NULL,
    data TEXT NOT NULL,
    seq INTEGER NOT NULL
);`

	createAttachments = `CREATE TABLE attachments (
    attachment_id TEXT PRIMARY KEY,
    owner_uri TEXT NOT NULL,
    scope TEXT NOT NULL DEFAULT '',
    file_name TEXT NOT NULL,
    title TEXT,
    content BLOB,
    seq INTEGER NOT NULL
);`

	createDocItems = `CREATE TABLE doc_items (
    module_uri TEXT NOT NULL,
    work_item_uri TEXT NOT NULL,
    parent_uri TEXT NOT NULL DEFAULT '',
    position INTEGER NOT NULL,
    PRIMARY KEY (module_uri, work_item_uri)
);`

	createCounters = `CREATE TABLE counters (
    scope TEXT PRIMARY KEY,
    next_value INTEGER NOT NULL
);`
)

// Index DDL for common lookups.
const (
	idxObjectsKindID      = `CREATE UNIQUE INDEX idx_objects_kind_id ON objects(kind, project_id, object_id);`
	idxObjectsKind        = `CREATE INDEX idx_objects_kind ON objects(kind, seq);`
	idxCommentsOwner      = `CREATE INDEX idx_comments_owner ON comments(owner_uri, seq);`
	idxAttachmentsOwner   = `CREATE INDEX idx_attachments_owner ON attachments(owner_uri, scope);`
	idxDocItemsWorkItem   = `CREATE INDEX idx_doc_items_work_item ON doc_items(work_item_uri);`
	idxEnumsLookup        = `CREATE INDEX idx_enums_lookup ON enums(project_id, enum_id, type_id);`
	idxWorkflowLookup     = `CREATE INDEX idx_workflow_lookup ON workflow(project_id, type_id, from_status);`
	idxCustomFieldsLookup = `CREATE INDEX idx_custom_field_keys_lookup ON custom_field_keys(project_id, kind, type_id);`
)

// schemaDDL lists all CREATE TABLE statements.
var schemaDDL = []string{
	createProjects,
	createUsers,
	createProjectUsers,
	createTokens,
	createSessions,
	createGroups,
	createEnums,
	createWorkflow,
	createCustomFieldKeys,
	createObjects,
	createComments,
	createAttachments,
	createDocItems,
	createCounters,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxObjectsKindID,
	idxObjectsKind,
	idxCommentsOwner,
	idxAttachmentsOwner,
	idxDocItemsWorkItem,
	idxEnumsLookup,
	idxWorkflowLookup,
	idxCustomFieldsLookup,
}
