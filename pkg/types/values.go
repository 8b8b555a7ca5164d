package types

import "time"

// EnumOption references one option of an enumeration by id.
type EnumOption struct {
	ID string `json:"id"`
}

// Enum returns an option reference for id.
func Enum(id string) *EnumOption {
	return &EnumOption{ID: id}
}

// OptionID returns the id of e, or "" when e is nil.
func OptionID(e *EnumOption) string {
	if e == nil {
		return ""
	}
	return e.ID
}

// Rich text content types.
const (
	TextHTML  = "text/html"
	TextPlain = "text/plain"
)

// Text is formatted text content.
type Text struct {
	Type         string `json:"type"`
	Content      string `json:"content"`
	ContentLossy bool   `json:"contentLossy"`
}

// HTML returns a Text holding html content.
func HTML(content string) *Text {
	return &Text{Type: TextHTML, Content: content}
}

// Plain returns a Text holding plain text content.
func Plain(content string) *Text {
	return &Text{Type: TextPlain, Content: content}
}

// TextContent returns the content of t, or "" when t is nil.
func TextContent(t *Text) string {
	if t == nil {
		return ""
	}
	return t.Content
}

// Custom is one custom field value.
type Custom struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// LinkedWorkItem is a role-tagged reference to another work item.
type LinkedWorkItem struct {
	Role        EnumOption `json:"role"`
	WorkItemURI string     `json:"workItemURI"`
	Suspect     bool       `json:"suspect"`
}

// Hyperlink roles.
const (
	HyperlinkInternal = "internal reference"
	HyperlinkExternal = "external reference"
)

// Hyperlink is a role-tagged external URL.
type Hyperlink struct {
	Role EnumOption `json:"role"`
	URI  string     `json:"uri"`
}

// Approval states.
const (
	ApprovalWaiting     = "waiting"
	ApprovalApproved    = "approved"
	ApprovalDisapproved = "disapproved"
)

// Approval is one approver and the state of their approval.
type Approval struct {
	User   string     `json:"user"`
	Status EnumOption `json:"status"`
}

// Attachment describes a stored file. Its bytes are either inline in Data
// (base64) or reachable by an authenticated GET on URL.
type Attachment struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	Title    string `json:"title"`
	Length   int64  `json:"length"`
	URL      string `json:"url"`
	Data     string `json:"data,omitempty"`
}

// Comment is a comment record as stored on its owner.
type Comment struct {
	URI                 string     `json:"uri"`
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	Text                Text       `json:"text"`
	Author              string     `json:"author"`
	Created             *time.Time `json:"created"`
	Resolved            bool       `json:"resolved"`
	Tags                []string   `json:"tags"`
	ParentCommentURI    string     `json:"parentCommentURI"`
	ChildCommentURIs    []string   `json:"childCommentURIs"`
	ReferredWorkItemURI string     `json:"referredWorkItemURI"`
}

// TestStep is one row of a test step table; Values follow the column order.
type TestStep struct {
	Values []Text `json:"values"`
}

// TestSteps is the test step table of a work item. Keys names the columns.
type TestSteps struct {
	Keys  []EnumOption `json:"keys"`
	Steps []TestStep   `json:"steps"`
}

// TestStepResult is the outcome of one step within a test record.
type TestStepResult struct {
	Result      *EnumOption  `json:"result"`
	Comment     *Text        `json:"comment"`
	Attachments []Attachment `json:"attachments"`
}

// PlanRecord is one work item membership of a plan.
type PlanRecord struct {
	Item string `json:"item"`
}

// WorkflowAction is a workflow transition available from the current status.
type WorkflowAction struct {
	ActionID       int      `json:"actionId"`
	ActionName     string   `json:"actionName"`
	NativeActionID string   `json:"nativeActionId"`
	TargetStatus   string   `json:"targetStatus"`
	RequiredFields []string `json:"requiredFields"`
}

// EnumOptionInfo is an enumeration option with its display name.
type EnumOptionInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
