package types

import "errors"

// Connection and lookup errors.
var (
	ErrAuthentication  = errors.New("authentication failed")
	ErrServiceNotFound = errors.New("service not found")
	ErrNotConnected    = errors.New("session not connected")
)

// Resolution errors. ErrUnresolvableRecord is returned by Flatten; entity
// constructors wrap it together with ErrNotFound.
var (
	ErrNotFound            = errors.New("not found")
	ErrUnresolvableRecord  = errors.New("record is unresolvable")
	ErrUnknownEntityType   = errors.New("unknown entity type")
	ErrMalformedIdentifier = errors.New("malformed identifier")
)

// Entity state errors.
var (
	ErrStaleEntity     = errors.New("entity has been deleted")
	ErrFieldNotAllowed = errors.New("custom field not allowed")
)

// Domain rule errors.
var (
	ErrTypeNotAllowed     = errors.New("work item type not allowed")
	ErrActionNotFound     = errors.New("workflow action not available")
	ErrStatusNotAvailable = errors.New("status not available")
	ErrNoTestSteps        = errors.New("work item has no test steps")
	ErrStepColumns        = errors.New("test step column count mismatch")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrInvalidResult      = errors.New("invalid test result")
	ErrInvalidCommentType = errors.New("comment type must be html or plain")
	ErrInvalidIndex       = errors.New("index out of range")
)
