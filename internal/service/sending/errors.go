package sending

import "errors"

// Sentinel errors shared by store implementations.
var (
	ErrMessageNotFound = errors.New("message not found")
	ErrContactNotFound = errors.New("contact not found")
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrDuplicate       = errors.New("message already exists")
)
