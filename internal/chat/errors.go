package chat

import "fmt"

// ValidationError is returned when an outbound message or attachment is
// rejected before any network call is made. Reason is user-facing.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UploadError is returned when the server rejects a submitted message.
// If TempID is non-zero the optimistic echo with that id has been removed.
type UploadError struct {
	TempID int64
	Type   Type
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s message failed: %v", e.Type, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
