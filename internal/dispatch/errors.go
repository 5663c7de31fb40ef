package dispatch

import (
	"errors"
	"fmt"

	"morningbot/internal/content"
)

// ErrSend is matched by every SendError.
var ErrSend = errors.New("send failed")

// SendError reports a payload the transport did not deliver.
type SendError struct {
	Kind    content.Kind
	GroupID string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s to %s: %v", e.Kind, e.GroupID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func (e *SendError) Is(target error) bool { return target == ErrSend }
