package optimistic

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by tasks issued after Close.
var ErrClosed = errors.New("optimistic: coordinator closed")

// RemoteError wraps a failed call to the remote authority. Message is the
// remote's error text, meant to be shown to the user as-is.
type RemoteError struct {
	Op      string
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func wrapRemote(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Op: op, Message: err.Error(), Err: err}
}
