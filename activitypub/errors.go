package activitypub

import (
	"errors"
	"fmt"
)

// Error taxonomy for inbound processing. The web layer maps these onto
// response codes; handlers wrap them with context via fmt.Errorf("%w").
var (
	// ErrBadActivity is a structural or ownership violation by the sender.
	// The activity is rejected before any state change.
	ErrBadActivity = errors.New("bad activity")

	// ErrNotFound means a referenced object affirmatively does not exist,
	// locally or on the remote server that owns it.
	ErrNotFound = errors.New("object not found")

	// ErrResolveFailed is a transient remote-fetch failure. The delivery is
	// reported failed so the sender retries it.
	ErrResolveFailed = errors.New("resolution failed")
)

func badActivity(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrBadActivity, fmt.Sprintf(format, args...))
}
