// Package dispatch turns "a message arrived" into "is a new job needed". It
// owns the debounce decision: one processing job per burst, not per message.
// This file centralizes the error kinds surfaced to the inbound-message
// caller so transports can map them to user-visible failures consistently.
package dispatch

import "errors"

var (
	// ErrStoreUnavailable indicates the expiring store rejected the buffer
	// write. The message was NOT recorded; the caller must retry or inform
	// the user rather than drop it silently.
	ErrStoreUnavailable = errors.New("buffer store unavailable")

	// ErrDispatchFailure indicates the message was buffered but no
	// processing job could be scheduled for the new burst.
	ErrDispatchFailure = errors.New("could not schedule burst processing")
)
