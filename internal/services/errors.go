// Package services defines the business logic for conversations and their
// transcripts. This file centralizes common service-level error values so
// they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer; mapping
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

// ErrConversationNotFound indicates that the requested conversation does
// not exist or is not accessible to the current tenant.
var ErrConversationNotFound = errors.New("conversation not found")
