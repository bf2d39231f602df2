package domain

import "errors"

// Sentinel errors used throughout the relay.
// Callers match them with errors.Is; wrapping adds the offending detail.
var (
	ErrMalformedEvent        = errors.New("malformed event")
	ErrUnrenderable          = errors.New("event has no heading and cannot be rendered")
	ErrUnsupportedSubscriber = errors.New("subscriber is not addressable by this bridge")
	ErrQueueFull             = errors.New("queue is at capacity")
	ErrUserExists            = errors.New("user already exists")
	ErrUserNotFound          = errors.New("user not found")
)
