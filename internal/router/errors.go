package router

import "errors"

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNilMessage        = errors.New("message is nil")
	ErrMissingRoom       = errors.New("message has no room address")
)
