package types

import "errors"

var (
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrInvalidIdentity = errors.New("identity must be a non-empty email address of at most 320 characters")
	ErrUnknownEvent    = errors.New("unknown event")
)
