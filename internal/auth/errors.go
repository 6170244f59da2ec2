package auth

import "errors"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotConnected    = errors.New("not_connected")
	ErrAuthEmpty       = errors.New("empty_auth")
	ErrTokenInvalid    = errors.New("tokenError")
	ErrEmptySecret     = errors.New("token secret cannot be empty")
)
