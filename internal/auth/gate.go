package auth

import "errors"

// Handshake failure types reported to the client before the upgrade.
const (
	HandshakeNotConnected = "not_connected"
	HandshakeAuthEmpty    = "authEmpty"
	HandshakeTokenError   = "tokenError"
	HandshakeForbidden    = "forbiddenAccess"
)

// Credentials are presented when a real-time connection is opened. A nil
// Token means no token field was sent at all.
type Credentials struct {
	Email string
	Token *string
}

// AuthenticateHandshake admits a connection. It returns the verified email
// or one of ErrNotConnected, ErrAuthEmpty, ErrTokenInvalid, ErrForbidden.
func (a *Authority) AuthenticateHandshake(creds *Credentials) (string, error) {
	if creds == nil {
		return "", ErrNotConnected
	}
	if creds.Token == nil || StripBearer(*creds.Token) == "" {
		return "", ErrAuthEmpty
	}
	email, err := a.Verify(*creds.Token)
	if err != nil {
		return "", err
	}
	if creds.Email != email {
		return "", ErrForbidden
	}
	return email, nil
}

// AuthorizeEvent re-verifies the token carried by a single real-time event.
// Any verification failure, including a missing token, is reported as
// ErrUnauthenticated; a valid token for another identity is ErrForbidden.
func (a *Authority) AuthorizeEvent(token, claimedEmail string) (string, error) {
	if StripBearer(token) == "" {
		return "", ErrUnauthenticated
	}
	email, err := a.Verify(token)
	if err != nil {
		return "", ErrUnauthenticated
	}
	if claimedEmail != email {
		return "", ErrForbidden
	}
	return email, nil
}

// HandshakeType maps a handshake error to the type sent to the client.
func HandshakeType(err error) string {
	switch {
	case errors.Is(err, ErrNotConnected):
		return HandshakeNotConnected
	case errors.Is(err, ErrAuthEmpty):
		return HandshakeAuthEmpty
	case errors.Is(err, ErrForbidden):
		return HandshakeForbidden
	default:
		return HandshakeTokenError
	}
}
