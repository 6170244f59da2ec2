package interfaces

// Connection is a live client connection.
type Connection interface {
	// WriteJSON queues v for delivery. Safe for concurrent use.
	WriteJSON(v interface{}) error

	Close() error

	// ID is unique per connection, even for the same identity.
	ID() string

	// Identity returns the email admitted by the handshake.
	Identity() string

	IsAuthenticated() bool
}
