package interfaces

// Connection is the outbound side of a client channel.
// FUNCTIONAL DISCOVERY: WriteJSON must be safe to call from any goroutine;
// implementations serialize writes behind a single writer.
type Connection interface {
	WriteJSON(v interface{}) error
	Close() error

	// GetID returns an opaque id unique per physical connection.
	GetID() string
}
