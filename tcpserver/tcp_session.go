package tcpserver

// TCPServerSession is implemented by each connection session. The server
// creates one per accepted connection and runs Handle in its own goroutine.
type TCPServerSession interface {
	// ID returns the identifier the server assigned at accept time.
	ID() string

	// Handle runs the session's read loop until the connection closes. It
	// must release the connection before returning.
	Handle()

	// Close closes the connection, unblocking Handle. It must be safe to call
	// multiple times and from any goroutine.
	Close() error
}
