// Package tcpserver accepts TCP connections and runs one session goroutine per
// connection. What a session does with its connection is up to the
// NewSessionFunc supplied by the caller.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cyberinferno/dotgame/logger"
	"github.com/cyberinferno/dotgame/safemap"
)

// acceptRetryDelay throttles the accept loop after a failed Accept so a
// persistent error (e.g. out of file descriptors) does not spin.
const acceptRetryDelay = 10 * time.Millisecond

// NewSessionFunc creates the session for an accepted connection. It receives
// the id assigned by the server. Returning an error rejects the connection,
// which the server then closes.
type NewSessionFunc func(id string, conn net.Conn) (TCPServerSession, error)

// TCPServer binds Addr, accepts connections, and hands each to a session
// created by NewSession. Live sessions are tracked by id so Stop can close
// them.
type TCPServer struct {
	Logger     logger.Logger
	Name       string
	Addr       string
	Listener   net.Listener
	Sessions   *safemap.SafeMap[string, TCPServerSession]
	Running    atomic.Bool
	NewSession NewSessionFunc
	NewID      func() string

	handlers sync.WaitGroup
	done     chan struct{}
}

// New creates a TCPServer. Session ids are random UUIDs.
//
// Parameters:
//   - name: Name used in log messages
//   - addr: The "host:port" to listen on; port 0 picks a free port
//   - log: Logger for lifecycle and accept errors
//   - newSession: Builds the session for each accepted connection
//
// Returns:
//   - A TCPServer ready for Start
func New(name, addr string, log logger.Logger, newSession NewSessionFunc) *TCPServer {
	return &TCPServer{
		Logger:     log,
		Name:       name,
		Addr:       addr,
		Sessions:   safemap.NewSafeMap[string, TCPServerSession](),
		NewSession: newSession,
		NewID:      uuid.NewString,
	}
}

// Start binds Addr and runs the accept loop in a goroutine.
//
// Returns:
//   - An error if the server is already running or if listening on Addr fails
func (s *TCPServer) Start() error {
	if s.Running.Load() {
		return fmt.Errorf("server %s already running", s.Name)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Err(err))
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.Listener = ln
	s.done = make(chan struct{})
	s.Running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})
	go s.AcceptLoop()

	return nil
}

// ListenAddr returns the bound address, or nil before Start.
func (s *TCPServer) ListenAddr() net.Addr {
	if s.Listener == nil {
		return nil
	}
	return s.Listener.Addr()
}

// Stop closes the listener, closes every live session, and waits for their
// handlers to return or ctx to expire. Safe to call when not running.
//
// Returns:
//   - ctx.Err() if the handlers did not finish in time
func (s *TCPServer) Stop(ctx context.Context) error {
	if !s.Running.CompareAndSwap(true, false) {
		return nil
	}

	_ = s.Listener.Close()
	<-s.done

	s.Sessions.Range(func(id string, session TCPServerSession) bool {
		_ = session.Close()
		return true
	})

	drained := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
		return nil
	case <-ctx.Done():
		s.Logger.Warn(fmt.Sprintf("%s server stopped before sessions drained", s.Name),
			logger.Field{Key: "sessions", Value: s.Sessions.Len()})
		return ctx.Err()
	}
}

// GetSession returns the live session with the given id.
func (s *TCPServer) GetSession(id string) (TCPServerSession, bool) {
	return s.Sessions.Load(id)
}

// AcceptLoop accepts connections until the listener is closed. Each
// connection gets an id, a session from NewSession, and a handler goroutine.
func (s *TCPServer) AcceptLoop() {
	defer close(s.done)

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			if !s.Running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Err(err))
			time.Sleep(acceptRetryDelay)
			continue
		}

		id := s.NewID()
		session, err := s.NewSession(id, conn)
		if err != nil {
			s.Logger.Warn(fmt.Sprintf("%s server rejected connection", s.Name),
				logger.Field{Key: "remote_addr", Value: conn.RemoteAddr().String()}, logger.Err(err))
			_ = conn.Close()
			continue
		}

		s.Sessions.Store(id, session)
		s.handlers.Add(1)
		go s.run(id, session)
	}
}

func (s *TCPServer) run(id string, session TCPServerSession) {
	defer s.handlers.Done()
	defer s.Sessions.Delete(id)

	session.Handle()
}
