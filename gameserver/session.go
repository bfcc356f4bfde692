package gameserver

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/dotgame/event"
	"github.com/cyberinferno/dotgame/logger"
	"github.com/cyberinferno/dotgame/xpacket"
)

// colorLookupTimeout bounds a color memory round trip during a join.
const colorLookupTimeout = 2 * time.Second

// State is where a session is in its lifecycle.
type State int32

const (
	StateUnidentified State = iota // Connected, no username yet
	StateIdentified                // Username and color known
	StateClosed                    // Terminal
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUnidentified:
		return "Unidentified"
	case StateIdentified:
		return "Identified"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Conn is the byte stream a session runs over. *net.TCPConn and the
// websocket gateway's connection both satisfy it.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
	SetWriteDeadline(t time.Time) error
}

// errLeave ends the read loop after a client asked to leave.
var errLeave = errors.New("client left")

// Session is the server side of one client connection. Only the read loop
// touches username and color; Send may be called from any goroutine.
type Session struct {
	id        string
	transport string
	conn      Conn
	server    *Server
	log       logger.Logger
	// plog is log plus the username once known. Read loop only.
	plog logger.Logger

	state    atomic.Int32
	username string
	color    string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newSession(id, transport string, conn Conn, srv *Server) *Session {
	log := srv.log.With(
		logger.Field{Key: "session_id", Value: id},
		logger.Field{Key: "remote_addr", Value: conn.RemoteAddr().String()},
		logger.Field{Key: "transport", Value: transport},
	)
	return &Session{
		id:        id,
		transport: transport,
		conn:      conn,
		server:    srv,
		log:       log,
		plog:      log,
	}
}

// ID implements registry.Peer and tcpserver.TCPServerSession.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Send writes one encoded packet. Writes are serialized so packets from
// concurrent broadcasts never interleave. A failed write closes the
// connection; the read loop then notices and runs the disconnect path.
func (s *Session) Send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() == StateClosed {
		return net.ErrClosed
	}

	if timeout := s.server.cfg.WriteTimeout; timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	}

	if _, err := s.conn.Write(data); err != nil {
		s.log.Warn("write failed, closing session", logger.Err(err))
		_ = s.Close()
		return err
	}

	return nil
}

// Close closes the connection, which unblocks a pending read. It is safe to
// call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Handle runs the read loop until the stream ends, then performs the
// disconnect transition.
func (s *Session) Handle() {
	defer s.finish()

	s.plog.Info("session opened")

	reader := xpacket.NewReader(&countingReader{r: s.conn, srv: s.server}, s.server.cfg.ReadBufferSize, s.server.cfg.MaxPacketBody)
	for {
		ev, err := reader.ReadEvent()
		if err != nil {
			if xpacket.IsMalformed(err) {
				s.server.metrics.PacketMalformed()
				s.plog.Warn("dropping malformed packet", logger.Err(err))
				continue
			}
			s.logReadEnd(err)
			return
		}

		s.server.metrics.PacketReceived(ev.Kind.String())
		if err := s.handle(ev); err != nil {
			if errors.Is(err, errLeave) {
				s.plog.Info("client requested disconnect")
			}
			return
		}
	}
}

func (s *Session) logReadEnd(err error) {
	switch {
	case errors.Is(err, io.EOF):
		s.plog.Info("client closed connection")
	case errors.Is(err, net.ErrClosed):
		s.plog.Info("connection closed by server")
	default:
		s.plog.Warn("read failed", logger.Err(err))
	}
}

func (s *Session) handle(ev event.Event) error {
	switch ev.Kind {
	case event.KindPlayerConnected:
		s.identify(ev)
	case event.KindPointPlaced:
		s.placePoint(ev)
	case event.KindPlayerDisconnected:
		return errLeave
	}
	return nil
}

func (s *Session) identify(ev event.Event) {
	if ev.Username == "" {
		s.plog.Warn("ignoring PlayerConnected without username")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), colorLookupTimeout)
	color, err := s.server.colors.Assign(ctx, ev.Username, ev.Color)
	cancel()
	if err != nil {
		s.server.metrics.ColorStoreError()
		s.plog.Warn("color memory unavailable", logger.Err(err))
	}

	snap, err := s.server.registry.Identify(s.id, ev.Username, color)
	if err != nil {
		s.plog.Error("identify failed", logger.Err(err))
		return
	}

	if s.State() == StateIdentified && s.username != ev.Username {
		s.plog.Info("session renamed", logger.Field{Key: "previous", Value: s.username})
	}
	s.username, s.color = ev.Username, color
	s.state.CompareAndSwap(int32(StateUnidentified), int32(StateIdentified))
	s.plog = s.log.With(logger.Field{Key: "username", Value: s.username})
	s.plog.Info("player joined",
		logger.Field{Key: "color", Value: color},
		logger.Field{Key: "players", Value: len(snap.Players)})

	s.server.metrics.SetPlayers(len(snap.Players))
	s.server.broadcast("join", s.server.registry.BroadcastAll(event.Event{
		Kind:         event.KindPlayerConnected,
		SessionID:    s.id,
		Username:     s.username,
		Color:        s.color,
		Players:      snap.Players,
		PlayerColors: snap.PlayerColors,
		Points:       snap.Points,
	}))
}

func (s *Session) placePoint(ev event.Event) {
	if s.State() != StateIdentified {
		s.plog.Info("point placed before PlayerConnected, storing without owner")
	}

	p, err := s.server.registry.PlacePoint(s.id, ev.X, ev.Y)
	if err != nil {
		s.plog.Error("place point failed", logger.Err(err))
		return
	}

	s.plog.Debug("point placed",
		logger.Field{Key: "x", Value: p.X},
		logger.Field{Key: "y", Value: p.Y})
	s.server.metrics.SetPoints(s.server.registry.PointCount())
	s.server.broadcast("point", s.server.registry.BroadcastExcept(event.Event{
		Kind:      event.KindPointPlaced,
		SessionID: s.id,
		Username:  p.Username,
		X:         p.X,
		Y:         p.Y,
		Color:     p.Color,
	}, s.id))
}

// finish runs exactly once per session when the read loop ends.
func (s *Session) finish() {
	s.writeMu.Lock()
	s.state.Store(int32(StateClosed))
	s.writeMu.Unlock()
	_ = s.Close()

	srv := s.server
	srv.forget(s.id)
	srv.metrics.SessionClosed(s.transport)

	member, ok := srv.registry.RemoveSession(s.id)
	if !ok || !member.Identified {
		s.plog.Info("session closed")
		return
	}

	if srv.cfg.PurgeOnDisconnect {
		purged := srv.registry.RemovePointsOf(member.Username)
		srv.metrics.PointsPurged(purged)
		s.plog.Info("purged points", logger.Field{Key: "points", Value: purged})
	}
	srv.metrics.SetPlayers(srv.registry.PlayerCount())
	srv.metrics.SetPoints(srv.registry.PointCount())

	srv.broadcast("leave", srv.registry.BroadcastExcept(event.Disconnected(s.id, member.Username), s.id))
	s.plog.Info("player left")
}

// countingReader feeds the bytes-received metric.
type countingReader struct {
	r   io.Reader
	srv *Server
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.srv.metrics.BytesReceived(n)
	return n, err
}
