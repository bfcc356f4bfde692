// Package gameserver runs the multiplayer point game: a session state machine
// per connection, over TCP and WebSocket, sharing one registry.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/dotgame/admin"
	"github.com/cyberinferno/dotgame/config"
	"github.com/cyberinferno/dotgame/logger"
	"github.com/cyberinferno/dotgame/metrics"
	"github.com/cyberinferno/dotgame/palette"
	"github.com/cyberinferno/dotgame/registry"
	"github.com/cyberinferno/dotgame/safemap"
	"github.com/cyberinferno/dotgame/tcpserver"
	"github.com/cyberinferno/dotgame/wsgateway"
)

// Transport labels for logs and metrics.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

const httpReadHeaderTimeout = 5 * time.Second

// Options wires a Server. Only Config is required.
type Options struct {
	Config   config.Config
	Logger   logger.Logger
	Registry *registry.Registry
	Colors   *palette.Assigner
	Metrics  *metrics.Metrics
	// Gatherer backs GET /metrics; nil leaves the route off.
	Gatherer prometheus.Gatherer
}

// Server owns the listeners and the shared game state.
type Server struct {
	cfg      config.Config
	log      logger.Logger
	registry *registry.Registry
	colors   *palette.Assigner
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	tcp      *tcpserver.TCPServer
	http     *http.Server
	httpLn   net.Listener
	sessions *safemap.SafeMap[string, *Session]
	// wsMu orders websocket admission against Shutdown: a session is either
	// registered before stopping is set or never registered.
	wsMu     sync.Mutex
	wsWG     sync.WaitGroup
	started  atomic.Bool
	stopping bool
	stopOnce sync.Once
	stopErr  error
}

// New builds a Server from opts, filling in defaults for anything left nil.
func New(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		log:      opts.Logger,
		registry: opts.Registry,
		colors:   opts.Colors,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		sessions: safemap.NewSafeMap[string, *Session](),
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.registry == nil {
		s.registry = registry.New()
	}
	if s.colors == nil {
		s.colors = palette.NewAssigner(nil)
	}

	s.tcp = tcpserver.New("game", s.cfg.ListenAddr, s.log, s.newTCPSession)
	return s
}

// Registry returns the shared game state.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Addr returns the bound game address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.tcp.ListenAddr()
}

// HTTPAddr returns the bound admin address, or nil when HTTP is disabled or
// not started.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

// Start binds the game listener and, when configured, the HTTP listener.
// Both accept loops run in the background. A bind failure is returned and
// nothing is left running.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("game server already started")
	}

	if err := s.tcp.Start(); err != nil {
		return err
	}

	if s.cfg.HTTPAddr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		_ = s.tcp.Stop(context.Background())
		return fmt.Errorf("admin server failed to start: %w", err)
	}
	s.httpLn = ln
	s.http = &http.Server{
		Handler: admin.NewRouter(admin.Options{
			State:     s.registry,
			Colors:    s.colors,
			Gatherer:  s.gatherer,
			WebSocket: wsgateway.NewHandler(s.log, s.ServeWebSocket),
			Logger:    s.log,
		}),
		ReadHeaderTimeout: httpReadHeaderTimeout,
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin server stopped", logger.Err(err))
		}
	}()
	s.log.Info("admin server started", logger.Field{Key: "addr", Value: ln.Addr().String()})

	return nil
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// within the configured grace period.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	s.log.Info("shutting down", logger.Field{Key: "grace", Value: s.cfg.ShutdownGrace.String()})

	grace, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	return s.Shutdown(grace)
}

// Shutdown stops accepting, closes every live session and waits for their
// disconnect handling to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.wsMu.Lock()
		s.stopping = true
		s.wsMu.Unlock()

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return s.tcp.Stop(gctx)
		})

		if s.http != nil {
			g.Go(func() error {
				// Hijacked websocket connections are not tracked by
				// http.Server; they are closed below.
				return s.http.Shutdown(gctx)
			})
		}

		g.Go(func() error {
			s.sessions.Range(func(_ string, sess *Session) bool {
				if sess.transport == TransportWebSocket {
					_ = sess.Close()
				}
				return true
			})
			return waitGroup(gctx, &s.wsWG)
		})

		s.stopErr = g.Wait()
	})
	return s.stopErr
}

// ServeWebSocket runs a session over an upgraded websocket connection. It
// returns when the session ends.
func (s *Server) ServeWebSocket(conn *wsgateway.Conn) {
	s.wsMu.Lock()
	if s.stopping {
		s.wsMu.Unlock()
		_ = conn.Close()
		return
	}
	s.wsWG.Add(1)
	sess, err := s.register(uuid.NewString(), TransportWebSocket, conn)
	s.wsMu.Unlock()
	defer s.wsWG.Done()

	if err != nil {
		s.log.Warn("rejected websocket session", logger.Err(err))
		_ = conn.Close()
		return
	}
	sess.Handle()
}

func (s *Server) newTCPSession(id string, conn net.Conn) (tcpserver.TCPServerSession, error) {
	sess, err := s.register(id, TransportTCP, conn)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// register creates a session and adds it to the registry before its read
// loop starts, so it receives every broadcast from then on.
func (s *Server) register(id, transport string, conn Conn) (*Session, error) {
	sess := newSession(id, transport, conn, s)
	if err := s.registry.AddSession(sess); err != nil {
		return nil, err
	}
	s.sessions.Store(id, sess)
	s.metrics.SessionOpened(transport)
	return sess, nil
}

// forget drops a closed session from the server's own table.
func (s *Server) forget(id string) {
	s.sessions.Delete(id)
}

// broadcast records delivery results and logs failed writes.
func (s *Server) broadcast(what string, res registry.Result) {
	s.metrics.BroadcastWrites(res.Delivered, res.Failed)
	if res.Err != nil {
		s.log.Warn("broadcast incomplete",
			logger.Field{Key: "event", Value: what},
			logger.Field{Key: "delivered", Value: res.Delivered},
			logger.Field{Key: "failed", Value: res.Failed},
			logger.Err(res.Err))
	}
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
