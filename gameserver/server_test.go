package gameserver

import (
	"context"
	"net"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/dotgame/config"
	"github.com/cyberinferno/dotgame/event"
	"github.com/cyberinferno/dotgame/logger"
	"github.com/cyberinferno/dotgame/metrics"
	"github.com/cyberinferno/dotgame/wsgateway"
	"github.com/cyberinferno/dotgame/xpacket"
)

const (
	readTimeout = 2 * time.Second
	quietPeriod = 150 * time.Millisecond
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.HTTPAddr = ""
	cfg.ShutdownGrace = time.Second
	return cfg
}

func startServer(t *testing.T, cfg config.Config, opts ...func(*Options)) *Server {
	t.Helper()

	o := Options{Config: cfg}
	for _, fn := range opts {
		fn(&o)
	}
	s := New(o)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

type player struct {
	t      *testing.T
	conn   net.Conn
	reader *xpacket.Reader
}

func connect(t *testing.T, s *Server) *player {
	t.Helper()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &player{t: t, conn: conn, reader: xpacket.NewReader(conn, 0, 0)}
}

func (p *player) send(ev event.Event) {
	p.t.Helper()
	data, err := xpacket.EncodeEvent(ev)
	require.NoError(p.t, err)
	_, err = p.conn.Write(data)
	require.NoError(p.t, err)
}

func (p *player) next() event.Event {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	ev, err := p.reader.ReadEvent()
	require.NoError(p.t, err)
	return ev
}

// quiet asserts nothing arrives for a short while.
func (p *player) quiet() {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(quietPeriod)))
	ev, err := p.reader.ReadEvent()
	require.Error(p.t, err, "unexpected event %+v", ev)
	assert.ErrorIs(p.t, err, os.ErrDeadlineExceeded)
}

// join announces name and consumes the player's own join broadcast.
func (p *player) join(name, color string) event.Event {
	p.t.Helper()
	p.send(event.Connected(name, color))
	ev := p.next()
	require.Equal(p.t, event.KindPlayerConnected, ev.Kind)
	require.Equal(p.t, name, ev.Username)
	return ev
}

func TestServer_JoinSnapshot(t *testing.T) {
	s := startServer(t, testConfig())

	alice := connect(t, s)
	first := alice.join("alice", "#FF0000")
	assert.Equal(t, []string{"alice"}, first.Players)
	assert.Equal(t, "#FF0000", first.Color)
	assert.NotEmpty(t, first.SessionID)

	bob := connect(t, s)
	own := bob.join("bob", "not-a-color")
	assert.True(t, event.IsColor(own.Color))
	assert.Equal(t, []string{"alice", "bob"}, own.Players)
	assert.Equal(t, map[string]string{"alice": "#FF0000", "bob": own.Color}, own.PlayerColors)

	seen := alice.next()
	assert.Equal(t, event.KindPlayerConnected, seen.Kind)
	assert.Equal(t, "bob", seen.Username)
	assert.Equal(t, own.SessionID, seen.SessionID)
	assert.Equal(t, own.Players, seen.Players)
}

func TestServer_PointIsRelayedToOthersOnly(t *testing.T) {
	s := startServer(t, testConfig())

	alice := connect(t, s)
	alice.join("alice", "#FF0000")
	bob := connect(t, s)
	bob.join("bob", "#0000FF")
	alice.next() // bob's join

	alice.send(event.Placed(10, -20))

	got := bob.next()
	assert.Equal(t, event.KindPointPlaced, got.Kind)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, 10, got.X)
	assert.Equal(t, -20, got.Y)
	assert.Equal(t, "#FF0000", got.Color)

	alice.quiet()

	assert.Equal(t, []event.Point{{Username: "alice", X: 10, Y: -20, Color: "#FF0000"}}, s.Registry().AllPoints())
}

func TestServer_LateJoinerGetsPoints(t *testing.T) {
	s := startServer(t, testConfig())

	alice := connect(t, s)
	alice.join("alice", "#FF0000")
	alice.send(event.Placed(1, 1))
	alice.send(event.Placed(2, 2))
	require.Eventually(t, func() bool { return s.Registry().PointCount() == 2 }, readTimeout, 5*time.Millisecond)

	bob := connect(t, s)
	snap := bob.join("bob", "#0000FF")
	assert.Equal(t, []event.Point{
		{Username: "alice", X: 1, Y: 1, Color: "#FF0000"},
		{Username: "alice", X: 2, Y: 2, Color: "#FF0000"},
	}, snap.Points)
}

func TestServer_DisconnectBroadcastOnce(t *testing.T) {
	s := startServer(t, testConfig())

	alice := connect(t, s)
	alice.join("alice", "#FF0000")
	bob := connect(t, s)
	bobJoin := bob.join("bob", "#0000FF")
	alice.next()

	require.NoError(t, bob.conn.Close())

	left := alice.next()
	assert.Equal(t, event.KindPlayerDisconnected, left.Kind)
	assert.Equal(t, "bob", left.Username)
	assert.Equal(t, bobJoin.SessionID, left.SessionID)
	alice.quiet()

	assert.Equal(t, []string{"alice"}, s.Registry().Players())
	require.Eventually(t, func() bool { return s.Registry().Len() == 1 }, readTimeout, 5*time.Millisecond)
}

func TestServer_UnidentifiedDisconnectIsSilent(t *testing.T) {
	s := startServer(t, testConfig())

	alice := connect(t, s)
	alice.join("alice", "#FF0000")

	lurker := connect(t, s)
	require.Eventually(t, func() bool { return s.Registry().Len() == 2 }, readTimeout, 5*time.Millisecond)
	require.NoError(t, lurker.conn.Close())

	require.Eventually(t, func() bool { return s.Registry().Len() == 1 }, readTimeout, 5*time.Millisecond)
	alice.quiet()
}

func TestServer_ClientLeave(t *testing.T) {
	s := startServer(t, testConfig())

	alice := connect(t, s)
	alice.join("alice", "#FF0000")
	bob := connect(t, s)
	bob.join("bob", "#0000FF")
	alice.next()

	bob.send(event.Disconnected("", "bob"))

	left := alice.next()
	assert.Equal(t, event.KindPlayerDisconnected, left.Kind)
	assert.Equal(t, "bob", left.Username)

	// The server hangs up on the leaving client.
	require.NoError(t, bob.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, err := bob.reader.ReadEvent()
	assert.Error(t, err)
}

func TestServer_MalformedPacketKeepsSession(t *testing.T) {
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg, "gs_test")
	s := startServer(t, testConfig(), func(o *Options) { o.Metrics = m })

	alice := connect(t, s)
	alice.join("alice", "#FF0000")
	bob := connect(t, s)
	bob.join("bob", "#0000FF")
	alice.next()

	_, err := alice.conn.Write([]byte{0x01, 0x02, 0x03, 0xFF})
	require.NoError(t, err)
	alice.send(event.Placed(5, 6))

	got := bob.next()
	assert.Equal(t, event.KindPointPlaced, got.Kind)
	assert.Equal(t, 5, got.X)
	assert.GreaterOrEqual(t, counterValue(t, promReg, "gs_test_packets_malformed_total"), 1.0)
}

func counterValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func TestServer_PointBeforeJoinStoredAndRelayed(t *testing.T) {
	s := startServer(t, testConfig())

	bob := connect(t, s)
	bob.join("bob", "#0000FF")

	early := connect(t, s)
	early.send(event.Placed(7, 9))

	got := bob.next()
	assert.Equal(t, event.KindPointPlaced, got.Kind)
	assert.Empty(t, got.Username)
	assert.Empty(t, got.Color)
	assert.Equal(t, 7, got.X)
	assert.Equal(t, 9, got.Y)
	assert.Equal(t, []event.Point{{X: 7, Y: 9}}, s.Registry().AllPoints())

	snap := early.join("alice", "#00FF00")
	assert.Equal(t, []event.Point{{X: 7, Y: 9}}, snap.Points)
	assert.Equal(t, "alice", bob.next().Username)

	// The sender never gets its own point back.
	early.send(event.Placed(1, 2))
	assert.Equal(t, "alice", bob.next().Username)
	early.quiet()
}

func TestServer_EmptyUsernameIgnored(t *testing.T) {
	s := startServer(t, testConfig())

	p := connect(t, s)
	p.send(event.Connected("", "#FF0000"))
	p.quiet()
	assert.Empty(t, s.Registry().Players())
}

func TestServer_PurgeOnDisconnect(t *testing.T) {
	cfg := testConfig()
	cfg.PurgeOnDisconnect = true
	s := startServer(t, cfg)

	alice := connect(t, s)
	alice.join("alice", "#FF0000")
	bob := connect(t, s)
	bob.join("bob", "#0000FF")
	alice.next()

	alice.send(event.Placed(1, 1))
	bob.send(event.Placed(2, 2))
	alice.next()
	bob.next()

	require.NoError(t, alice.conn.Close())
	bob.next() // alice left

	assert.Equal(t, []event.Point{{Username: "bob", X: 2, Y: 2, Color: "#0000FF"}}, s.Registry().AllPoints())
}

func TestServer_PointsRetainedByDefault(t *testing.T) {
	s := startServer(t, testConfig())

	alice := connect(t, s)
	alice.join("alice", "#FF0000")
	bob := connect(t, s)
	bob.join("bob", "#0000FF")
	alice.next()

	alice.send(event.Placed(1, 1))
	bob.next()
	require.NoError(t, alice.conn.Close())
	bob.next()

	assert.Equal(t, 1, s.Registry().PointCount())
}

func TestServer_WebSocketSharesBoard(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	s := startServer(t, cfg)

	alice := connect(t, s)
	alice.join("alice", "#FF0000")

	url := "ws://" + s.HTTPAddr().String() + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	conn := wsgateway.Wrap(ws)
	defer conn.Close()

	data, err := xpacket.EncodeEvent(event.Connected("webby", "#00FF00"))
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(readTimeout)))
	reader := xpacket.NewReader(conn, 0, 0)
	own, err := reader.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "webby"}, own.Players)

	seen := alice.next()
	assert.Equal(t, "webby", seen.Username)

	alice.send(event.Placed(3, 4))
	got, err := reader.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, 3, got.X)
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	s := New(Options{Config: testConfig()})
	require.NoError(t, s.Start())

	alice := connect(t, s)
	alice.join("alice", "#FF0000")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	require.NoError(t, alice.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, err := alice.reader.ReadEvent()
	assert.Error(t, err)
	assert.Zero(t, s.Registry().Len())

	// Idempotent.
	assert.NoError(t, s.Shutdown(context.Background()))
}

func wsGateway(t *testing.T, s *Server) string {
	t.Helper()

	hs := httptest.NewServer(wsgateway.NewHandler(logger.Nop(), s.ServeWebSocket))
	t.Cleanup(hs.Close)
	return "ws" + strings.TrimPrefix(hs.URL, "http")
}

func TestServer_WebSocketAfterShutdownRejected(t *testing.T) {
	s := New(Options{Config: testConfig()})
	require.NoError(t, s.Start())
	url := wsGateway(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, s.Registry().Len())
}

func TestServer_WebSocketRacingShutdownLeavesNoSession(t *testing.T) {
	s := New(Options{Config: testConfig()})
	require.NoError(t, s.Start())
	url := wsGateway(t, s)

	const clients = 20
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns []*websocket.Conn
	)
	t.Cleanup(func() {
		for _, c := range conns {
			_ = c.Close()
		}
	})

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, ws)
			mu.Unlock()
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	wg.Wait()

	// Every admitted session was closed and awaited by Shutdown; every later
	// one was turned away before registering.
	assert.Zero(t, s.Registry().Len())
	assert.Zero(t, s.sessions.Len())
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := New(Options{Config: testConfig()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, readTimeout, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(readTimeout):
		t.Fatal("Run did not return")
	}
}

func TestServer_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig()
	cfg.ListenAddr = ln.Addr().String()
	err = New(Options{Config: cfg}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to start"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Unidentified", StateUnidentified.String())
	assert.Equal(t, "Identified", StateIdentified.String())
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Unknown", State(9).String())
}
