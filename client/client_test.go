package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/dotgame/config"
	"github.com/cyberinferno/dotgame/event"
	"github.com/cyberinferno/dotgame/gameserver"
	"github.com/cyberinferno/dotgame/xpacket"
)

const waitFor = 2 * time.Second

func startGame(t *testing.T) string {
	t.Helper()

	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.HTTPAddr = ""
	s := gameserver.New(gameserver.Options{Config: cfg})
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s.Addr().String()
}

func newClient(t *testing.T, cfg Config) (*Client, chan event.Event) {
	t.Helper()

	c := New(cfg)
	events := make(chan event.Event, 64)
	c.OnEvent(func(ev event.Event) { events <- ev })
	t.Cleanup(func() { _ = c.Close() })
	return c, events
}

func receive(t *testing.T, events chan event.Event) event.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(waitFor):
		t.Fatal("no event received")
		return event.Event{}
	}
}

func TestClient_JoinAndPlace(t *testing.T) {
	addr := startGame(t)

	alice, aliceEvents := newClient(t, DefaultConfig(addr))
	require.NoError(t, alice.Connect())
	require.NoError(t, alice.Join("alice", "#FF0000"))
	joined := receive(t, aliceEvents)
	assert.Equal(t, event.KindPlayerConnected, joined.Kind)
	assert.Equal(t, []string{"alice"}, joined.Players)

	bob, bobEvents := newClient(t, DefaultConfig(addr))
	require.NoError(t, bob.Connect())
	require.NoError(t, bob.Join("bob", ""))
	own := receive(t, bobEvents)
	assert.Equal(t, []string{"alice", "bob"}, own.Players)
	assert.True(t, event.IsColor(own.Color))
	assert.Equal(t, "bob", receive(t, aliceEvents).Username)

	require.NoError(t, alice.Place(7, 8))
	got := receive(t, bobEvents)
	assert.Equal(t, event.KindPointPlaced, got.Kind)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, 7, got.X)
	assert.Equal(t, 8, got.Y)

	require.NoError(t, bob.Leave())
	left := receive(t, aliceEvents)
	assert.Equal(t, event.KindPlayerDisconnected, left.Kind)
	assert.Equal(t, "bob", left.Username)
	assert.Equal(t, Disconnected, bob.GetState())
}

func TestClient_SendWhenDisconnected(t *testing.T) {
	c := New(DefaultConfig("127.0.0.1:1"))
	assert.ErrorIs(t, c.Place(1, 2), ErrNotConnected)
}

func TestClient_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := New(DefaultConfig(addr))
	errs := make(chan ErrorEvent, 1)
	c.OnError(func(ev ErrorEvent) { errs <- ev })

	assert.Error(t, c.Connect())
	assert.Equal(t, Disconnected, c.GetState())
	select {
	case ev := <-errs:
		assert.Error(t, ev.Error)
	case <-time.After(waitFor):
		t.Fatal("no error event")
	}
}

func TestClient_CloseIsFinal(t *testing.T) {
	addr := startGame(t)

	c := New(DefaultConfig(addr))
	require.NoError(t, c.Connect())
	assert.ErrorIs(t, c.Connect(), ErrAlreadyConnected)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.GetState())
	assert.ErrorIs(t, c.Connect(), ErrClosed)
}

// fakeServer accepts connections one at a time and reports each decoded
// event along with the connection it came from.
type fakeServer struct {
	ln     net.Listener
	events chan received
	mu     sync.Mutex
	conns  []net.Conn
}

type received struct {
	conn int
	ev   event.Event
}

func startFake(t *testing.T) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeServer{ln: ln, events: make(chan received, 64)}
	t.Cleanup(func() {
		_ = ln.Close()
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, c := range f.conns {
			_ = c.Close()
		}
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.conns = append(f.conns, conn)
			idx := len(f.conns) - 1
			f.mu.Unlock()

			go func() {
				r := xpacket.NewReader(conn, 0, 0)
				for {
					ev, err := r.ReadEvent()
					if err != nil {
						return
					}
					f.events <- received{conn: idx, ev: ev}
				}
			}()
		}
	}()
	return f
}

func (f *fakeServer) conn(i int) net.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *fakeServer) next(t *testing.T) received {
	t.Helper()
	select {
	case r := <-f.events:
		return r
	case <-time.After(waitFor):
		t.Fatal("fake server received nothing")
		return received{}
	}
}

func TestClient_AutoReconnectRejoins(t *testing.T) {
	f := startFake(t)

	cfg := DefaultConfig(f.ln.Addr().String())
	cfg.AutoReconnect = true
	cfg.ReconnectInterval = 20 * time.Millisecond
	c, _ := newClient(t, cfg)

	require.NoError(t, c.Connect())
	require.NoError(t, c.Join("alice", "#123456"))

	first := f.next(t)
	assert.Equal(t, 0, first.conn)
	assert.Equal(t, "alice", first.ev.Username)

	// Drop the connection from the server side.
	require.NoError(t, f.conn(0).Close())

	again := f.next(t)
	assert.Equal(t, 1, again.conn)
	assert.Equal(t, event.KindPlayerConnected, again.ev.Kind)
	assert.Equal(t, "alice", again.ev.Username)
	assert.Equal(t, "#123456", again.ev.Color)

	assert.Eventually(t, c.IsConnected, waitFor, 5*time.Millisecond)
}

func TestClient_DropWithoutReconnect(t *testing.T) {
	f := startFake(t)

	c, _ := newClient(t, DefaultConfig(f.ln.Addr().String()))

	require.NoError(t, c.Connect())
	require.NoError(t, c.Join("alice", ""))
	f.next(t)

	require.NoError(t, f.conn(0).Close())
	assert.Eventually(t, func() bool { return c.GetState() == Disconnected }, waitFor, 5*time.Millisecond)
}

func TestClient_SkipsMalformedPackets(t *testing.T) {
	f := startFake(t)

	c, events := newClient(t, DefaultConfig(f.ln.Addr().String()))
	errs := make(chan error, 4)
	c.OnError(func(ev ErrorEvent) { errs <- ev.Error })

	require.NoError(t, c.Connect())
	require.NoError(t, c.Join("alice", ""))
	f.next(t)

	data, err := xpacket.EncodeEvent(event.Disconnected("s-1", "bob"))
	require.NoError(t, err)
	_, err = f.conn(0).Write(append([]byte{0x00, 0x01, 0x02}, data...))
	require.NoError(t, err)

	ev := receive(t, events)
	assert.Equal(t, event.KindPlayerDisconnected, ev.Kind)
	assert.Equal(t, "bob", ev.Username)

	select {
	case err := <-errs:
		assert.True(t, xpacket.IsMalformed(err))
	case <-time.After(waitFor):
		t.Fatal("no malformed error reported")
	}
}

func TestConnectionState_String(t *testing.T) {
	for state, want := range map[ConnectionState]string{
		Disconnected:        "Disconnected",
		Connecting:          "Connecting",
		Connected:           "Connected",
		Reconnecting:        "Reconnecting",
		Closed:              "Closed",
		ConnectionState(42): "Unknown",
	} {
		assert.Equal(t, want, state.String())
	}
}
