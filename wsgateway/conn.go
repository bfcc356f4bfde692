// Package wsgateway carries the packet stream over WebSocket. Each binary
// message holds some bytes of the stream; message boundaries carry no meaning,
// so the session reads a websocket exactly like a TCP connection.
package wsgateway

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyberinferno/dotgame/logger"
)

const closeGrace = time.Second

// Conn adapts a *websocket.Conn to a byte stream. Reads must come from a
// single goroutine; writes are serialized internally.
type Conn struct {
	ws      *websocket.Conn
	reader  io.Reader
	writeMu sync.Mutex
}

// Wrap returns a stream view of ws. It works for both server and client
// connections.
func Wrap(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Read returns bytes from the current binary message, moving on to the next
// message when it is exhausted. Text messages are skipped. A normal close
// frame reads as io.EOF.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write sends p as one binary message.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame on a best-effort basis and closes the socket.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))
	c.writeMu.Unlock()

	return c.ws.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

// ServeFunc runs a session over an upgraded connection and returns when the
// session ends.
type ServeFunc func(conn *Conn)

// Handler upgrades HTTP requests to WebSocket and hands each connection to
// Serve.
type Handler struct {
	Upgrader websocket.Upgrader
	Serve    ServeFunc
	Logger   logger.Logger
}

// NewHandler creates a Handler. Every origin is accepted; the game has no
// cookies or credentials to protect.
func NewHandler(log logger.Logger, serve ServeFunc) *Handler {
	return &Handler{
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		Serve:  serve,
		Logger: log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.Logger.Warn("websocket upgrade failed",
			logger.Field{Key: "remote_addr", Value: r.RemoteAddr}, logger.Err(err))
		return
	}

	h.Serve(Wrap(ws))
}
