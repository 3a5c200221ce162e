package registry

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"

	"github.com/clubroyale/tablecore/internal/protocol"
)

const maxMessageSize = 8192

// Conn wraps one live socket. All writes funnel through a single pump
// goroutine; Send never blocks and a full buffer closes the connection.
type Conn struct {
	sock     Socket
	send     chan *protocol.Message
	pings    chan struct{}
	reasons  chan []byte // queued close frame, written by the pump on shutdown
	playerID string
	tableID  string
	logger   *log.Logger
	clock    quartz.Clock

	writeTimeout time.Duration
	pongWait     time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu           sync.Mutex
	connectedAt  time.Time
	lastPong     time.Time
	missedPings  int
	messageCount int
}

func newConn(sock Socket, tableID, playerID string, cfg Config, clock quartz.Clock, logger *log.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	now := clock.Now()

	c := &Conn{
		sock:         sock,
		send:         make(chan *protocol.Message, cfg.SendBuffer),
		pings:        make(chan struct{}, 1),
		reasons:      make(chan []byte, 1),
		playerID:     playerID,
		tableID:      tableID,
		logger:       logger.WithPrefix("conn").With("player", playerID, "table", tableID),
		clock:        clock,
		writeTimeout: cfg.WriteTimeout,
		pongWait:     cfg.PongWait,
		ctx:          ctx,
		cancel:       cancel,
		connectedAt:  now,
		lastPong:     now,
	}

	sock.SetReadLimit(maxMessageSize)
	_ = sock.SetReadDeadline(now.Add(cfg.PongWait))
	sock.SetPongHandler(func(string) error {
		c.pongReceived()
		return nil
	})

	go c.writePump()
	return c
}

// PlayerID returns the player this connection belongs to.
func (c *Conn) PlayerID() string { return c.playerID }

// TableID returns the table this connection is attached to.
func (c *Conn) TableID() string { return c.tableID }

// ConnectedAt returns when the connection was registered.
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// Done is closed once the connection is shut down.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// ReadMessage blocks on the socket for the next inbound frame. Only the
// server's per-connection read loop may call it.
func (c *Conn) ReadMessage() (*protocol.Message, error) {
	var msg protocol.Message
	if err := c.sock.ReadJSON(&msg); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.messageCount++
	c.mu.Unlock()
	return &msg, nil
}

// MessageCount returns how many frames this connection has received.
func (c *Conn) MessageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messageCount
}

// Send queues a message for delivery. It never blocks: when the buffer is
// full the connection is assumed wedged and closed.
func (c *Conn) Send(msg *protocol.Message) (err error) {
	defer func() {
		// The send channel is closed during shutdown; a Send racing that
		// close is reported like any other dead connection.
		if r := recover(); r != nil {
			c.logger.Debug("send on closed connection", "recover", r)
			err = c.ctx.Err()
		}
	}()

	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn("send buffer full, closing connection")
		_ = c.Close()
		return websocket.ErrCloseSent
	}
}

// Ping queues a liveness probe. A probe already in flight is sufficient.
func (c *Conn) Ping() {
	select {
	case c.pings <- struct{}{}:
	default:
	}
}

func (c *Conn) pongReceived() {
	c.mu.Lock()
	c.lastPong = c.clock.Now()
	c.missedPings = 0
	c.mu.Unlock()
	_ = c.sock.SetReadDeadline(c.clock.Now().Add(c.pongWait))
}

// checkLiveness records one liveness sweep. It returns the consecutive
// miss count, which is zero when the peer answered within staleAfter.
func (c *Conn) checkLiveness(now time.Time, staleAfter time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastPong) > staleAfter {
		c.missedPings++
	} else {
		c.missedPings = 0
	}
	return c.missedPings
}

// Close tears the connection down. Safe to call more than once. The
// socket itself is closed by the pump once it has flushed the close frame.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
	})
	return nil
}

// closeWithReason queues a close frame explaining why before tearing down,
// so well-behaved clients can distinguish "replaced" from a network fault.
// The frame is written by the pump; no other goroutine touches the socket.
func (c *Conn) closeWithReason(code int, reason string) {
	select {
	case c.reasons <- websocket.FormatCloseMessage(code, reason):
	default:
	}
	_ = c.Close()
}

func (c *Conn) writePump() {
	defer func() { _ = c.sock.Close() }()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.sock.SetWriteDeadline(c.clock.Now().Add(c.writeTimeout))
			if !ok {
				c.writeClose()
				return
			}
			if err := c.sock.WriteJSON(msg); err != nil {
				c.logger.Error("write failed", "error", err)
				return
			}

		case <-c.pings:
			_ = c.sock.SetWriteDeadline(c.clock.Now().Add(c.writeTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.sock.SetWriteDeadline(c.clock.Now().Add(c.writeTimeout))
			c.writeClose()
			return
		}
	}
}

func (c *Conn) writeClose() {
	frame := []byte{}
	select {
	case queued := <-c.reasons:
		frame = queued
	default:
	}
	_ = c.sock.WriteMessage(websocket.CloseMessage, frame)
}
