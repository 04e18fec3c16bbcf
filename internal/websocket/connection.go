package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"livegrade/pkg/types"
)

const (
	writeTimeout   = 5 * time.Second
	sendBufferSize = 100
)

// Connection wraps a gorilla WebSocket connection behind the
// interfaces.Connection boundary. All writes are serialized through a
// single writer goroutine, which is what preserves per-recipient event
// order: events queued by the hub loop drain to the wire in queue
// order.
type Connection struct {
	id         string
	conn       *websocket.Conn
	writeCh    chan []byte
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	writerDone chan struct{}
}

// NewConnection wraps an upgraded WebSocket connection and starts its
// writer goroutine.
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:         uuid.New().String(),
		conn:       conn,
		writeCh:    make(chan []byte, sendBufferSize),
		ctx:        ctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
	}

	go c.writeLoop()
	return c
}

// ID returns the opaque connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// writeLoop is the single writer for the underlying connection.
func (c *Connection) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}

			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.drainPending()
			return
		}
	}
}

// drainPending flushes events queued before Close so a rejection
// reaches the client ahead of the transport teardown.
func (c *Connection) drainPending() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Send queues an event for delivery. Fails once the connection is
// closed or when the send buffer stays full past the write timeout, so
// one slow client cannot wedge the dispatcher.
func (c *Connection) Send(event types.ServerEvent) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		return ErrInvalidEvent
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrSendTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Ping writes a control ping frame directly; used by the handler's
// keepalive ticker.
func (c *Connection) Ping() error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// Close tears down the transport. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		// Give the writer a chance to flush queued events before the
		// socket goes away.
		select {
		case <-c.writerDone:
		case <-time.After(writeTimeout):
		}
		err = c.conn.Close()
	})
	return err
}
