package ws

import (
	"errors"
	"sync"

	"log/slog"

	"github.com/gorilla/websocket"
)

const defaultSendBuffer = 100

var (
	errClientClosed = errors.New("ws: client closed")
	errSlowClient   = errors.New("ws: send buffer full")
)

// Client represents a websocket client connection. Writes go through a
// buffered channel drained by a single pump goroutine; gorilla connections
// do not allow concurrent writers.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewClient constructs a client wrapper with the given send buffer size and
// starts its write pump.
func NewClient(conn *websocket.Conn, logger *slog.Logger, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	c := &Client{
		conn: conn,
		log:  logger,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *Client) writePump() {
	for {
		select {
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Send queues a message for the connection. A full buffer fails immediately;
// the hub drops subscribers that cannot keep up rather than stalling the
// broadcast loop.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSlowClient
	}
}

// Close terminates the connection and stops the write pump.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
