package service

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	commonlog "chat_server/server/common/log"
)

// Peer is one live duplex connection. Send queues an event without
// blocking and reports false when the peer's buffer is full or the peer
// is closed; a false return means the peer must be treated as
// unresponsive.
type Peer interface {
	Send(event any) bool
	Close()
}

const (
	DefaultSendBufferSize = 64
	writeTimeout          = 5 * time.Second
)

// WSClient pairs a websocket connection with a bounded outbound queue
// drained by a single writer goroutine, so a slow reader can never block
// a sender's event loop.
type WSClient struct {
	UserID string

	conn      *websocket.Conn
	send      chan any
	closeOnce sync.Once
	done      chan struct{}
}

func NewWSClient(userID string, conn *websocket.Conn, bufferSize int) *WSClient {
	if bufferSize <= 0 {
		bufferSize = DefaultSendBufferSize
	}
	c := &WSClient{
		UserID: userID,
		conn:   conn,
		send:   make(chan any, bufferSize),
		done:   make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *WSClient) Send(event any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *WSClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *WSClient) writePump() {
	for {
		select {
		case <-c.done:
			return
		case event := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(event); err != nil {
				commonlog.Debugf("event=ws_client action=write status=failed user_id=%s error=%v", c.UserID, err)
				c.Close()
				return
			}
		}
	}
}
