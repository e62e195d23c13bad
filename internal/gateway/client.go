package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/botserver/pkg/protocol"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// wsClient is one attendant-notification websocket connection: a thin
// read-pump/write-pump pair carrying the one-way broadcast surface this
// gateway exposes (operators receive events; they don't issue RPCs over
// this socket).
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan protocol.EventFrame
	done chan struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan protocol.EventFrame, 32),
		done: make(chan struct{}),
	}
}

// sendEvent queues an event frame for delivery; drops it if the client's buffer
// is full rather than blocking the broadcaster.
func (c *wsClient) sendEvent(frame protocol.EventFrame) {
	select {
	case c.send <- frame:
	default:
	}
}

// run drives the client's read and write pumps until ctx is cancelled or
// the connection errors out.
func (c *wsClient) run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *wsClient) readPump(ctx context.Context) {
	defer close(c.done)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) close() {
	c.conn.Close()
}
