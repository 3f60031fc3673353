package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/depotops/feedmux/internal/wire"
)

// conn is one client connection and its topic set.
type conn struct {
	id  string
	hub *Hub
	ws  *websocket.Conn

	send chan []byte
	done chan struct{}

	mu     sync.RWMutex
	topics map[string]struct{}

	closeOnce sync.Once
}

func newConn(h *Hub, ws *websocket.Conn) *conn {
	return &conn{
		id:     uuid.New().String(),
		hub:    h,
		ws:     ws,
		send:   make(chan []byte, h.cfg.SendBuffer),
		done:   make(chan struct{}),
		topics: make(map[string]struct{}),
	}
}

// readPump consumes control frames until the connection drops. It owns
// removal from the hub: every exit path deregisters the connection.
func (c *conn) readPump() {
	defer func() {
		c.hub.drop(c)
		c.close()
		c.hub.wg.Done()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.cfg.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("client read failed", "conn", c.id, "error", err)
			}
			return
		}
		c.handleControl(data)
	}
}

// writePump serializes all writes on the connection: event frames from the
// send channel and keepalive pings.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleControl applies one inbound control frame to the topic set.
// Subscribing to a held topic and unsubscribing from an absent one are
// no-ops, so repeated frames are harmless.
func (c *conn) handleControl(data []byte) {
	ctrl, err := wire.ParseControl(data)
	if err != nil {
		c.hub.malformedFrames.Add(1)
		c.hub.logger.Warn("malformed control frame dropped", "conn", c.id, "error", err)
		return
	}

	c.mu.Lock()
	switch ctrl.Action {
	case wire.ActionSubscribe:
		for _, topic := range ctrl.Topics {
			c.topics[topic] = struct{}{}
		}
	case wire.ActionUnsubscribe:
		for _, topic := range ctrl.Topics {
			delete(c.topics, topic)
		}
	}
	subscribed := len(c.topics)
	c.mu.Unlock()

	// Counted after the topic set is updated so the stat reflects applied
	// frames, not merely parsed ones.
	c.hub.controlsReceived.Add(1)

	c.hub.logger.Debug("control frame applied",
		"conn", c.id,
		"action", ctrl.Action,
		"topics", ctrl.Topics,
		"subscribed", subscribed)
}

func (c *conn) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

// close tears the connection down once. Safe from any goroutine; both pumps
// exit as a consequence.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
