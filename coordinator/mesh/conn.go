package mesh

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/enclavecode/swarm/shared/params"
)

// conn wraps one peer websocket with a dedicated send worker and a
// dedicated receive worker, so a slow peer never blocks the service.
type conn struct {
	peerID string
	ws     *websocket.Conn
	sendCh chan *Message

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(peerID string, ws *websocket.Conn) *conn {
	return &conn{
		peerID: peerID,
		ws:     ws,
		sendCh: make(chan *Message, 64),
		done:   make(chan struct{}),
	}
}

// Send queues a message, dropping it when the peer's send buffer is full.
// Gossip tolerates loss; deltas are re-requested on the next announce.
func (c *conn) Send(msg *Message) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		log.WithFields(logrus.Fields{
			"peerId": c.peerID,
			"type":   msg.Type,
		}).Debug("Peer send buffer full, dropping message")
	}
}

// Close tears the connection down. Safe to call from both workers.
func (c *conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.ws.Close(); err != nil {
			log.WithError(err).WithField("peerId", c.peerID).Debug("Websocket close failed")
		}
	})
}

// writeLoop drains the send channel onto the wire, pinging on idle.
func (c *conn) writeLoop() {
	cfg := params.SwarmMeshConfig()
	ticker := time.NewTicker(cfg.PongTimeout / 2)
	defer ticker.Stop()
	defer c.Close()
	for {
		select {
		case msg := <-c.sendCh:
			if err := c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				log.WithError(err).WithField("peerId", c.peerID).Debug("Peer write failed")
				return
			}
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop parses inbound messages and hands them to the service.
func (c *conn) readLoop(handle func(peerID string, msg *Message)) {
	cfg := params.SwarmMeshConfig()
	defer c.Close()
	if err := c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout)); err != nil {
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})
	for {
		msg := &Message{}
		if err := c.ws.ReadJSON(msg); err != nil {
			log.WithError(err).WithField("peerId", c.peerID).Debug("Peer read ended")
			return
		}
		if err := c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout)); err != nil {
			return
		}
		handle(c.peerID, msg)
	}
}
