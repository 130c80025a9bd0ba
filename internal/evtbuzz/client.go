package evtbuzz

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/internal/perms"
	"github.com/reboot-codes/cloverhub/pkg/models"
)

const writeWait = 10 * time.Second

// wsConn is one upgraded websocket connection. Three cooperating
// goroutines run per connection: a read pump, a write pump, and a cleanup
// step once both have exited. A peer close, a key revocation, and a local
// cancel all converge on the same closed state.
type wsConn struct {
	gateway *Gateway
	conn    *websocket.Conn
	user    models.User
	key     models.APIKey
	client  models.Client
	outbox  <-chan models.Message
	// done is closed exactly once to stop both pumps.
	done      chan struct{}
	closeOnce sync.Once
	started   string
}

// Author renders this connection's message author URL.
func (c *wsConn) Author() string {
	return fmt.Sprintf("ws:%s?client=%s", c.user.ID, c.client.ID)
}

func (c *wsConn) run() {
	log.Info().Str("client", c.client.ID).Msg("Upgraded client to websocket connection")

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		c.readPump()
	}()
	go func() {
		defer pumps.Done()
		c.writePump()
	}()
	pumps.Wait()

	c.cleanup()
}

// shutdown signals both pumps to stop. Safe to call from either pump.
func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump parses inbound text frames as WsIn payloads, stamps a fresh
// message id and this connection's author URL, and publishes to the bus
// when allowed_events_from permits the kind.
func (c *wsConn) readPump() {
	defer c.shutdown()

	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Str("client", c.client.ID).Msg("Client disconnected")
			} else {
				select {
				case <-c.done:
					// Local close; not a peer error.
				default:
					log.Error().Str("client", c.client.ID).Err(err).Msg("Error reading message from client")
				}
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var in models.WsIn
		if err := json.Unmarshal(payload, &in); err != nil {
			log.Warn().Str("client", c.client.ID).Err(err).Msg("Error parsing message from client")
			continue
		}

		if !c.gateway.filter.MaySend(&c.key, in.Kind) {
			log.Warn().
				Str("client", c.client.ID).
				Str("kind", in.Kind).
				Msg("Client attempted to send message when unauthorized")
			continue
		}

		msg := c.gateway.bus.NewMessage(c.Author(), in.Kind, in.Message)
		log.Debug().
			Str("client", c.client.ID).
			Str("id", msg.ID).
			Str("kind", msg.Kind).
			Msg("Client message accepted onto bus")
		c.gateway.bus.Publish(msg)
	}
}

// writePump drains the outbox onto the socket. The revocation sentinel for
// this client closes the connection gracefully.
func (c *wsConn) writePump() {
	defer c.shutdown()

	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.outbox:
			if !ok {
				return
			}

			if msg.Kind == UnauthorizeKind(c.client.ID) {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				// Best effort: deliver the sentinel, then close.
				if payload, err := json.Marshal(msg); err == nil {
					c.conn.WriteMessage(websocket.TextMessage, payload)
				}
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"))
				return
			}

			// The dispatcher already applied the echo rule; this guard only
			// protects against a self-addressed message slipping through a
			// key change mid-flight.
			if perms.AuthorClientID(msg.Author) == c.client.ID && !c.key.Echo {
				continue
			}

			payload, err := json.Marshal(msg)
			if err != nil {
				log.Error().Str("client", c.client.ID).Str("id", msg.ID).Err(err).Msg("Error serializing message")
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Error().Str("client", c.client.ID).Str("id", msg.ID).Err(err).Msg("Error sending message")
				return
			}
		}
	}
}

// cleanup ends the session, deactivates the client, and removes the
// outbox. Runs after both pumps have exited; no goroutine outlives the
// socket.
func (c *wsConn) cleanup() {
	log.Info().Str("client", c.client.ID).Msg("Client disconnected, cleaning up")

	c.gateway.store.CloseSession(c.user.ID, c.client.ID, iso8601(time.Now()))
	c.gateway.store.SetClientActive(c.client.ID, false)
	c.gateway.bus.RemoveOutbox(c.client.ID)
}
