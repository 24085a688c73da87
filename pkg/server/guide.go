package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/parkwalk/go-docent/pkg/hub"
	"github.com/parkwalk/go-docent/pkg/protocol"
	"github.com/parkwalk/go-docent/pkg/session"
)

// handleGuide owns one visitor connection for its whole life: it parses
// inbound messages and dispatches them to the visitor's session. The
// session is created by the first register message and torn down when
// the socket drops.
func (s *Server) handleGuide(c *websocket.Conn) {
	clientID := c.Params("id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	logger := s.logger.With("client_id", clientID)

	// Remove only the session this read loop created: once a reconnect on
	// the same ID replaces it, the stale socket's disconnect must not tear
	// down the replacement.
	var sess *session.Session
	defer func() {
		if sess != nil && s.store.RemoveIf(clientID, sess) {
			s.hub.Publish(hub.NewEvent(hub.EventSessionRemoved, clientID, ""))
		}
		c.Close()
	}()

	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("read error", "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			logger.Warn("unparseable message", "error", err)
			continue
		}

		if sess == nil {
			if msg.Type != protocol.TypeRegister {
				// Nothing else is meaningful before registration.
				c.WriteJSON(protocol.NewError("not registered"))
				continue
			}
			sess = s.store.Create(clientID, c, msg.Settings())
			s.hub.Publish(hub.NewEvent(hub.EventSessionCreated, clientID, ""))
		}

		if cur, ok := s.store.Get(clientID); !ok || cur != sess {
			// Replaced by a reconnect on the same ID from another socket.
			return
		}
		sess.HandleMessage(msg)
	}
}
