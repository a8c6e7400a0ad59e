package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/batchscribe/batchscribe/internal/session"
	"github.com/batchscribe/batchscribe/internal/types"
)

// WSHandler mirrors the SSE progress stream over a WebSocket, one
// JSON envelope per message. The terminal UI uses this endpoint.
type WSHandler struct {
	manager *session.Manager
	log     zerolog.Logger
}

// NewWSHandler creates the handler.
func NewWSHandler(manager *session.Manager, log zerolog.Logger) *WSHandler {
	return &WSHandler{manager: manager, log: log}
}

// Handle drains the session bus into the connection until the done
// event or a disconnect. Disconnecting only drops the subscription.
func (h *WSHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	sess, err := h.manager.Get(c.Params("id"))
	if err != nil {
		c.WriteJSON(types.ErrorEvent("session not found"))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reader loop exists only to observe the close.
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	sub := sess.Bus.Subscribe()
	defer sess.Bus.Unsubscribe(sub)

	for {
		event, err := sess.Bus.Next(ctx, sub)
		if err != nil {
			return
		}
		if err := c.WriteJSON(event); err != nil {
			h.log.Debug().Err(err).Str("session_id", sess.ID).Msg("ws write failed")
			return
		}
		if event.Type == types.EventDone {
			return
		}
	}
}
