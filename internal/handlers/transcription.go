package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/batchscribe/batchscribe/internal/session"
	"github.com/batchscribe/batchscribe/internal/types"
)

// TranscriptionHandler starts sessions and streams their progress
// over server-sent events.
type TranscriptionHandler struct {
	manager *session.Manager
	log     zerolog.Logger
}

// NewTranscriptionHandler creates the handler.
func NewTranscriptionHandler(manager *session.Manager, log zerolog.Logger) *TranscriptionHandler {
	return &TranscriptionHandler{manager: manager, log: log}
}

type startRequest struct {
	Files []session.FileSpec `json:"files"`
}

// Start launches a transcription session over uploaded files and
// returns its id immediately.
func (h *TranscriptionHandler) Start(c *fiber.Ctx) error {
	var req startRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	sessionID, err := h.manager.Start(req.Files)
	if err != nil {
		status := fiber.StatusBadRequest
		if errors.Is(err, session.ErrUploadNotFound) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"session_id": sessionID})
}

// Progress streams session events as SSE until the terminal done
// event. A client disconnect never cancels the pipeline.
func (h *TranscriptionHandler) Progress(c *fiber.Ctx) error {
	sess, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		sub := sess.Bus.Subscribe()
		defer sess.Bus.Unsubscribe(sub)

		for {
			event, err := sess.Bus.Next(context.Background(), sub)
			if err != nil {
				// Closed after done, or detached by a newer subscriber.
				return
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
			// Flush surfaces the client disconnect.
			if err := w.Flush(); err != nil {
				return
			}
			if event.Type == types.EventDone {
				return
			}
		}
	}))
	return nil
}

func writeSSE(w *bufio.Writer, event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
