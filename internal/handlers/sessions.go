package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/batchscribe/batchscribe/internal/history"
	"github.com/batchscribe/batchscribe/internal/session"
)

// SessionHandler reads session snapshots and the processing history.
type SessionHandler struct {
	manager *session.Manager
	history *history.DB
}

// NewSessionHandler creates the handler.
func NewSessionHandler(manager *session.Manager, hist *history.DB) *SessionHandler {
	return &SessionHandler{manager: manager, history: hist}
}

// Get returns the current state of a session and all its jobs.
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	sess, err := h.manager.Get(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}

	return c.JSON(fiber.Map{
		"session_id": sess.ID,
		"phase":      sess.Phase(),
		"jobs":       sess.Store.List(),
	})
}

// History lists the most recently processed files.
func (h *SessionHandler) History(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	records, err := h.history.Recent(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if records == nil {
		records = []history.Record{}
	}
	return c.JSON(fiber.Map{"records": records})
}
