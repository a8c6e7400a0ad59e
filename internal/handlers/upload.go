// Package handlers exposes the HTTP surface: uploads, config,
// session control and the progress streams.
package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/batchscribe/batchscribe/internal/uploads"
)

// UploadHandler receives media files and registers them for later
// transcription sessions.
type UploadHandler struct {
	registry  *uploads.Registry
	maxSizeMB int
	log       zerolog.Logger
}

// NewUploadHandler creates an upload handler.
func NewUploadHandler(registry *uploads.Registry, maxSizeMB int, log zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		registry:  registry,
		maxSizeMB: maxSizeMB,
		log:       log,
	}
}

// Handle accepts one or more files under the "files" multipart field.
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid multipart form",
			"code":  "ERR_BAD_FORM",
		})
	}

	files := form.File["files"]
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "no files provided",
			"code":  "ERR_NO_FILES",
		})
	}

	maxSize := int64(h.maxSizeMB) << 20
	for _, f := range files {
		if !uploads.Allowed(f.Filename) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("unsupported file: %s", f.Filename),
				"code":  "ERR_INVALID_FORMAT",
			})
		}
		if f.Size > maxSize {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("file too large (max %dMB): %s", h.maxSizeMB, f.Filename),
				"code":  "ERR_FILE_TOO_LARGE",
			})
		}
	}

	stored := make([]uploads.File, 0, len(files))
	for _, f := range files {
		dest := h.registry.DestPath(f.Filename)
		if err := c.SaveFile(f, dest); err != nil {
			h.log.Error().Err(err).Str("file", f.Filename).Msg("upload save failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to save file",
				"code":  "ERR_SAVE_FAILED",
			})
		}
		rec := h.registry.Put(dest, f.Filename, f.Size)
		h.log.Info().Str("upload_id", rec.ID).Str("file", rec.Name).Int64("bytes", rec.Size).Msg("file uploaded")
		stored = append(stored, rec)
	}

	return c.JSON(fiber.Map{"files": stored})
}
