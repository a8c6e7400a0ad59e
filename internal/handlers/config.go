package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/batchscribe/batchscribe/internal/config"
	"github.com/batchscribe/batchscribe/internal/types"
)

// ConfigHandler reads and updates the runtime settings.
type ConfigHandler struct {
	store *config.EnvStore
}

// NewConfigHandler creates a config handler over the env store.
func NewConfigHandler(store *config.EnvStore) *ConfigHandler {
	return &ConfigHandler{store: store}
}

type configResponse struct {
	DeepgramAPIKey           string `json:"deepgram_api_key"`
	GoogleServiceAccountJSON string `json:"google_service_account_json"`
	DriveFolderID            string `json:"drive_folder_id"`
	NamingMode               string `json:"naming_mode"`
	Prefix                   string `json:"prefix"`
	MarkdownOutputDir        string `json:"markdown_output_dir"`
	OutputMode               string `json:"output_mode"`
}

type configUpdate struct {
	DeepgramAPIKey           *string `json:"deepgram_api_key"`
	GoogleServiceAccountJSON *string `json:"google_service_account_json"`
	DriveFolderID            *string `json:"drive_folder_id"`
	NamingMode               *string `json:"naming_mode"`
	Prefix                   *string `json:"prefix"`
	MarkdownOutputDir        *string `json:"markdown_output_dir"`
}

// Get returns current settings with the API key masked.
func (h *ConfigHandler) Get(c *fiber.Ctx) error {
	set, err := h.store.Load()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(configResponse{
		DeepgramAPIKey:           config.MaskKey(set.DeepgramAPIKey),
		GoogleServiceAccountJSON: set.GoogleServiceAccountJSON,
		DriveFolderID:            set.DriveFolderID,
		NamingMode:               string(set.NamingMode),
		Prefix:                   set.Prefix,
		MarkdownOutputDir:        set.MarkdownOutputDir,
		OutputMode:               string(set.OutputMode()),
	})
}

// Put applies a partial update; only provided fields change.
func (h *ConfigHandler) Put(c *fiber.Ctx) error {
	var update configUpdate
	if err := c.BodyParser(&update); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	set, err := h.store.Load()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	if update.DeepgramAPIKey != nil {
		set.DeepgramAPIKey = *update.DeepgramAPIKey
	}
	if update.GoogleServiceAccountJSON != nil {
		set.GoogleServiceAccountJSON = *update.GoogleServiceAccountJSON
	}
	if update.DriveFolderID != nil {
		set.DriveFolderID = *update.DriveFolderID
	}
	if update.NamingMode != nil {
		mode := types.NamingMode(*update.NamingMode)
		if mode != types.NamingSequential && mode != types.NamingOriginal {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid naming_mode: " + *update.NamingMode,
			})
		}
		set.NamingMode = mode
	}
	if update.Prefix != nil {
		set.Prefix = *update.Prefix
	}
	if update.MarkdownOutputDir != nil {
		set.MarkdownOutputDir = *update.MarkdownOutputDir
	}

	if err := h.store.Save(set); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true})
}
