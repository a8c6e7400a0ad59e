package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/batchscribe/batchscribe/internal/types"
)

// Settings are the runtime provider and export inputs, editable over
// the config API between sessions and persisted to a .env file.
type Settings struct {
	DeepgramAPIKey           string
	GoogleServiceAccountJSON string
	DriveFolderID            string
	NamingMode               types.NamingMode
	Prefix                   string
	MarkdownOutputDir        string
	ModeOverride             string // "", "markdown" or "none"
}

// OutputMode resolves the session-wide output mode: Google Docs when
// a service account and folder are configured, Markdown otherwise.
// The override forces markdown or disables the export stage entirely.
func (s Settings) OutputMode() types.OutputMode {
	switch s.ModeOverride {
	case string(types.OutputNone):
		return types.OutputNone
	case string(types.OutputMarkdown):
		return types.OutputMarkdown
	}
	if s.GoogleServiceAccountJSON != "" && s.DriveFolderID != "" {
		return types.OutputGoogleDocs
	}
	return types.OutputMarkdown
}

// EnvStore reads and writes Settings through a .env file.
type EnvStore struct {
	path string
}

// NewEnvStore points the store at a .env path; the file may not
// exist yet.
func NewEnvStore(path string) *EnvStore {
	return &EnvStore{path: path}
}

// Load returns the current settings, with defaults where unset.
func (e *EnvStore) Load() (Settings, error) {
	env := map[string]string{}
	if _, err := os.Stat(e.path); err == nil {
		var rerr error
		env, rerr = godotenv.Read(e.path)
		if rerr != nil {
			return Settings{}, fmt.Errorf("read env file: %w", rerr)
		}
	}

	s := Settings{
		DeepgramAPIKey:           env["DEEPGRAM_API_KEY"],
		GoogleServiceAccountJSON: env["GOOGLE_SERVICE_ACCOUNT_JSON"],
		DriveFolderID:            env["DRIVE_FOLDER_ID"],
		NamingMode:               types.NamingSequential,
		Prefix:                   env["PREFIX"],
		MarkdownOutputDir:        env["MARKDOWN_OUTPUT_DIR"],
		ModeOverride:             env["OUTPUT_MODE"],
	}
	if env["NAMING_MODE"] == string(types.NamingOriginal) {
		s.NamingMode = types.NamingOriginal
	}
	if s.Prefix == "" {
		s.Prefix = "Transcripcion"
	}
	if s.MarkdownOutputDir == "" {
		s.MarkdownOutputDir = "./output"
	}
	return s, nil
}

// Save persists the settings back to the .env file.
func (e *EnvStore) Save(s Settings) error {
	env := map[string]string{
		"DEEPGRAM_API_KEY":            s.DeepgramAPIKey,
		"GOOGLE_SERVICE_ACCOUNT_JSON": s.GoogleServiceAccountJSON,
		"DRIVE_FOLDER_ID":             s.DriveFolderID,
		"NAMING_MODE":                 string(s.NamingMode),
		"PREFIX":                      s.Prefix,
		"MARKDOWN_OUTPUT_DIR":         s.MarkdownOutputDir,
	}
	if s.ModeOverride != "" {
		env["OUTPUT_MODE"] = s.ModeOverride
	}
	if err := godotenv.Write(env, e.path); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}

// MaskKey hides the middle of an API key for display.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
