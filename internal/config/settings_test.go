package config

import (
	"path/filepath"
	"testing"

	"github.com/batchscribe/batchscribe/internal/types"
)

func TestOutputModeResolution(t *testing.T) {
	cases := []struct {
		name string
		set  Settings
		want types.OutputMode
	}{
		{"no credentials falls back to markdown", Settings{}, types.OutputMarkdown},
		{
			"service account and folder select google docs",
			Settings{GoogleServiceAccountJSON: "/keys/sa.json", DriveFolderID: "folder"},
			types.OutputGoogleDocs,
		},
		{
			"service account without folder stays markdown",
			Settings{GoogleServiceAccountJSON: "/keys/sa.json"},
			types.OutputMarkdown,
		},
		{
			"markdown override beats credentials",
			Settings{GoogleServiceAccountJSON: "/keys/sa.json", DriveFolderID: "folder", ModeOverride: "markdown"},
			types.OutputMarkdown,
		},
		{
			"none override disables export",
			Settings{GoogleServiceAccountJSON: "/keys/sa.json", DriveFolderID: "folder", ModeOverride: "none"},
			types.OutputNone,
		},
	}
	for _, c := range cases {
		if got := c.set.OutputMode(); got != c.want {
			t.Fatalf("%s: mode = %s, want %s", c.name, got, c.want)
		}
	}
}

func TestEnvStoreDefaults(t *testing.T) {
	store := NewEnvStore(filepath.Join(t.TempDir(), ".env"))

	set, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if set.Prefix != "Transcripcion" {
		t.Fatalf("prefix = %q, want Transcripcion", set.Prefix)
	}
	if set.NamingMode != types.NamingSequential {
		t.Fatalf("naming mode = %s, want sequential", set.NamingMode)
	}
	if set.MarkdownOutputDir != "./output" {
		t.Fatalf("output dir = %q, want ./output", set.MarkdownOutputDir)
	}
	if set.DeepgramAPIKey != "" {
		t.Fatalf("key = %q, want empty", set.DeepgramAPIKey)
	}
}

func TestEnvStoreRoundTrip(t *testing.T) {
	store := NewEnvStore(filepath.Join(t.TempDir(), ".env"))

	want := Settings{
		DeepgramAPIKey:           "dg_secret_key_12345",
		GoogleServiceAccountJSON: "/keys/sa.json",
		DriveFolderID:            "folder-id",
		NamingMode:               types.NamingOriginal,
		Prefix:                   "Clase",
		MarkdownOutputDir:        "/tmp/out",
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
}

func TestEnvStorePersistsModeOverride(t *testing.T) {
	store := NewEnvStore(filepath.Join(t.TempDir(), ".env"))

	set, _ := store.Load()
	set.DeepgramAPIKey = "key"
	set.ModeOverride = "none"
	if err := store.Save(set); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ModeOverride != "none" {
		t.Fatalf("override = %q, want none", got.ModeOverride)
	}
	if got.OutputMode() != types.OutputNone {
		t.Fatalf("mode = %s, want none", got.OutputMode())
	}
}

func TestMaskKey(t *testing.T) {
	cases := map[string]string{
		"":                      "",
		"short":                 "***",
		"12345678":              "***",
		"dg_secret_key_1234567": "dg_s***4567",
	}
	for in, want := range cases {
		if got := MaskKey(in); got != want {
			t.Fatalf("MaskKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8000 {
		t.Fatalf("port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Pipeline.QueueSize != 256 {
		t.Fatalf("queue size = %d, want 256", cfg.Pipeline.QueueSize)
	}
	if cfg.PingInterval().Seconds() != 30 {
		t.Fatalf("ping interval = %v, want 30s", cfg.PingInterval())
	}
	if cfg.Limits.MaxFileSizeMB != 2048 {
		t.Fatalf("max file size = %d, want 2048", cfg.Limits.MaxFileSizeMB)
	}
}
