package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/batchscribe/batchscribe/internal/pipeline"
)

// Markdown writes transcripts as local .md files.
type Markdown struct {
	outputDir string
}

// NewMarkdown creates the output directory if needed.
func NewMarkdown(outputDir string) (*Markdown, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Markdown{outputDir: outputDir}, nil
}

// Export writes "<title>.md" with the title as a heading and returns
// the file path as the export reference.
func (m *Markdown) Export(_ context.Context, title, transcript string) (pipeline.ExportResult, error) {
	path := filepath.Join(m.outputDir, sanitizeTitle(title)+".md")
	content := fmt.Sprintf("# %s\n\n%s\n", title, transcript)

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return pipeline.ExportResult{}, fmt.Errorf("write markdown: %w", err)
	}
	return pipeline.ExportResult{Ref: path}, nil
}

// sanitizeTitle keeps letters, digits, dashes, underscores and
// spaces; everything else becomes an underscore.
func sanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
