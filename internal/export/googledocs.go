// Package export writes finished transcripts to their destination: a
// Google Doc in a shared Drive folder, or a local Markdown file.
package export

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/batchscribe/batchscribe/internal/pipeline"
)

const docMimeType = "application/vnd.google-apps.document"

// GoogleDocs creates documents in a Drive folder via a service
// account and fills them through the Docs API.
type GoogleDocs struct {
	drive    *drive.Service
	docs     *docs.Service
	folderID string
}

// NewGoogleDocs authenticates with the service-account key file. An
// unreadable or malformed key is a session-fatal condition for the
// caller.
func NewGoogleDocs(ctx context.Context, serviceAccountFile, folderID string) (*GoogleDocs, error) {
	key, err := os.ReadFile(serviceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("read service account key: %w", err)
	}

	cfg, err := google.JWTConfigFromJSON(key, drive.DriveScope, docs.DocumentsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	client := cfg.Client(ctx)

	driveSrv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	docsSrv, err := docs.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create docs service: %w", err)
	}

	return &GoogleDocs{
		drive:    driveSrv,
		docs:     docsSrv,
		folderID: folderID,
	}, nil
}

// Export creates an empty document in the target folder, inserts the
// transcript at the top of the body, and returns the doc id and URL.
func (g *GoogleDocs) Export(ctx context.Context, title, transcript string) (pipeline.ExportResult, error) {
	meta := &drive.File{
		Name:     title,
		MimeType: docMimeType,
		Parents:  []string{g.folderID},
	}
	created, err := g.drive.Files.Create(meta).Fields("id").Context(ctx).Do()
	if err != nil {
		return pipeline.ExportResult{}, fmt.Errorf("create document: %w", err)
	}

	_, err = g.docs.Documents.BatchUpdate(created.Id, &docs.BatchUpdateDocumentRequest{
		Requests: []*docs.Request{{
			InsertText: &docs.InsertTextRequest{
				Location: &docs.Location{Index: 1},
				Text:     transcript,
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return pipeline.ExportResult{}, fmt.Errorf("fill document: %w", err)
	}

	return pipeline.ExportResult{
		DocID: created.Id,
		Ref:   "https://docs.google.com/document/d/" + created.Id,
	}, nil
}
