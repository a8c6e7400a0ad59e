// Package pipeline drives each job through the transcribe and export
// stages and publishes every state change as a progress event.
package pipeline

import (
	"context"
	"fmt"

	"github.com/batchscribe/batchscribe/internal/store"
	"github.com/batchscribe/batchscribe/internal/types"
)

// Transcriber turns a local media file into transcript text. Provider
// status lines are pushed through onStatus as they happen.
type Transcriber interface {
	Transcribe(ctx context.Context, sourcePath, language string, onStatus func(string)) (string, error)
}

// ExportResult identifies where a transcript ended up: a hosted
// document id plus URL, or a local file path in Ref.
type ExportResult struct {
	Ref   string
	DocID string
}

// Exporter writes a finished transcript to its destination.
type Exporter interface {
	Export(ctx context.Context, title, transcript string) (ExportResult, error)
}

// SessionFatalError invalidates the whole batch rather than a single
// job: credential/bootstrap failures and internal invariant
// violations. Provider failures are never session-fatal.
type SessionFatalError struct {
	Reason string
}

func (e *SessionFatalError) Error() string {
	return e.Reason
}

// Runner executes the two stages of one job. Stage outcomes are
// reported as job-state mutations, never as raised errors; the only
// errors returned are store invariant violations, which the
// orchestrator treats as session-fatal.
type Runner struct {
	store       *store.Store
	transcriber Transcriber
	exporter    Exporter // nil when the output mode skips export
	publish     func(types.Event)
}

// NewRunner wires a runner over the session's job store.
func NewRunner(st *store.Store, transcriber Transcriber, exporter Exporter, publish func(types.Event)) *Runner {
	return &Runner{
		store:       st,
		transcriber: transcriber,
		exporter:    exporter,
		publish:     publish,
	}
}

// RunTranscription invokes the transcription provider for one job.
// Success stores the transcript and advances the job to exporting, or
// straight to done when no export stage is configured. Failure marks
// only this job failed.
func (r *Runner) RunTranscription(ctx context.Context, jobID string) (types.Job, error) {
	job, err := r.store.Get(jobID)
	if err != nil {
		return types.Job{}, &SessionFatalError{Reason: err.Error()}
	}

	onStatus := func(msg string) {
		r.publish(types.LogEvent("  "+msg, types.LevelDim))
	}

	transcript, terr := r.transcriber.Transcribe(ctx, job.SourcePath, job.Language, onStatus)
	if terr != nil {
		return r.fail(jobID, fmt.Sprintf("transcription failed: %v", terr))
	}

	snap, err := r.store.Update(jobID, func(j *types.Job) {
		j.Transcript = transcript
		if r.exporter == nil {
			j.Status = types.StatusDone
			j.Progress = 1.0
		} else {
			j.Status = types.StatusExporting
			j.Progress = 0.5
		}
	})
	if err != nil {
		return types.Job{}, &SessionFatalError{Reason: err.Error()}
	}
	return snap, nil
}

// RunExport writes the stored transcript to the configured
// destination under the given title.
func (r *Runner) RunExport(ctx context.Context, jobID, title string) (types.Job, error) {
	job, err := r.store.Get(jobID)
	if err != nil {
		return types.Job{}, &SessionFatalError{Reason: err.Error()}
	}

	result, xerr := r.exporter.Export(ctx, title, job.Transcript)
	if xerr != nil {
		return r.fail(jobID, fmt.Sprintf("export failed: %v", xerr))
	}

	snap, err := r.store.Update(jobID, func(j *types.Job) {
		j.ExportRef = result.Ref
		j.DocID = result.DocID
		j.Status = types.StatusDone
		j.Progress = 1.0
	})
	if err != nil {
		return types.Job{}, &SessionFatalError{Reason: err.Error()}
	}
	return snap, nil
}

func (r *Runner) fail(jobID, reason string) (types.Job, error) {
	snap, err := r.store.Update(jobID, func(j *types.Job) {
		j.Status = types.StatusFailed
		j.Error = reason
	})
	if err != nil {
		return types.Job{}, &SessionFatalError{Reason: err.Error()}
	}
	return snap, nil
}
