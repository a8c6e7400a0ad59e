package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/batchscribe/batchscribe/internal/bus"
	"github.com/batchscribe/batchscribe/internal/history"
	"github.com/batchscribe/batchscribe/internal/store"
	"github.com/batchscribe/batchscribe/internal/types"
)

// History is the subset of the history store the pipeline consults.
type History interface {
	NextSequentialNumber(prefix string) (int, error)
	AlreadyProcessed(sourcePath, prefix, outputMode string) (bool, error)
	TitleExists(title, outputMode string) (bool, error)
	Save(rec history.Record) error
}

// Settings are the session-wide pipeline inputs resolved at start.
// Output mode is deliberately not per-job; mixed-mode batches are not
// supported.
type Settings struct {
	OutputMode types.OutputMode
	NamingMode types.NamingMode
	Prefix     string
}

// Orchestrator sequences the stage runner over a session's jobs in
// creation order, one at a time, and publishes every transition to
// the progress bus.
type Orchestrator struct {
	store       *store.Store
	bus         *bus.Bus
	history     History
	transcriber Transcriber
	newExporter func(ctx context.Context) (Exporter, error)
	settings    Settings
	log         zerolog.Logger
}

// NewOrchestrator assembles an orchestrator for one session.
// newExporter is invoked lazily inside Run so credential problems
// surface as a session abort rather than a construction error.
func NewOrchestrator(
	st *store.Store,
	b *bus.Bus,
	hist History,
	transcriber Transcriber,
	newExporter func(ctx context.Context) (Exporter, error),
	settings Settings,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:       st,
		bus:         b,
		history:     hist,
		transcriber: transcriber,
		newExporter: newExporter,
		settings:    settings,
		log:         log,
	}
}

// Run processes every job and returns the final session phase. The
// terminal done event is always the last event published; the bus is
// closed afterwards.
func (o *Orchestrator) Run(ctx context.Context) types.SessionPhase {
	defer func() {
		o.bus.Publish(types.DoneEvent())
		o.bus.Close()
	}()

	var exporter Exporter
	if o.settings.OutputMode != types.OutputNone {
		var err error
		exporter, err = o.newExporter(ctx)
		if err != nil {
			o.abort(fmt.Sprintf("export setup failed: %v", err))
			return types.PhaseAborted
		}
	}
	runner := NewRunner(o.store, o.transcriber, exporter, o.bus.Publish)

	nextSeq := 1
	if o.settings.NamingMode == types.NamingSequential {
		n, err := o.history.NextSequentialNumber(o.settings.Prefix)
		if err != nil {
			o.abort(fmt.Sprintf("history unavailable: %v", err))
			return types.PhaseAborted
		}
		nextSeq = n
	}

	jobs := o.store.List()
	for i, job := range jobs {
		if ctx.Err() != nil {
			o.abort("session cancelled")
			return types.PhaseAborted
		}
		if err := o.processJob(ctx, runner, job, i, len(jobs), &nextSeq); err != nil {
			o.abort(err.Error())
			return types.PhaseAborted
		}
	}

	o.bus.Publish(types.StatusLabelEvent("Done!"))
	o.bus.Publish(types.LogEvent("All tasks completed.", types.LevelSuccess))
	return types.PhaseCompleted
}

// processJob runs both stages for one job. A non-nil error is
// session-fatal; job-local failures are absorbed here.
func (o *Orchestrator) processJob(ctx context.Context, runner *Runner, job types.Job, idx, total int, nextSeq *int) error {
	mode := string(o.settings.OutputMode)

	skip, err := o.history.AlreadyProcessed(job.SourcePath, o.settings.Prefix, mode)
	if err != nil {
		return &SessionFatalError{Reason: fmt.Sprintf("history unavailable: %v", err)}
	}
	if skip {
		o.bus.Publish(types.LogEvent(
			fmt.Sprintf("Skipped: %s (already processed with prefix %q)", job.Name, o.settings.Prefix),
			types.LevelHighlight))
		snap, err := o.store.Update(job.ID, func(j *types.Job) {
			j.Status = types.StatusDone
			j.Progress = 1.0
		})
		if err != nil {
			return &SessionFatalError{Reason: err.Error()}
		}
		o.bus.Publish(types.JobStatusEvent(snap))
		o.bus.Publish(types.ProgressEvent(2))
		return nil
	}

	// Transcribe stage.
	snap, err := o.store.Update(job.ID, func(j *types.Job) {
		j.Status = types.StatusTranscribing
	})
	if err != nil {
		return &SessionFatalError{Reason: err.Error()}
	}
	o.bus.Publish(types.JobStatusEvent(snap))

	sizeMB := fileSizeMB(job.SourcePath)
	langLabel := types.LanguageLabel(job.Language)
	o.bus.Publish(types.StatusLabelEvent(
		fmt.Sprintf("Transcribing %s (%.0f MB, %s) [%d/%d]...", job.Name, sizeMB, langLabel, idx+1, total)))
	o.bus.Publish(types.LogEvent(
		fmt.Sprintf("Transcribing: %s (%.0f MB, %s)", job.Name, sizeMB, langLabel),
		types.LevelHighlight))
	o.log.Info().Str("job_id", job.ID).Str("file", job.Name).Str("language", job.Language).Msg("transcribing")

	snap, err = runner.RunTranscription(ctx, job.ID)
	if err != nil {
		return err
	}
	o.bus.Publish(types.JobStatusEvent(snap))
	if snap.Status == types.StatusFailed {
		o.bus.Publish(types.ProgressEvent(2))
		o.bus.Publish(types.LogEvent(fmt.Sprintf("Error: %s - %s", job.Name, snap.Error), types.LevelError))
		o.log.Error().Str("job_id", job.ID).Str("reason", snap.Error).Msg("job failed")
		return nil
	}
	o.bus.Publish(types.ProgressEvent(1))

	title, seq, err := o.buildTitle(job, *nextSeq)
	if err != nil {
		return &SessionFatalError{Reason: fmt.Sprintf("history unavailable: %v", err)}
	}

	// No export stage configured: transcription completed the job.
	if snap.Status == types.StatusDone {
		o.bus.Publish(types.ProgressEvent(1))
		o.bus.Publish(types.LogEvent(fmt.Sprintf("Transcribed: %s", job.Name), types.LevelSuccess))
		o.record(snap, title, seq)
		if seq > 0 {
			*nextSeq++
		}
		return nil
	}

	// Export stage. RunTranscription already advanced the job to
	// exporting, so the snapshot above is the pre-stage status event.
	switch o.settings.OutputMode {
	case types.OutputGoogleDocs:
		o.bus.Publish(types.StatusLabelEvent(
			fmt.Sprintf("Uploading %s to Google Docs [%d/%d]...", title, idx+1, total)))
		o.bus.Publish(types.LogEvent(fmt.Sprintf("Uploading: %s", title), types.LevelHighlight))
	default:
		o.bus.Publish(types.StatusLabelEvent(
			fmt.Sprintf("Saving %s.md [%d/%d]...", title, idx+1, total)))
		o.bus.Publish(types.LogEvent(fmt.Sprintf("Saving: %s.md", title), types.LevelHighlight))
	}

	snap, err = runner.RunExport(ctx, job.ID, title)
	if err != nil {
		return err
	}
	o.bus.Publish(types.JobStatusEvent(snap))
	if snap.Status == types.StatusFailed {
		o.bus.Publish(types.ProgressEvent(1))
		o.bus.Publish(types.LogEvent(fmt.Sprintf("Error: %s - %s", job.Name, snap.Error), types.LevelError))
		o.log.Error().Str("job_id", job.ID).Str("reason", snap.Error).Msg("job failed")
		return nil
	}
	o.bus.Publish(types.ProgressEvent(1))

	if o.settings.OutputMode == types.OutputGoogleDocs {
		o.bus.Publish(types.LogEvent(fmt.Sprintf("Created: %s (ID: %s)", title, snap.DocID), types.LevelSuccess))
	} else {
		o.bus.Publish(types.LogEvent(fmt.Sprintf("Saved: %s", snap.ExportRef), types.LevelSuccess))
	}
	o.log.Info().Str("job_id", job.ID).Str("title", title).Msg("job done")

	o.record(snap, title, seq)
	if seq > 0 {
		*nextSeq++
	}
	return nil
}

// buildTitle derives the export title: sequential numbering, or the
// original file stem deduplicated against past exports.
func (o *Orchestrator) buildTitle(job types.Job, nextSeq int) (string, int, error) {
	if o.settings.NamingMode == types.NamingSequential {
		return fmt.Sprintf("%s_%d", o.settings.Prefix, nextSeq), nextSeq, nil
	}

	stem := strings.TrimSuffix(job.Name, filepath.Ext(job.Name))
	base := fmt.Sprintf("%s_%s", o.settings.Prefix, stem)
	title := base
	for suffix := 2; ; suffix++ {
		exists, err := o.history.TitleExists(title, string(o.settings.OutputMode))
		if err != nil {
			return "", 0, err
		}
		if !exists {
			return title, 0, nil
		}
		title = fmt.Sprintf("%s_%d", base, suffix)
	}
}

// record persists a finished job. History write failures are logged
// but never fail the job; the export already succeeded.
func (o *Orchestrator) record(job types.Job, title string, seq int) {
	rec := history.Record{
		SourcePath:       job.SourcePath,
		Prefix:           o.settings.Prefix,
		NamingMode:       string(o.settings.NamingMode),
		SequentialNumber: seq,
		OutputTitle:      title,
		OutputMode:       string(o.settings.OutputMode),
		Language:         job.Language,
		DocID:            job.DocID,
	}
	if o.settings.OutputMode == types.OutputGoogleDocs {
		rec.DocURL = job.ExportRef
	} else {
		rec.OutputPath = job.ExportRef
	}

	if err := o.history.Save(rec); err != nil {
		o.bus.Publish(types.LogEvent(fmt.Sprintf("History not updated: %v", err), types.LevelWarning))
		o.log.Warn().Err(err).Str("job_id", job.ID).Msg("history save failed")
	}
}

// abort marks every unfinished job failed with the shared reason and
// publishes the single session-level error event.
func (o *Orchestrator) abort(reason string) {
	for _, job := range o.store.List() {
		if job.Status.Terminal() {
			continue
		}
		snap, err := o.store.Update(job.ID, func(j *types.Job) {
			j.Status = types.StatusFailed
			j.Error = reason
		})
		if err != nil {
			o.log.Error().Err(err).Str("job_id", job.ID).Msg("abort transition failed")
			continue
		}
		o.bus.Publish(types.JobStatusEvent(snap))
	}
	o.bus.Publish(types.ErrorEvent(reason))
	o.log.Error().Str("reason", reason).Msg("session aborted")
}

func fileSizeMB(path string) float64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / (1 << 20)
}
