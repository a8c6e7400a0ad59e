package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/batchscribe/batchscribe/internal/bus"
	"github.com/batchscribe/batchscribe/internal/history"
	"github.com/batchscribe/batchscribe/internal/store"
	"github.com/batchscribe/batchscribe/internal/types"
)

type fakeTranscriber struct {
	transcripts map[string]string // keyed by source path
	errs        map[string]error
	calls       []string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, sourcePath, language string, onStatus func(string)) (string, error) {
	f.calls = append(f.calls, sourcePath)
	if err := f.errs[sourcePath]; err != nil {
		return "", err
	}
	if onStatus != nil {
		onStatus("Uploading audio to provider...")
	}
	return f.transcripts[sourcePath], nil
}

type fakeExporter struct {
	errs    map[string]error // keyed by title
	exports []string
}

func (f *fakeExporter) Export(ctx context.Context, title, transcript string) (ExportResult, error) {
	if err := f.errs[title]; err != nil {
		delete(f.errs, title) // fail once, then allow the retried title
		return ExportResult{}, err
	}
	f.exports = append(f.exports, title)
	return ExportResult{Ref: "/out/" + title + ".md"}, nil
}

type memHistory struct {
	processed map[string]bool // sourcePath
	titles    map[string]bool
	records   []history.Record
	nextSeq   int
	seqErr    error
}

func newMemHistory() *memHistory {
	return &memHistory{
		processed: map[string]bool{},
		titles:    map[string]bool{},
		nextSeq:   1,
	}
}

func (m *memHistory) NextSequentialNumber(prefix string) (int, error) {
	if m.seqErr != nil {
		return 0, m.seqErr
	}
	return m.nextSeq, nil
}

func (m *memHistory) AlreadyProcessed(sourcePath, prefix, outputMode string) (bool, error) {
	return m.processed[sourcePath], nil
}

func (m *memHistory) TitleExists(title, outputMode string) (bool, error) {
	return m.titles[title], nil
}

func (m *memHistory) Save(rec history.Record) error {
	m.records = append(m.records, rec)
	return nil
}

// drain reads the bus to exhaustion. Run closes the bus after the done
// event, so ErrClosed terminates the loop.
func drain(t *testing.T, b *bus.Bus) []types.Event {
	t.Helper()
	sub := b.Subscribe()
	var events []types.Event
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		event, err := b.Next(ctx, sub)
		cancel()
		if errors.Is(err, bus.ErrClosed) {
			return events
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		events = append(events, event)
	}
}

func statusEvents(events []types.Event, jobID string) []types.JobStatus {
	var out []types.JobStatus
	for _, e := range events {
		if e.Type == types.EventJobStatus && e.Job != nil && e.Job.ID == jobID {
			out = append(out, e.Job.Status)
		}
	}
	return out
}

func totalProgress(events []types.Event) int {
	total := 0
	for _, e := range events {
		if e.Type == types.EventProgress {
			total += e.Steps
		}
	}
	return total
}

func newOrchestrator(st *store.Store, b *bus.Bus, hist History, tr Transcriber, exp Exporter, settings Settings) *Orchestrator {
	newExporter := func(ctx context.Context) (Exporter, error) { return exp, nil }
	return NewOrchestrator(st, b, hist, tr, newExporter, settings, zerolog.Nop())
}

func markdownSettings() Settings {
	return Settings{
		OutputMode: types.OutputMarkdown,
		NamingMode: types.NamingSequential,
		Prefix:     "Session",
	}
}

// TestRunAllSucceed is the clean batch: two jobs, both exported, the
// session completes and the done event is last.
func TestRunAllSucceed(t *testing.T) {
	st := store.New()
	a := st.Create("/media/a.mp3", "a.mp3", "en")
	b := st.Create("/media/b.mp3", "b.mp3", "en")

	tr := &fakeTranscriber{transcripts: map[string]string{
		"/media/a.mp3": "first transcript",
		"/media/b.mp3": "second transcript",
	}}
	exp := &fakeExporter{}
	hist := newMemHistory()
	pb := bus.New(1024, time.Minute)

	phase := newOrchestrator(st, pb, hist, tr, exp, markdownSettings()).Run(context.Background())
	if phase != types.PhaseCompleted {
		t.Fatalf("phase = %s, want completed", phase)
	}

	events := drain(t, pb)
	if len(events) == 0 || events[len(events)-1].Type != types.EventDone {
		t.Fatal("done event must be last")
	}

	for _, id := range []string{a.ID, b.ID} {
		job, _ := st.Get(id)
		if job.Status != types.StatusDone {
			t.Fatalf("job %s status = %s, want done", id, job.Status)
		}
		got := statusEvents(events, id)
		want := []types.JobStatus{types.StatusTranscribing, types.StatusExporting, types.StatusDone}
		if len(got) != len(want) {
			t.Fatalf("job %s status events = %v, want %v", id, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("job %s status events = %v, want %v", id, got, want)
			}
		}
	}

	if len(exp.exports) != 2 || exp.exports[0] != "Session_1" || exp.exports[1] != "Session_2" {
		t.Fatalf("exports = %v, want [Session_1 Session_2]", exp.exports)
	}
	if got := totalProgress(events); got != 4 {
		t.Fatalf("progress steps = %d, want 4", got)
	}
	if len(hist.records) != 2 {
		t.Fatalf("history records = %d, want 2", len(hist.records))
	}
}

// TestRunTranscriptionFailureContinues verifies a provider failure on
// one job never touches the rest of the batch.
func TestRunTranscriptionFailureContinues(t *testing.T) {
	st := store.New()
	bad := st.Create("/media/bad.mp3", "bad.mp3", "en")
	good := st.Create("/media/good.mp3", "good.mp3", "en")

	tr := &fakeTranscriber{
		transcripts: map[string]string{"/media/good.mp3": "text"},
		errs:        map[string]error{"/media/bad.mp3": errors.New("upstream timeout")},
	}
	exp := &fakeExporter{}
	pb := bus.New(1024, time.Minute)

	phase := newOrchestrator(st, pb, newMemHistory(), tr, exp, markdownSettings()).Run(context.Background())
	if phase != types.PhaseCompleted {
		t.Fatalf("phase = %s, want completed", phase)
	}

	events := drain(t, pb)

	failed, _ := st.Get(bad.ID)
	if failed.Status != types.StatusFailed {
		t.Fatalf("bad job status = %s, want failed", failed.Status)
	}
	if failed.Error != "transcription failed: upstream timeout" {
		t.Fatalf("bad job error = %q", failed.Error)
	}
	ok, _ := st.Get(good.ID)
	if ok.Status != types.StatusDone {
		t.Fatalf("good job status = %s, want done", ok.Status)
	}

	// The failed job consumed no export title, so the good job gets
	// the first sequential number.
	if len(exp.exports) != 1 || exp.exports[0] != "Session_1" {
		t.Fatalf("exports = %v, want [Session_1]", exp.exports)
	}
	// Both jobs account for two progress steps regardless of outcome.
	if got := totalProgress(events); got != 4 {
		t.Fatalf("progress steps = %d, want 4", got)
	}
	if events[len(events)-1].Type != types.EventDone {
		t.Fatal("done event must be last")
	}
}

// TestRunExportFailureKeepsTranscript checks a failed export leaves
// the transcript in place and fails only that job.
func TestRunExportFailureKeepsTranscript(t *testing.T) {
	st := store.New()
	job := st.Create("/media/a.mp3", "a.mp3", "en")
	other := st.Create("/media/b.mp3", "b.mp3", "en")

	tr := &fakeTranscriber{transcripts: map[string]string{
		"/media/a.mp3": "kept transcript",
		"/media/b.mp3": "other",
	}}
	exp := &fakeExporter{errs: map[string]error{"Session_1": errors.New("drive quota exceeded")}}
	hist := newMemHistory()
	pb := bus.New(1024, time.Minute)

	phase := newOrchestrator(st, pb, hist, tr, exp, markdownSettings()).Run(context.Background())
	if phase != types.PhaseCompleted {
		t.Fatalf("phase = %s, want completed", phase)
	}
	drain(t, pb)

	failed, _ := st.Get(job.ID)
	if failed.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", failed.Status)
	}
	if failed.Transcript != "kept transcript" {
		t.Fatalf("transcript = %q, want it preserved", failed.Transcript)
	}
	if failed.Error != "export failed: drive quota exceeded" {
		t.Fatalf("error = %q", failed.Error)
	}

	ok, _ := st.Get(other.ID)
	if ok.Status != types.StatusDone {
		t.Fatalf("other job status = %s, want done", ok.Status)
	}
	// Session_1 was consumed by the failed attempt but never recorded;
	// the next job retries the same number.
	if len(hist.records) != 1 || hist.records[0].OutputTitle != "Session_1" {
		t.Fatalf("records = %+v, want one Session_1", hist.records)
	}
}

// TestRunExporterSetupFailureAborts is the credential failure path:
// one error event, every job failed, phase aborted.
func TestRunExporterSetupFailureAborts(t *testing.T) {
	st := store.New()
	a := st.Create("/media/a.mp3", "a.mp3", "en")
	b := st.Create("/media/b.mp3", "b.mp3", "en")

	newExporter := func(ctx context.Context) (Exporter, error) {
		return nil, errors.New("invalid service account key")
	}
	pb := bus.New(1024, time.Minute)
	orch := NewOrchestrator(st, pb, newMemHistory(), &fakeTranscriber{}, newExporter, markdownSettings(), zerolog.Nop())

	phase := orch.Run(context.Background())
	if phase != types.PhaseAborted {
		t.Fatalf("phase = %s, want aborted", phase)
	}

	events := drain(t, pb)

	errorEvents := 0
	for _, e := range events {
		if e.Type == types.EventError {
			errorEvents++
			if e.Message == "" {
				t.Fatal("error event missing message")
			}
		}
	}
	if errorEvents != 1 {
		t.Fatalf("error events = %d, want 1", errorEvents)
	}
	if events[len(events)-1].Type != types.EventDone {
		t.Fatal("done event must be last even on abort")
	}

	for _, id := range []string{a.ID, b.ID} {
		job, _ := st.Get(id)
		if job.Status != types.StatusFailed {
			t.Fatalf("job %s status = %s, want failed", id, job.Status)
		}
		if job.Error == "" {
			t.Fatalf("job %s missing abort reason", id)
		}
	}
}

// TestRunFIFOOrdering verifies strict one-at-a-time processing: every
// event for the first job precedes the second job's first event.
func TestRunFIFOOrdering(t *testing.T) {
	st := store.New()
	first := st.Create("/media/1.mp3", "1.mp3", "en")
	second := st.Create("/media/2.mp3", "2.mp3", "en")

	tr := &fakeTranscriber{transcripts: map[string]string{
		"/media/1.mp3": "one",
		"/media/2.mp3": "two",
	}}
	pb := bus.New(1024, time.Minute)

	newOrchestrator(st, pb, newMemHistory(), tr, &fakeExporter{}, markdownSettings()).Run(context.Background())
	events := drain(t, pb)

	lastOfFirst, firstOfSecond := -1, -1
	for i, e := range events {
		if e.Type != types.EventJobStatus || e.Job == nil {
			continue
		}
		if e.Job.ID == first.ID {
			lastOfFirst = i
		}
		if e.Job.ID == second.ID && firstOfSecond == -1 {
			firstOfSecond = i
		}
	}
	if lastOfFirst == -1 || firstOfSecond == -1 {
		t.Fatal("missing job status events")
	}
	if lastOfFirst > firstOfSecond {
		t.Fatalf("interleaved jobs: first's last event at %d, second's first at %d", lastOfFirst, firstOfSecond)
	}

	if tr.calls[0] != "/media/1.mp3" || tr.calls[1] != "/media/2.mp3" {
		t.Fatalf("transcribe order = %v", tr.calls)
	}
}

// TestRunSkipsAlreadyProcessed covers the history replay edge: the job
// jumps straight to done and the provider is never called.
func TestRunSkipsAlreadyProcessed(t *testing.T) {
	st := store.New()
	job := st.Create("/media/seen.mp3", "seen.mp3", "en")

	hist := newMemHistory()
	hist.processed["/media/seen.mp3"] = true
	tr := &fakeTranscriber{}
	exp := &fakeExporter{}
	pb := bus.New(1024, time.Minute)

	phase := newOrchestrator(st, pb, hist, tr, exp, markdownSettings()).Run(context.Background())
	if phase != types.PhaseCompleted {
		t.Fatalf("phase = %s, want completed", phase)
	}
	events := drain(t, pb)

	if len(tr.calls) != 0 {
		t.Fatalf("transcriber called %d times, want 0", len(tr.calls))
	}
	if len(exp.exports) != 0 {
		t.Fatalf("exporter called %d times, want 0", len(exp.exports))
	}

	snap, _ := st.Get(job.ID)
	if snap.Status != types.StatusDone || snap.Progress != 1.0 {
		t.Fatalf("job = %+v, want done at 1.0", snap)
	}
	if got := totalProgress(events); got != 2 {
		t.Fatalf("progress steps = %d, want 2", got)
	}
	if len(hist.records) != 0 {
		t.Fatal("skipped job must not be re-recorded")
	}
}

// TestRunWithoutExportStage covers the none output mode: jobs finish
// after transcription with no export reference.
func TestRunWithoutExportStage(t *testing.T) {
	st := store.New()
	job := st.Create("/media/a.mp3", "a.mp3", "en")

	tr := &fakeTranscriber{transcripts: map[string]string{"/media/a.mp3": "text"}}
	hist := newMemHistory()
	pb := bus.New(1024, time.Minute)

	settings := Settings{
		OutputMode: types.OutputNone,
		NamingMode: types.NamingSequential,
		Prefix:     "Session",
	}
	exporterCalled := false
	newExporter := func(ctx context.Context) (Exporter, error) {
		exporterCalled = true
		return nil, nil
	}
	orch := NewOrchestrator(st, pb, hist, tr, newExporter, settings, zerolog.Nop())

	phase := orch.Run(context.Background())
	if phase != types.PhaseCompleted {
		t.Fatalf("phase = %s, want completed", phase)
	}
	events := drain(t, pb)

	if exporterCalled {
		t.Fatal("exporter factory must not run in none mode")
	}
	snap, _ := st.Get(job.ID)
	if snap.Status != types.StatusDone || snap.Progress != 1.0 {
		t.Fatalf("job = %+v, want done at 1.0", snap)
	}
	if snap.ExportRef != "" {
		t.Fatalf("export reference = %q, want empty", snap.ExportRef)
	}

	got := statusEvents(events, job.ID)
	for _, s := range got {
		if s == types.StatusExporting {
			t.Fatal("exporting status published in none mode")
		}
	}
	if got := totalProgress(events); got != 2 {
		t.Fatalf("progress steps = %d, want 2", got)
	}
	if len(hist.records) != 1 {
		t.Fatalf("history records = %d, want 1", len(hist.records))
	}
}

// TestRunOriginalNamingDedupes checks stem-based titles get numeric
// suffixes when past exports collide.
func TestRunOriginalNamingDedupes(t *testing.T) {
	st := store.New()
	st.Create("/media/meeting.mp3", "meeting.mp3", "en")

	hist := newMemHistory()
	hist.titles["Session_meeting"] = true
	hist.titles["Session_meeting_2"] = true

	tr := &fakeTranscriber{transcripts: map[string]string{"/media/meeting.mp3": "text"}}
	exp := &fakeExporter{}
	pb := bus.New(1024, time.Minute)

	settings := Settings{
		OutputMode: types.OutputMarkdown,
		NamingMode: types.NamingOriginal,
		Prefix:     "Session",
	}
	phase := NewOrchestrator(st, pb, hist, tr,
		func(ctx context.Context) (Exporter, error) { return exp, nil },
		settings, zerolog.Nop()).Run(context.Background())
	if phase != types.PhaseCompleted {
		t.Fatalf("phase = %s, want completed", phase)
	}
	drain(t, pb)

	if len(exp.exports) != 1 || exp.exports[0] != "Session_meeting_3" {
		t.Fatalf("exports = %v, want [Session_meeting_3]", exp.exports)
	}
}

// TestRunHistoryUnavailableAborts: a broken history store is
// session-fatal before any provider work starts.
func TestRunHistoryUnavailableAborts(t *testing.T) {
	st := store.New()
	st.Create("/media/a.mp3", "a.mp3", "en")

	hist := newMemHistory()
	hist.seqErr = fmt.Errorf("database is locked")
	tr := &fakeTranscriber{}
	pb := bus.New(1024, time.Minute)

	phase := newOrchestrator(st, pb, hist, tr, &fakeExporter{}, markdownSettings()).Run(context.Background())
	if phase != types.PhaseAborted {
		t.Fatalf("phase = %s, want aborted", phase)
	}
	if len(tr.calls) != 0 {
		t.Fatal("provider must not be called after abort")
	}
}

// TestRunCancelledContext aborts the remaining jobs.
func TestRunCancelledContext(t *testing.T) {
	st := store.New()
	job := st.Create("/media/a.mp3", "a.mp3", "en")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pb := bus.New(1024, time.Minute)
	phase := newOrchestrator(st, pb, newMemHistory(), &fakeTranscriber{}, &fakeExporter{}, markdownSettings()).Run(ctx)
	if phase != types.PhaseAborted {
		t.Fatalf("phase = %s, want aborted", phase)
	}
	snap, _ := st.Get(job.ID)
	if snap.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", snap.Status)
	}
}

// TestRunnerStatusRelay checks provider status lines surface as dim
// indented log events.
func TestRunnerStatusRelay(t *testing.T) {
	st := store.New()
	job := st.Create("/media/a.mp3", "a.mp3", "en")
	st.Update(job.ID, func(j *types.Job) { j.Status = types.StatusTranscribing })

	var published []types.Event
	tr := &fakeTranscriber{transcripts: map[string]string{"/media/a.mp3": "text"}}
	runner := NewRunner(st, tr, &fakeExporter{}, func(e types.Event) { published = append(published, e) })

	if _, err := runner.RunTranscription(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	found := false
	for _, e := range published {
		if e.Type == types.EventLog && e.Level == types.LevelDim && e.Message == "  Uploading audio to provider..." {
			found = true
		}
	}
	if !found {
		t.Fatalf("dim status log missing: %+v", published)
	}
}
