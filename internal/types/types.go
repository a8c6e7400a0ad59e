package types

import "time"

// JobStatus tracks a job through the pipeline stages.
type JobStatus string

const (
	StatusPending      JobStatus = "pending"
	StatusTranscribing JobStatus = "transcribing"
	StatusExporting    JobStatus = "exporting"
	StatusDone         JobStatus = "done"
	StatusFailed       JobStatus = "failed"
)

// Terminal reports whether a status can never change again.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// OutputMode selects where finished transcripts go.
type OutputMode string

const (
	OutputGoogleDocs OutputMode = "google_docs"
	OutputMarkdown   OutputMode = "markdown"
	OutputNone       OutputMode = "none"
)

// NamingMode selects how export titles are built.
type NamingMode string

const (
	NamingSequential NamingMode = "sequential"
	NamingOriginal   NamingMode = "original"
)

// SessionPhase tracks one batch run over its jobs.
type SessionPhase string

const (
	PhaseRunning   SessionPhase = "running"
	PhaseCompleted SessionPhase = "completed"
	PhaseAborted   SessionPhase = "aborted"
)

// Job is the unit of work tracking one input file through
// transcription and export.
type Job struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	Name       string    `json:"name"`
	Language   string    `json:"language"`
	Status     JobStatus `json:"status"`
	Progress   float64   `json:"progress"`
	Transcript string    `json:"transcript,omitempty"`
	ExportRef  string    `json:"export_reference,omitempty"`
	DocID      string    `json:"doc_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Languages maps supported transcription language codes to labels.
var Languages = map[string]string{
	"es":    "Spanish",
	"en":    "English",
	"multi": "Multilingual",
	"fr":    "French",
	"pt":    "Portuguese",
	"de":    "German",
	"it":    "Italian",
	"hi":    "Hindi",
	"ja":    "Japanese",
	"ru":    "Russian",
	"nl":    "Dutch",
}

// LanguageLabel returns the display name for a language code,
// falling back to the code itself.
func LanguageLabel(code string) string {
	if label, ok := Languages[code]; ok {
		return label
	}
	return code
}
