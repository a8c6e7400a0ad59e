package types

// EventType classifies messages streamed to progress subscribers.
type EventType string

const (
	EventJobStatus   EventType = "job_status"
	EventLog         EventType = "log"
	EventProgress    EventType = "progress"
	EventStatusLabel EventType = "status_label"
	EventDone        EventType = "done"
	EventError       EventType = "error"
	EventPing        EventType = "ping"
)

// Log levels carried on log events. The terminal UI maps them to
// markup styles; the web UI maps them to CSS classes.
const (
	LevelInfo      = "info"
	LevelHighlight = "highlight"
	LevelSuccess   = "success"
	LevelWarning   = "warning"
	LevelError     = "error"
	LevelDim       = "dim"
)

// Event is the envelope delivered over the progress stream. Only the
// fields relevant to the event type are set.
type Event struct {
	Type    EventType `json:"type"`
	Job     *Job      `json:"job,omitempty"`
	Message string    `json:"message,omitempty"`
	Level   string    `json:"level,omitempty"`
	Steps   int       `json:"steps,omitempty"`
	Label   string    `json:"label,omitempty"`
}

// JobStatusEvent wraps a job snapshot. The copy keeps subscribers
// isolated from later mutations.
func JobStatusEvent(job Job) Event {
	return Event{Type: EventJobStatus, Job: &job}
}

func LogEvent(message, level string) Event {
	return Event{Type: EventLog, Message: message, Level: level}
}

func ProgressEvent(steps int) Event {
	return Event{Type: EventProgress, Steps: steps}
}

func StatusLabelEvent(label string) Event {
	return Event{Type: EventStatusLabel, Label: label}
}

func DoneEvent() Event {
	return Event{Type: EventDone}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

func PingEvent() Event {
	return Event{Type: EventPing}
}
