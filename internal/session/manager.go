// Package session creates pipeline sessions on demand, binds each to
// a progress bus, and reclaims them after completion.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/batchscribe/batchscribe/internal/bus"
	"github.com/batchscribe/batchscribe/internal/config"
	"github.com/batchscribe/batchscribe/internal/pipeline"
	"github.com/batchscribe/batchscribe/internal/store"
	"github.com/batchscribe/batchscribe/internal/types"
	"github.com/batchscribe/batchscribe/internal/uploads"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrNoFiles        = errors.New("no files provided")
	ErrNoCredential   = errors.New("transcription API key not configured")
	ErrUploadNotFound = errors.New("uploaded file not found")
)

// FileSpec names one uploaded file and its transcription language.
type FileSpec struct {
	ID       string `json:"id"`
	Language string `json:"language"`
}

// Session is one batch run: a job store, a progress bus and the
// goroutine driving the orchestrator.
type Session struct {
	ID    string
	Store *store.Store
	Bus   *bus.Bus

	mu         sync.Mutex
	phase      types.SessionPhase
	createdAt  time.Time
	finishedAt time.Time
	sources    []string
	cancel     context.CancelFunc
}

// Phase returns the current session phase.
func (s *Session) Phase() types.SessionPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) finish(phase types.SessionPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	s.finishedAt = time.Now()
}

func (s *Session) finishedFor(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == types.PhaseRunning {
		return 0, false
	}
	return now.Sub(s.finishedAt), true
}

// Config bounds per-session resources and reclamation timing.
type Config struct {
	QueueSize    int
	PingInterval time.Duration
	Grace        time.Duration
	MaxAge       time.Duration
	ReapInterval time.Duration
}

// Manager owns all live sessions. Collaborator factories are injected
// so tests run the real pipeline against fakes.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	uploads        *uploads.Registry
	history        pipeline.History
	settings       func() (config.Settings, error)
	newTranscriber func(apiKey string) pipeline.Transcriber
	newExporter    func(set config.Settings) func(ctx context.Context) (pipeline.Exporter, error)
	cfg            Config
	log            zerolog.Logger
	stop           chan struct{}
	stopOnce       sync.Once
}

// NewManager wires a session manager.
func NewManager(
	reg *uploads.Registry,
	hist pipeline.History,
	settings func() (config.Settings, error),
	newTranscriber func(apiKey string) pipeline.Transcriber,
	newExporter func(set config.Settings) func(ctx context.Context) (pipeline.Exporter, error),
	cfg Config,
	log zerolog.Logger,
) *Manager {
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 12 * time.Hour
	}
	return &Manager{
		sessions:       make(map[string]*Session),
		uploads:        reg,
		history:        hist,
		settings:       settings,
		newTranscriber: newTranscriber,
		newExporter:    newExporter,
		cfg:            cfg,
		log:            log,
		stop:           make(chan struct{}),
	}
}

// Start validates the request, creates the session and launches the
// orchestrator. It returns as soon as the pipeline is running.
func (m *Manager) Start(specs []FileSpec) (string, error) {
	if len(specs) == 0 {
		return "", ErrNoFiles
	}

	set, err := m.settings()
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	if set.DeepgramAPIKey == "" {
		return "", ErrNoCredential
	}

	st := store.New()
	sources := make([]string, 0, len(specs))
	for _, spec := range specs {
		f, ok := m.uploads.Get(spec.ID)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUploadNotFound, spec.ID)
		}
		language := spec.Language
		if language == "" {
			language = "es"
		}
		st.Create(f.Path, f.Name, language)
		sources = append(sources, f.Path)
	}

	b := bus.New(m.cfg.QueueSize, m.cfg.PingInterval)
	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:        uuid.New().String(),
		Store:     st,
		Bus:       b,
		phase:     types.PhaseRunning,
		createdAt: time.Now(),
		sources:   sources,
		cancel:    cancel,
	}

	orch := pipeline.NewOrchestrator(
		st, b, m.history,
		m.newTranscriber(set.DeepgramAPIKey),
		m.newExporter(set),
		pipeline.Settings{
			OutputMode: set.OutputMode(),
			NamingMode: set.NamingMode,
			Prefix:     set.Prefix,
		},
		m.log.With().Str("session_id", sess.ID).Logger(),
	)

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.log.Info().Str("session_id", sess.ID).Int("jobs", len(specs)).
		Str("output_mode", string(set.OutputMode())).Msg("session started")

	go func() {
		defer cancel()
		phase := orch.Run(ctx)
		sess.finish(phase)
		m.log.Info().Str("session_id", sess.ID).Str("phase", string(phase)).Msg("session finished")
	}()

	return sess.ID, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// StartReaper launches the periodic reclamation loop.
func (m *Manager) StartReaper() {
	go func() {
		ticker := time.NewTicker(m.cfg.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.reap(time.Now())
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop halts the reaper and cancels any running pipelines.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		sess.cancel()
	}
}

// reap removes sessions that finished and sat unobserved for the
// grace period, and cancels sessions running past the age bound. The
// reclaimed sessions' upload files are released with them.
func (m *Manager) reap(now time.Time) {
	var reclaimed []*Session

	m.mu.Lock()
	for id, sess := range m.sessions {
		if idle, done := sess.finishedFor(now); done {
			if !sess.Bus.HasSubscriber() && idle > m.cfg.Grace {
				delete(m.sessions, id)
				reclaimed = append(reclaimed, sess)
			}
			continue
		}
		if now.Sub(sess.createdAt) > m.cfg.MaxAge {
			sess.cancel()
		}
	}
	m.mu.Unlock()

	for _, sess := range reclaimed {
		for _, path := range sess.sources {
			m.uploads.ReleaseByPath(path)
		}
		m.log.Info().Str("session_id", sess.ID).Msg("session reclaimed")
	}
}
