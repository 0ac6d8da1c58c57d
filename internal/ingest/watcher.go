package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/lin-1259/ai-xiutu/internal/events"
	"github.com/lin-1259/ai-xiutu/internal/task"
)

// State is the lifecycle state of a Watcher.
type State string

// Watcher states.
const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
)

// Common errors returned by the Watcher.
var (
	ErrAlreadyRunning = errors.New("watcher already running")
	ErrInvalidConfig  = errors.New("invalid watcher configuration")
)

// DefaultPatterns are the file name patterns watched when none are configured.
var DefaultPatterns = []string{"*.jpg", "*.jpeg", "*.png", "*.webp"}

// Submitter accepts new jobs.
type Submitter interface {
	Submit(ctx context.Context, req task.SubmitRequest) (*domain.Job, error)
}

// Stager copies source bytes into the image staging area.
type Stager interface {
	Stage(ctx context.Context, data []byte) (domain.ImageRef, error)
}

// Config holds configuration for a Watcher
type Config struct {
	// InputDir is the watched directory
	InputDir string

	// OutputDir receives the outputs of jobs submitted by the watcher
	OutputDir string

	// TemplateID is applied to every submitted job
	TemplateID string

	// Patterns are case-insensitive glob patterns matched against file names
	Patterns []string

	// MinFileSize skips files smaller than this many bytes
	MinFileSize int64

	// SettleDelay is how long a path must be quiet before it is ingested
	SettleDelay time.Duration

	// RestartDelay is the wait before the single automatic restart after a watch error
	RestartDelay time.Duration
}

// Status is a snapshot of the watcher.
type Status struct {
	State      State    `json:"state"`
	InputDir   string   `json:"input_dir"`
	OutputDir  string   `json:"output_dir"`
	TemplateID string   `json:"template_id"`
	Patterns   []string `json:"patterns"`
	Claimed    int      `json:"claimed"`
	Submitted  int      `json:"submitted"`
	InFlight   int      `json:"in_flight"`
	Completed  int      `json:"completed"`
	Failed     int      `json:"failed"`
	LastError  string   `json:"last_error,omitempty"`
}

// Watcher turns files appearing in a directory into job submissions. A path
// is submitted at most once per run; removing the file releases its claim.
type Watcher struct {
	cfg       Config
	submitter Submitter
	stager    Stager
	logger    *slog.Logger

	mu           sync.Mutex
	state        State
	claimed      map[string]bool
	pending      map[string]*time.Timer
	jobs         map[uuid.UUID]struct{}
	submitting   int
	early        map[uuid.UUID]events.Type
	submitted    int
	completed    int
	failed       int
	lastErr      string
	cancel       context.CancelFunc
	done         chan struct{}
	restarted    bool
	restartTimer *time.Timer
}

// NewWatcher creates a stopped Watcher.
func NewWatcher(cfg Config, submitter Submitter, stager Stager, logger *slog.Logger) (*Watcher, error) {
	if submitter == nil || stager == nil {
		return nil, errors.New("submitter and stager cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if len(cfg.Patterns) == 0 {
		cfg.Patterns = DefaultPatterns
	}
	patterns := make([]string, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidConfig, p, err)
		}
		patterns = append(patterns, p)
	}
	cfg.Patterns = patterns

	return &Watcher{
		cfg:       cfg,
		submitter: submitter,
		stager:    stager,
		logger:    logger.With("component", "ingest_watcher"),
		state:     StateStopped,
		claimed:   make(map[string]bool),
		pending:   make(map[string]*time.Timer),
		jobs:      make(map[uuid.UUID]struct{}),
		early:     make(map[uuid.UUID]events.Type),
	}, nil
}

// Start validates the directories and begins watching. The claimed set is
// reset, so files seen in an earlier run may be submitted again.
func (w *Watcher) Start() error {
	w.mu.Lock()
	w.restarted = false
	w.claimed = make(map[string]bool)
	w.mu.Unlock()
	return w.start()
}

func (w *Watcher) start() error {
	w.mu.Lock()
	if w.state != StateStopped {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.state = StateStarting
	if w.restartTimer != nil {
		w.restartTimer.Stop()
		w.restartTimer = nil
	}
	w.mu.Unlock()

	fw, err := w.prepare()
	if err != nil {
		w.mu.Lock()
		w.state = StateStopped
		w.lastErr = err.Error()
		w.mu.Unlock()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	w.mu.Lock()
	w.state = StateRunning
	w.cancel = cancel
	w.done = done
	w.lastErr = ""
	w.mu.Unlock()

	go w.loop(ctx, fw, done)
	w.logger.Info("watcher started",
		"path", w.cfg.InputDir,
		"template_id", w.cfg.TemplateID,
		"patterns", w.cfg.Patterns)
	return nil
}

// prepare creates the input and output directories and registers the watch.
func (w *Watcher) prepare() (*fsnotify.Watcher, error) {
	if strings.TrimSpace(w.cfg.InputDir) == "" {
		return nil, fmt.Errorf("%w: input directory is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(w.cfg.TemplateID) == "" {
		return nil, fmt.Errorf("%w: template id is required", ErrInvalidConfig)
	}
	if w.cfg.OutputDir != "" && sameDir(w.cfg.InputDir, w.cfg.OutputDir) {
		// Outputs written into the watched directory would be ingested again.
		return nil, fmt.Errorf("%w: output directory must differ from input directory", ErrInvalidConfig)
	}
	for _, dir := range []string{w.cfg.InputDir, w.cfg.OutputDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(w.cfg.InputDir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", w.cfg.InputDir, err)
	}
	return fw, nil
}

// sameDir reports whether a and b name the same directory.
func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	if absA == absB {
		return true
	}
	infoA, errA := os.Stat(absA)
	infoB, errB := os.Stat(absB)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}

// Stop ends the watch and cancels any pending automatic restart.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.restartTimer != nil {
		w.restartTimer.Stop()
		w.restartTimer = nil
	}
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.state = StateStopped
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		w.logger.Info("watcher stopped", "path", w.cfg.InputDir)
	}
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	defer fw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				w.fail(ctx, errors.New("watch event channel closed"))
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				err = errors.New("watch error channel closed")
			}
			w.fail(ctx, err)
			return
		}
	}
}

// fail moves the watcher to Stopped after an unrecoverable watch error and
// schedules the single automatic restart.
func (w *Watcher) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	w.logger.Error("watch failed", "path", w.cfg.InputDir, "error", err)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		// Stop already took over.
		return
	}
	w.cancel()
	w.cancel, w.done = nil, nil
	w.state = StateStopped
	w.lastErr = err.Error()
	if w.restarted {
		return
	}
	w.restarted = true
	w.restartTimer = time.AfterFunc(w.cfg.RestartDelay, func() {
		if err := w.start(); err != nil {
			w.logger.Error("automatic watcher restart failed", "path", w.cfg.InputDir, "error", err)
		}
	})
}

// handleEvent applies one filesystem event. Creates and writes are debounced
// by SettleDelay; removes and renames release the claim on the path.
func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.claimed, path)
		if t, ok := w.pending[path]; ok {
			t.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.logger.Debug("released path", "path", path)

	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if !w.matches(path) {
			return
		}
		if w.cfg.SettleDelay <= 0 {
			w.ingest(ctx, path)
			return
		}
		w.mu.Lock()
		if t, ok := w.pending[path]; ok {
			t.Reset(w.cfg.SettleDelay)
		} else {
			w.pending[path] = time.AfterFunc(w.cfg.SettleDelay, func() {
				w.mu.Lock()
				delete(w.pending, path)
				w.mu.Unlock()
				if ctx.Err() == nil {
					w.ingest(ctx, path)
				}
			})
		}
		w.mu.Unlock()
	}
}

// matches reports whether the file name matches a configured pattern.
func (w *Watcher) matches(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	for _, p := range w.cfg.Patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// ingest claims path and submits it unless it was claimed already.
func (w *Watcher) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	if info.Size() < w.cfg.MinFileSize {
		w.logger.Debug("skipping file below minimum size", "path", path, "size", info.Size())
		return
	}

	w.mu.Lock()
	if w.claimed[path] {
		w.mu.Unlock()
		return
	}
	w.claimed[path] = true
	w.mu.Unlock()

	job, err := w.submitFile(ctx, path)
	if err != nil {
		w.mu.Lock()
		delete(w.claimed, path)
		w.lastErr = err.Error()
		w.mu.Unlock()
		w.logger.Warn("failed to submit watched file", "path", path, "error", err)
		return
	}
	w.logger.Info("submitted watched file", "path", path, "job_id", job.ID)
}

// submitFile stages path and submits a job for it with the watcher template.
func (w *Watcher) submitFile(ctx context.Context, path string) (*domain.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	ref, err := w.stager.Stage(ctx, data)
	if err != nil {
		return nil, err
	}

	// A fast job can finish before Submit returns; its outcome is parked in
	// early until the id is known.
	w.mu.Lock()
	w.submitting++
	w.mu.Unlock()

	job, err := w.submitter.Submit(ctx, task.SubmitRequest{
		ImageID:    ref.ID,
		TemplateID: w.cfg.TemplateID,
		SourceName: filepath.Base(path),
		OutputDir:  w.cfg.OutputDir,
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitting--
	if err == nil {
		w.submitted++
		if typ, ok := w.early[job.ID]; ok {
			delete(w.early, job.ID)
			w.countOutcome(typ)
		} else {
			w.jobs[job.ID] = struct{}{}
		}
	}
	if w.submitting == 0 && len(w.early) > 0 {
		w.early = make(map[uuid.UUID]events.Type)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// countOutcome records a terminal event. Callers hold w.mu.
func (w *Watcher) countOutcome(typ events.Type) {
	if typ == events.TypeCompleted {
		w.completed++
	} else {
		w.failed++
	}
}

// HandleEvent implements events.EventHandler. It counts the outcomes of jobs
// this watcher submitted.
func (w *Watcher) HandleEvent(ctx context.Context, event *events.JobEvent) error {
	if event.Type != events.TypeCompleted && event.Type != events.TypeFailed {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.jobs[event.JobID]; !ok {
		if w.submitting > 0 {
			w.early[event.JobID] = event.Type
		}
		return nil
	}
	delete(w.jobs, event.JobID)
	w.countOutcome(event.Type)
	return nil
}

// Status returns a snapshot of the watcher.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		State:      w.state,
		InputDir:   w.cfg.InputDir,
		OutputDir:  w.cfg.OutputDir,
		TemplateID: w.cfg.TemplateID,
		Patterns:   append([]string(nil), w.cfg.Patterns...),
		Claimed:    len(w.claimed),
		Submitted:  w.submitted,
		InFlight:   len(w.jobs),
		Completed:  w.completed,
		Failed:     w.failed,
		LastError:  w.lastErr,
	}
}
