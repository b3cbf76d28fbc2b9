// Package events provides the append-only, per-run audit log. Events are
// never mutated or deleted; emit either durably commits an entry or fails
// loudly so the orchestrator can record the gap.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types emitted by the orchestrator.
const (
	TypeRunCreated       = "run_created"
	TypePhaseStart       = "phase_start"
	TypePhaseComplete    = "phase_complete"
	TypePhaseRetry       = "phase_retry"
	TypePhaseSkipped     = "phase_skipped"
	TypeStepStart        = "step_start"
	TypeStepComplete     = "step_complete"
	TypeStepSkipped      = "step_skipped"
	TypeGateDecision     = "gate_decision"
	TypeRecoveryApplied  = "recovery_applied"
	TypeLockReclaimed    = "lock_reclaimed"
	TypeWorkflowPaused   = "workflow_paused"
	TypeWorkflowResumed  = "workflow_resumed"
	TypeWorkflowComplete = "workflow_complete"
	TypeWorkflowFailed   = "workflow_failed"
	TypeWorkflowStopped  = "workflow_stopped"
)

// Event is one immutable entry in a run's log. EventID is monotonic
// within the run.
type Event struct {
	EventID   int64             `json:"event_id"`
	Type      string            `json:"type"`
	Timestamp string            `json:"timestamp"`
	RunID     string            `json:"run_id"`
	Phase     string            `json:"phase,omitempty"`
	StepID    string            `json:"step_id,omitempty"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Filter narrows a read to matching events. Zero fields match everything.
type Filter struct {
	Type   string
	Phase  string
	StepID string
}

func (f Filter) matches(e *Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Phase != "" && e.Phase != f.Phase {
		return false
	}
	if f.StepID != "" && e.StepID != f.StepID {
		return false
	}
	return true
}

// Log appends and reads per-run event files, one events.jsonl per run
// directory under baseDir.
type Log struct {
	baseDir string

	mu     sync.Mutex
	nextID map[string]int64
}

// NewLog creates a Log whose run directories live under baseDir (the same
// root the run state store uses).
func NewLog(baseDir string) *Log {
	return &Log{baseDir: baseDir, nextID: make(map[string]int64)}
}

func (l *Log) path(runID string) string {
	return filepath.Join(l.baseDir, runID, "events.jsonl")
}

// Emit appends an event to the run's log and returns its id. The entry is
// synced to disk before Emit returns; any failure is reported to the
// caller, never swallowed.
func (l *Log) Emit(runID string, e Event) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := l.reserveID(runID)
	if err != nil {
		return 0, err
	}

	e.EventID = id
	e.RunID = runID
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(&e)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')

	path := l.path(runID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync event log: %w", err)
	}

	l.nextID[runID] = id + 1
	return id, nil
}

// reserveID returns the next monotonic id for a run, scanning the existing
// log on first use after process start.
func (l *Log) reserveID(runID string) (int64, error) {
	if id, ok := l.nextID[runID]; ok {
		return id, nil
	}
	last, err := l.lastID(runID)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

func (l *Log) lastID(runID string) (int64, error) {
	f, err := os.Open(l.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var last int64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue // tolerate a torn trailing line
		}
		if e.EventID > last {
			last = e.EventID
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("scan event log: %w", err)
	}
	return last, nil
}

// Reader lazily yields a run's events in event_id order. Each call to
// Read opens a fresh Reader, so consumption is restartable.
type Reader struct {
	f      *os.File
	sc     *bufio.Scanner
	filter Filter
}

// Read opens a lazy reader over the run's events matching the filter.
// Returns an empty reader if the run has no log yet.
func (l *Log) Read(runID string, f Filter) (*Reader, error) {
	file, err := os.Open(l.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return &Reader{filter: f}, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{f: file, sc: sc, filter: f}, nil
}

// Next returns the next matching event, or io.EOF when exhausted.
func (r *Reader) Next() (*Event, error) {
	if r.sc == nil {
		return nil, io.EOF
	}
	for r.sc.Scan() {
		var e Event
		if err := json.Unmarshal(r.sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("parse event: %w", err)
		}
		if r.filter.matches(&e) {
			return &e, nil
		}
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return nil, io.EOF
}

// Close releases the reader's file handle.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	return r.f.Close()
}

// ReadAll collects a run's matching events into a slice.
func (l *Log) ReadAll(runID string, f Filter) ([]Event, error) {
	r, err := l.Read(runID, f)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []Event
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
}
