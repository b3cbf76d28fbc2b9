package runstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrNotFound is returned when no run record exists for a run id.
var ErrNotFound = errors.New("run not found")

// ErrTerminal is returned when Update is called on a run that already
// reached a terminal status. Terminal records are immutable.
var ErrTerminal = errors.New("run is terminal")

// CorruptStateError reports a persisted run record that failed to parse.
// BackupPath names the most recent known-good backup, if one exists; the
// caller decides whether to recover from it or escalate.
type CorruptStateError struct {
	RunID      string
	Path       string
	BackupPath string
	Err        error
}

func (e *CorruptStateError) Error() string {
	if e.BackupPath != "" {
		return fmt.Sprintf("run %s: corrupt state at %s (last backup: %s): %v", e.RunID, e.Path, e.BackupPath, e.Err)
	}
	return fmt.Sprintf("run %s: corrupt state at %s (no backup): %v", e.RunID, e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

// Store manages run state records on disk, one directory per run.
type Store struct {
	baseDir string // defaults to ~/.forgeline/runs
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.forgeline/runs, creating the
// directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".forgeline", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// RunDir returns the directory holding a run's record, events, and backups.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "run.json")
}

func (s *Store) backupDir(runID string) string {
	return filepath.Join(s.RunDir(runID), "backups")
}

// Create initialises a new run record on disk with status "pending".
func (s *Store) Create(runID, workflowID, workID, contextID string, phases []PhaseState) (*RunState, error) {
	dir := s.RunDir(runID)
	if _, err := os.Stat(s.runPath(runID)); err == nil {
		return nil, fmt.Errorf("run %s already exists", runID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rs := &RunState{
		RunID:      runID,
		WorkflowID: workflowID,
		WorkID:     workID,
		ContextID:  contextID,
		Status:     StatusPending,
		Phases:     phases,
		Steps:      []StepRecord{},
		StartedAt:  now,
		UpdatedAt:  now,
	}

	if err := WriteJSON(s.runPath(runID), rs); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}
	return rs, nil
}

// Load reads the run record for a run id. A record that fails to parse is
// reported as *CorruptStateError carrying the latest backup path; the store
// never attempts recovery on its own.
func (s *Store) Load(runID string) (*RunState, error) {
	var rs RunState
	if err := ReadJSON(s.runPath(runID), &rs); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, &CorruptStateError{
			RunID:      runID,
			Path:       s.runPath(runID),
			BackupPath: s.latestBackup(runID),
			Err:        err,
		}
	}
	return &rs, nil
}

// Update applies fn to a freshly loaded copy of the run record and writes
// the result back atomically. It is the only sanctioned way to mutate a
// run's state; callers serialize concurrent updates through the lock
// manager, not through the store. Updating a run that is already terminal
// fails with ErrTerminal.
func (s *Store) Update(runID string, fn func(*RunState)) (*RunState, error) {
	rs, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	if rs.Terminal() {
		return nil, fmt.Errorf("run %s (%s): %w", runID, rs.Status, ErrTerminal)
	}
	fn(rs)
	rs.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if rs.Terminal() && rs.CompletedAt == "" {
		rs.CompletedAt = rs.UpdatedAt
	}
	if err := WriteJSON(s.runPath(runID), rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// Backup snapshots the current run record before a risky external edit.
// It returns the backup file path.
func (s *Store) Backup(runID string) (string, error) {
	data, err := os.ReadFile(s.runPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return "", fmt.Errorf("read run.json: %w", err)
	}
	name := fmt.Sprintf("run-%s.json", time.Now().UTC().Format("20060102T150405.000000000Z"))
	path := filepath.Join(s.backupDir(runID), name)
	if err := WriteAtomic(path, data); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return path, nil
}

// latestBackup returns the newest backup path for a run, or "".
func (s *Store) latestBackup(runID string) string {
	entries, err := os.ReadDir(s.backupDir(runID))
	if err != nil || len(entries) == 0 {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(s.backupDir(runID), names[len(names)-1])
}

// List returns all runs, optionally filtered by status. Pass "" to return
// everything. Unparseable records are skipped.
func (s *Store) List(statusFilter string) ([]RunState, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []RunState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rs, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		if statusFilter == "" || rs.Status == statusFilter {
			runs = append(runs, *rs)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt != runs[j].StartedAt {
			return runs[i].StartedAt < runs[j].StartedAt
		}
		return runs[i].RunID < runs[j].RunID
	})
	return runs, nil
}
