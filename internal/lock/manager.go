// Package lock provides cooperative, context-scoped mutual exclusion for
// workflow runs. Locks are advisory files, one per execution context,
// recording the holder's identity and acquisition time. A lock whose
// holder is not verifiably alive, or whose age exceeds the staleness
// threshold, is reclaimable by the next acquire attempt.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// DefaultStaleAfter is the staleness threshold applied when none is
// configured.
const DefaultStaleAfter = 5 * time.Minute

// ConflictError reports that another holder is active on the context.
// The caller can present a conflict resolution: take over, create an
// isolated context, or abort.
type ConflictError struct {
	ContextID  string
	Holder     string
	PID        int
	AcquiredAt time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("context %q is locked by %s (pid %d) since %s",
		e.ContextID, e.Holder, e.PID, e.AcquiredAt.Format(time.RFC3339))
}

// Token proves ownership of a context's lock. Reclaimed is set when the
// acquire displaced a stale lock.
type Token struct {
	ContextID  string    `json:"context_id"`
	Holder     string    `json:"holder"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	Reclaimed  bool      `json:"-"`
}

// Manager owns the lock files for all execution contexts under one
// directory.
type Manager struct {
	dir        string
	staleAfter time.Duration
	alive      func(pid int) bool
}

// NewManager creates a Manager storing locks under dir. staleAfter <= 0
// selects DefaultStaleAfter.
func NewManager(dir string, staleAfter time.Duration) *Manager {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Manager{dir: dir, staleAfter: staleAfter, alive: processAlive}
}

// DefaultManager returns a Manager at ~/.forgeline/locks.
func DefaultManager(staleAfter time.Duration) (*Manager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".forgeline", "locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return NewManager(dir, staleAfter), nil
}

// SetAliveCheck overrides holder liveness detection (for testing).
func (m *Manager) SetAliveCheck(fn func(pid int) bool) {
	m.alive = fn
}

func (m *Manager) lockPath(contextID string) string {
	return filepath.Join(m.dir, contextID+".lock")
}

// Acquire takes the lock for a context on behalf of holder. If another
// holder is live and below the staleness threshold it fails with
// *ConflictError; a stale lock is transparently reclaimed and the returned
// token has Reclaimed set.
func (m *Manager) Acquire(contextID, holder string) (*Token, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", m.dir, err)
	}

	reclaimed := false
	for attempt := 0; attempt < 2; attempt++ {
		tok := &Token{
			ContextID:  contextID,
			Holder:     holder,
			PID:        os.Getpid(),
			AcquiredAt: time.Now().UTC(),
			Reclaimed:  reclaimed,
		}
		err := m.writeExclusive(tok)
		if err == nil {
			return tok, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock for %q: %w", contextID, err)
		}

		existing, readErr := m.read(contextID)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				continue // released between attempts; retry the create
			}
			// Unreadable lock file: treat as stale and reclaim.
			if rmErr := os.Remove(m.lockPath(contextID)); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, fmt.Errorf("reclaim unreadable lock for %q: %w", contextID, rmErr)
			}
			reclaimed = true
			continue
		}

		if !m.stale(existing) {
			return nil, &ConflictError{
				ContextID:  contextID,
				Holder:     existing.Holder,
				PID:        existing.PID,
				AcquiredAt: existing.AcquiredAt,
			}
		}

		if err := os.Remove(m.lockPath(contextID)); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reclaim stale lock for %q: %w", contextID, err)
		}
		reclaimed = true
	}

	return nil, fmt.Errorf("acquire lock for %q: contended beyond retry", contextID)
}

// Release gives up the lock. It is idempotent: releasing an already
// released or foreign token is a no-op, so crash-then-restart sequences
// cannot deadlock.
func (m *Manager) Release(tok *Token) error {
	if tok == nil {
		return nil
	}
	existing, err := m.read(tok.ContextID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lock for %q: %w", tok.ContextID, err)
	}
	if existing.Holder != tok.Holder || existing.PID != tok.PID {
		return nil
	}
	if err := os.Remove(m.lockPath(tok.ContextID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock for %q: %w", tok.ContextID, err)
	}
	return nil
}

// ForceRelease removes a context's lock regardless of holder. Operator
// escape hatch; normal code paths use Release.
func (m *Manager) ForceRelease(contextID string) error {
	if err := os.Remove(m.lockPath(contextID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock for %q: %w", contextID, err)
	}
	return nil
}

// IsStale reports whether the context's lock exists and is reclaimable.
func (m *Manager) IsStale(contextID string) (bool, error) {
	existing, err := m.read(contextID)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return m.stale(existing), nil
}

// Status returns the current lock for a context, or nil if unlocked.
func (m *Manager) Status(contextID string) (*Token, error) {
	existing, err := m.read(contextID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return existing, nil
}

// stale reports whether a lock is reclaimable: its holder is not alive,
// or its age exceeds the threshold.
func (m *Manager) stale(tok *Token) bool {
	if !m.alive(tok.PID) {
		return true
	}
	return time.Since(tok.AcquiredAt) > m.staleAfter
}

// writeExclusive creates the lock file, failing if one already exists.
func (m *Manager) writeExclusive(tok *Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(m.lockPath(tok.ContextID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(m.lockPath(tok.ContextID))
		return fmt.Errorf("write lock: %w", err)
	}
	return f.Close()
}

func (m *Manager) read(contextID string) (*Token, error) {
	data, err := os.ReadFile(m.lockPath(contextID))
	if err != nil {
		return nil, err
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse lock for %q: %w", contextID, err)
	}
	tok.ContextID = contextID
	return &tok, nil
}

// processAlive reports whether a pid exists and accepts signals.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
