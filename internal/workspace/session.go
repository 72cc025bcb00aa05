package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	lockFilename     = ".rpmforge-workspace.lock"
	stateFilename    = ".rpmforge-active-builds.json"
	requestsFilename = ".rpmforge-build-requests.jsonl"
)

var (
	ErrLock    = errors.New("workspace lock error")
	ErrBusy    = errors.New("workspace is already in use")
	ErrForward = errors.New("cannot forward build request")
)

// Kind of work an owning session performs. Forwarding is only permitted
// into running build sessions.
type SessionKind string

const (
	KindBuild       SessionKind = "build"
	KindMaintenance SessionKind = "maintenance"
)

// State-file entry describing one owning invocation.
type sessionEntry struct {
	PID          int      `json:"pid"`
	TargetID     string   `json:"target_id"`
	Packages     []string `json:"packages"`
	SessionKind  string   `json:"session_kind"`
	ForceRebuild bool     `json:"force_rebuild"`
	StartedAt    string   `json:"started_at_utc"`
}

type sessionState struct {
	Entries []sessionEntry `json:"entries"`
}

// An owned workspace. Hold it for the duration of the run and release it
// exactly once.
type Session struct {
	lockFile     *os.File
	statePath    string
	requestsPath string
	pid          int
	kind         SessionKind
}

// Acquires exclusive ownership of the output root, failing immediately
// when another invocation holds it.
func Acquire(topdir, targetID string, packages []string, kind SessionKind, forceRebuild bool) (*Session, error) {
	lockFile, statePath, err := openLock(topdir)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s (state file: %s)", ErrBusy, describeOwner(statePath), statePath)
		}
		return nil, fmt.Errorf("%w: flock: %w", ErrLock, err)
	}

	return newSession(lockFile, topdir, targetID, packages, kind, forceRebuild)
}

// A build request handed to an already-running owner instead of being
// executed by this invocation.
type Forwarded struct {
	OwnerPID    int      // Owning scheduler's process id.
	OwnerTarget string   // Owner's target identity.
	RequestPID  int      // This invocation's process id, as queued.
	Queued      []string // Package names submitted to the owner.

	requestsPath string
	statePath    string
}

// Acquires the workspace for a build, or forwards the package list to the
// invocation that already owns it.
//
// Forwarding requires the owner to be a build session against the same
// target identity; anything else is a hard conflict.
func AcquireOrForward(topdir, targetID string, packages []string, forceRebuild bool) (*Session, *Forwarded, error) {
	lockFile, statePath, err := openLock(topdir)
	if err != nil {
		return nil, nil, err
	}

	flockErr := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if flockErr == nil {
		session, err := newSession(lockFile, topdir, targetID, packages, KindBuild, forceRebuild)
		if err != nil {
			return nil, nil, err
		}
		return session, nil, nil
	}
	lockFile.Close()
	if !errors.Is(flockErr, unix.EWOULDBLOCK) {
		return nil, nil, fmt.Errorf("%w: flock: %w", ErrLock, flockErr)
	}

	state, err := loadState(statePath)
	if err != nil || len(state.Entries) == 0 {
		return nil, nil, fmt.Errorf("%w: lock held but active state is unavailable (state file: %s)", ErrForward, statePath)
	}
	owner := state.Entries[0]
	if owner.SessionKind != string(KindBuild) {
		return nil, nil, fmt.Errorf("%w: owner pid=%d target=%s kind=%s is not a build session", ErrForward, owner.PID, owner.TargetID, owner.SessionKind)
	}
	if owner.TargetID != targetID {
		return nil, nil, fmt.Errorf("%w: active target=%s, requested target=%s", ErrForward, owner.TargetID, targetID)
	}

	queued := cleanPackages(packages)
	if len(queued) == 0 {
		return nil, nil, fmt.Errorf("%w: no package names to submit", ErrForward)
	}

	pid := os.Getpid()
	if err := appendRequest(topdir, pid, targetID, queued); err != nil {
		return nil, nil, err
	}

	return nil, &Forwarded{
		OwnerPID:     owner.PID,
		OwnerTarget:  owner.TargetID,
		RequestPID:   pid,
		Queued:       queued,
		requestsPath: filepath.Join(topdir, requestsFilename),
		statePath:    statePath,
	}, nil
}

// Releases the workspace, removing the state file and the request channel
// when this was the last owning entry.
func (s *Session) Release() error {
	state, err := loadState(s.statePath)
	if err == nil {
		remaining := state.Entries[:0]
		for _, entry := range state.Entries {
			if entry.PID != s.pid {
				remaining = append(remaining, entry)
			}
		}
		state.Entries = remaining
		if len(state.Entries) == 0 {
			os.Remove(s.statePath)
			if s.kind == KindBuild {
				os.Remove(s.requestsPath)
			}
		} else {
			writeState(s.statePath, state)
		}
	}

	unix.Flock(int(s.lockFile.Fd()), unix.LOCK_UN)
	return s.lockFile.Close()
}

// Opens (creating if needed) the workspace lock file.
func openLock(topdir string) (*os.File, string, error) {
	if err := os.MkdirAll(topdir, 0o755); err != nil {
		return nil, "", fmt.Errorf("%w: creating output root: %w", ErrLock, err)
	}
	lockFile, err := os.OpenFile(filepath.Join(topdir, lockFilename), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("%w: opening lock file: %w", ErrLock, err)
	}
	return lockFile, filepath.Join(topdir, stateFilename), nil
}

// Publishes the owning session's state and stamps the lock file.
func newSession(lockFile *os.File, topdir, targetID string, packages []string, kind SessionKind, forceRebuild bool) (*Session, error) {
	pid := os.Getpid()
	state := &sessionState{Entries: []sessionEntry{{
		PID:          pid,
		TargetID:     targetID,
		Packages:     packages,
		SessionKind:  string(kind),
		ForceRebuild: forceRebuild,
		StartedAt:    time.Now().UTC().Format(time.RFC3339),
	}}}

	statePath := filepath.Join(topdir, stateFilename)
	if err := writeState(statePath, state); err != nil {
		lockFile.Close()
		return nil, err
	}

	if err := lockFile.Truncate(0); err == nil {
		fmt.Fprintf(lockFile, "pid=%d\n", pid)
	}

	return &Session{
		lockFile:     lockFile,
		statePath:    statePath,
		requestsPath: filepath.Join(topdir, requestsFilename),
		pid:          pid,
		kind:         kind,
	}, nil
}

// Reads the active-session state. A missing or empty file is an empty
// state; a malformed file is an error.
func loadState(path string) (*sessionState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &sessionState{}, nil
		}
		return nil, fmt.Errorf("%w: reading session state: %w", ErrLock, err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return &sessionState{}, nil
	}

	state := &sessionState{}
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("%w: parsing session state: %w", ErrLock, err)
	}
	for i := range state.Entries {
		if state.Entries[i].SessionKind == "" {
			state.Entries[i].SessionKind = string(KindBuild)
		}
	}
	return state, nil
}

// Commits the session state atomically via a temp file and rename.
func writeState(path string, state *sessionState) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: serializing session state: %w", ErrLock, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("%w: writing session state: %w", ErrLock, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: committing session state: %w", ErrLock, err)
	}
	return nil
}

// Summarizes the owning entry for conflict diagnostics.
func describeOwner(statePath string) string {
	state, err := loadState(statePath)
	if err != nil || len(state.Entries) == 0 {
		return "owner unknown"
	}
	owner := state.Entries[0]
	return fmt.Sprintf("pid=%d target=%s kind=%s packages=%s",
		owner.PID, owner.TargetID, owner.SessionKind, strings.Join(owner.Packages, ","))
}

// Trims and drops empty package names.
func cleanPackages(packages []string) []string {
	var cleaned []string
	for _, pkg := range packages {
		if trimmed := strings.TrimSpace(pkg); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
