package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

var ErrForwardTimeout = errors.New("forwarded build request was not accepted in time")

// How often a forwarded invocation re-checks the request channel.
const acceptancePollInterval = 200 * time.Millisecond

// One line of the JSONL request channel.
type queueRequest struct {
	PID         int      `json:"pid"`
	TargetID    string   `json:"target_id"`
	Packages    []string `json:"packages"`
	SubmittedAt string   `json:"submitted_at_utc"`
}

// Appends a forwarded request under an exclusive flock on the channel.
func appendRequest(topdir string, pid int, targetID string, packages []string) error {
	path := filepath.Join(topdir, requestsFilename)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: opening request channel: %w", ErrForward, err)
	}
	defer file.Close()

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("%w: locking request channel: %w", ErrForward, err)
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN)

	raw, err := json.Marshal(queueRequest{
		PID:         pid,
		TargetID:    targetID,
		Packages:    packages,
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("%w: serializing request: %w", ErrForward, err)
	}
	if _, err := file.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("%w: writing request channel: %w", ErrForward, err)
	}
	return nil
}

// Drains queued package names for one target identity from the request
// channel, rewriting the channel with the lines it did not consume.
//
// Requests for other targets and unparseable lines are retained. When the
// channel is missing or momentarily locked by a writer, nothing is
// drained; the owner polls again on its next pass.
func DrainForwardedRequests(topdir, targetID string) ([]string, error) {
	path := filepath.Join(topdir, requestsFilename)
	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: opening request channel: %w", ErrLock, err)
	}
	defer file.Close()

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: locking request channel: %w", ErrLock, err)
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN)

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: reading request channel: %w", ErrLock, err)
	}

	var queued []string
	var retained []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var req queueRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			retained = append(retained, line)
			continue
		}
		if req.TargetID != targetID {
			retained = append(retained, line)
			continue
		}
		queued = append(queued, cleanPackages(req.Packages)...)
	}

	if err := file.Truncate(0); err != nil {
		return nil, fmt.Errorf("%w: truncating request channel: %w", ErrLock, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: rewinding request channel: %w", ErrLock, err)
	}
	if len(retained) > 0 {
		if _, err := file.WriteString(strings.Join(retained, "\n") + "\n"); err != nil {
			return nil, fmt.Errorf("%w: rewriting request channel: %w", ErrLock, err)
		}
	}

	return queued, nil
}

// Blocks until the owning scheduler drains this invocation's request,
// the owner disappears, or the context expires.
//
// Acceptance is observed as the request line vanishing from the channel.
// An owner that exits without draining removes the channel on release;
// that also counts as the request never being accepted.
func (f *Forwarded) WaitAccepted(ctx context.Context) error {
	ticker := time.NewTicker(acceptancePollInterval)
	defer ticker.Stop()

	for {
		pending, err := f.pending()
		if err != nil {
			return err
		}
		if !pending {
			return nil
		}

		if _, err := os.Stat(f.statePath); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: owning session exited before draining", ErrForwardTimeout)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrForwardTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Whether this invocation's request line is still queued.
func (f *Forwarded) pending() (bool, error) {
	raw, err := os.ReadFile(f.requestsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: reading request channel: %w", ErrLock, err)
	}

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var req queueRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			continue
		}
		if req.PID == f.RequestPID && req.TargetID == f.OwnerTarget {
			return true, nil
		}
	}
	return false, nil
}
