package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	topdir := t.TempDir()

	session, err := Acquire(topdir, "el9-x86_64", []string{"samtools"}, KindBuild, false)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	statePath := filepath.Join(topdir, stateFilename)
	raw, err := os.ReadFile(statePath)
	if err != nil {
		t.Fatalf("state file not written: %v", err)
	}
	if !strings.Contains(string(raw), `"target_id": "el9-x86_64"`) {
		t.Fatalf("state file missing target: %s", raw)
	}

	if err := session.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(statePath); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("state file survived release")
	}
}

func TestAcquireConflict(t *testing.T) {
	topdir := t.TempDir()

	session, err := Acquire(topdir, "el9-x86_64", []string{"samtools"}, KindBuild, false)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer session.Release()

	if _, err := Acquire(topdir, "el9-x86_64", []string{"bcftools"}, KindBuild, false); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Acquire err = %v, want ErrBusy", err)
	}
}

func TestForwardIntoRunningBuild(t *testing.T) {
	topdir := t.TempDir()

	session, _, err := AcquireOrForward(topdir, "el9-x86_64", []string{"samtools"}, false)
	if err != nil {
		t.Fatalf("owner AcquireOrForward: %v", err)
	}
	if session == nil {
		t.Fatal("first invocation did not become owner")
	}
	defer session.Release()

	owner2, forwarded, err := AcquireOrForward(topdir, "el9-x86_64", []string{"bcftools", " ", "blast"}, false)
	if err != nil {
		t.Fatalf("second AcquireOrForward: %v", err)
	}
	if owner2 != nil {
		t.Fatal("second invocation became owner while lock held")
	}
	if len(forwarded.Queued) != 2 || forwarded.Queued[0] != "bcftools" || forwarded.Queued[1] != "blast" {
		t.Fatalf("queued = %v", forwarded.Queued)
	}

	drained, err := DrainForwardedRequests(topdir, "el9-x86_64")
	if err != nil {
		t.Fatalf("DrainForwardedRequests: %v", err)
	}
	if len(drained) != 2 || drained[0] != "bcftools" || drained[1] != "blast" {
		t.Fatalf("drained = %v", drained)
	}

	// Once drained, the forwarded invocation observes acceptance.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := forwarded.WaitAccepted(ctx); err != nil {
		t.Fatalf("WaitAccepted after drain: %v", err)
	}
}

func TestForwardTargetMismatch(t *testing.T) {
	topdir := t.TempDir()

	session, err := Acquire(topdir, "el9-x86_64", []string{"samtools"}, KindBuild, false)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer session.Release()

	_, _, err = AcquireOrForward(topdir, "el8-aarch64", []string{"bcftools"}, false)
	if !errors.Is(err, ErrForward) {
		t.Fatalf("err = %v, want ErrForward", err)
	}
}

func TestForwardRejectsNonBuildOwner(t *testing.T) {
	topdir := t.TempDir()

	session, err := Acquire(topdir, "el9-x86_64", nil, KindMaintenance, false)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer session.Release()

	_, _, err = AcquireOrForward(topdir, "el9-x86_64", []string{"bcftools"}, false)
	if !errors.Is(err, ErrForward) {
		t.Fatalf("err = %v, want ErrForward", err)
	}
}

func TestDrainFiltersByTarget(t *testing.T) {
	topdir := t.TempDir()
	lines := `{"pid":1,"target_id":"target-a","packages":["samtools","bcftools"],"submitted_at_utc":"2026-03-01T00:00:00Z"}
{"pid":2,"target_id":"target-b","packages":["blast"],"submitted_at_utc":"2026-03-01T00:00:01Z"}
`
	path := filepath.Join(topdir, requestsFilename)
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}

	drained, err := DrainForwardedRequests(topdir, "target-a")
	if err != nil {
		t.Fatalf("DrainForwardedRequests: %v", err)
	}
	if len(drained) != 2 || drained[0] != "samtools" || drained[1] != "bcftools" {
		t.Fatalf("drained = %v", drained)
	}

	remainder, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(remainder), `"target_id":"target-b"`) {
		t.Fatalf("other target's request dropped: %s", remainder)
	}
	if strings.Contains(string(remainder), `"target_id":"target-a"`) {
		t.Fatalf("drained request retained: %s", remainder)
	}

	again, err := DrainForwardedRequests(topdir, "target-a")
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second drain returned %v", again)
	}
}

func TestDrainMissingChannel(t *testing.T) {
	drained, err := DrainForwardedRequests(t.TempDir(), "el9-x86_64")
	if err != nil || drained != nil {
		t.Fatalf("drained, err = %v, %v", drained, err)
	}
}

func TestWaitAcceptedTimesOut(t *testing.T) {
	topdir := t.TempDir()

	session, err := Acquire(topdir, "el9-x86_64", []string{"samtools"}, KindBuild, false)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer session.Release()

	_, forwarded, err := AcquireOrForward(topdir, "el9-x86_64", []string{"bcftools"}, false)
	if err != nil {
		t.Fatalf("AcquireOrForward: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := forwarded.WaitAccepted(ctx); !errors.Is(err, ErrForwardTimeout) {
		t.Fatalf("err = %v, want ErrForwardTimeout", err)
	}
}
