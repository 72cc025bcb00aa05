package toolchain

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/phoreus/rpmforge/internal/pipeline"
	"github.com/phoreus/rpmforge/internal/resolve"
	"github.com/phoreus/rpmforge/internal/runtime"
)

// Commands the executor needs from a build container.
// *runtime.Container satisfies it; tests inject fakes.
type BuildContainer interface {
	Exec(ctx context.Context, shell, command string, env []string, workdir string) (*runtime.ExecResult, error)
	MkdirAll(ctx context.Context, path string) error
	CopyTo(ctx context.Context, r io.Reader, destDir string) error
	CopyFrom(ctx context.Context, w io.Writer, path string) error
}

// Provides build containers per attempt.
type ContainerProvider interface {
	Acquire(ctx context.Context, profile, id string) (BuildContainer, error)
	Release(ctx context.Context, id string)
}

// Executor tuning shared by all attempts of a run.
type Config struct {
	Profile      string        // Container profile to build in.
	Arch         string        // Target architecture, empty for noarch descriptors.
	Topdir       string        // rpmbuild topdir inside the container.
	ArtifactsDir string        // Host directory receiving produced RPMs. Required.
	Shell        string        // Shell for in-container commands.
	StageTimeout time.Duration // Per-stage deadline, zero for none.
}

func (c Config) withDefaults() Config {
	if c.Topdir == "" {
		c.Topdir = "/root/rpmbuild"
	}
	if c.Shell == "" {
		c.Shell = "/bin/sh"
	}
	return c
}

// Drives the pipeline stages for one node attempt.
//
// Stage errors carry the raw toolchain signal in their message; the
// pipeline classifies them, the executor never does.
type Executor struct {
	node        *resolve.Node
	jobs        int
	cfg         Config
	containers  ContainerProvider
	invocations *Invocations

	ctr      BuildContainer
	ctrID    string
	specText string
}

// Creates an executor for one attempt of one node at the given job count.
func NewExecutor(node *resolve.Node, jobs int, cfg Config, containers ContainerProvider, invocations *Invocations) *Executor {
	if jobs < 1 {
		jobs = 1
	}
	return &Executor{
		node:        node,
		jobs:        jobs,
		cfg:         cfg.withDefaults(),
		containers:  containers,
		invocations: invocations,
		ctrID:       "rpmforge-" + containerID(node.Name),
	}
}

// Maps a package name onto containerd's identifier alphabet. Sibling
// outputs of one recipe must land in distinct containers, so the id is
// derived from the output name, never the recipe name.
func containerID(name string) string {
	mapped := []byte(strings.ToLower(name))
	for i, c := range mapped {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '.', c == '_':
		default:
			mapped[i] = '-'
		}
	}
	return string(mapped)
}

// Releases the attempt's container, if one was acquired.
func (e *Executor) Close(ctx context.Context) {
	if e.ctr != nil {
		e.containers.Release(ctx, e.ctrID)
		e.ctr = nil
	}
}

// Dispatches one pipeline stage.
func (e *Executor) RunStage(ctx context.Context, stage pipeline.Stage) error {
	if e.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.StageTimeout)
		defer cancel()
	}

	switch stage {
	case pipeline.StageEnvironment:
		return e.environment(ctx)
	case pipeline.StageIngestion:
		return e.ingestion()
	case pipeline.StageDependencyNormalization:
		return e.dependencyNormalization(ctx)
	case pipeline.StageSpecGeneration:
		return e.specGeneration()
	case pipeline.StageSourceNormalization:
		return e.sourceNormalization(ctx)
	case pipeline.StageBuild:
		return e.buildStage(ctx)
	case pipeline.StagePostBuildValidation:
		return e.postBuildValidation(ctx)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

// Brings the build container up and verifies the packaging toolchain.
func (e *Executor) environment(ctx context.Context) error {
	if e.cfg.ArtifactsDir == "" {
		return fmt.Errorf("no artifacts directory configured")
	}

	ctr, err := e.containers.Acquire(ctx, e.cfg.Profile, e.ctrID)
	if err != nil {
		return fmt.Errorf("container engine: %w", err)
	}
	e.ctr = ctr

	result, err := ctr.Exec(ctx, e.cfg.Shell, "rpmbuild --version", nil, "")
	if err != nil {
		return fmt.Errorf("container engine: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("rpmbuild unavailable in profile %s: %s", e.cfg.Profile, result.Stderr)
	}

	for _, sub := range []string{"SPECS", "SOURCES", "RPMS", "BUILD"} {
		if err := ctr.MkdirAll(ctx, path.Join(e.cfg.Topdir, sub)); err != nil {
			return fmt.Errorf("preparing build root: %w", err)
		}
	}
	return nil
}

// Checks that the rendered metadata covers what the later stages need.
func (e *Executor) ingestion() error {
	meta := e.node.Meta
	if meta == nil {
		return fmt.Errorf("no rendered metadata for %s", e.node.Name)
	}
	if meta.Name == "" || meta.Version == "" {
		return fmt.Errorf("rendered metadata for %s missing name or version", e.node.Name)
	}
	return nil
}

// Installs the normalized BuildRequires set into the container.
func (e *Executor) dependencyNormalization(ctx context.Context) error {
	deps := unionDeps(e.node.Meta.BuildDeps, e.node.Meta.HostDeps)
	if len(deps) == 0 {
		return nil
	}

	cmd := "dnf -y install " + strings.Join(deps, " ")
	result, err := e.ctr.Exec(ctx, e.cfg.Shell, cmd, nil, "")
	if err != nil {
		return fmt.Errorf("container engine: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("installing build requirements failed:\n%s", tail(result.Stderr, result.Stdout))
	}
	return nil
}

// Renders the packaging descriptor from the metadata.
func (e *Executor) specGeneration() error {
	text, err := RenderSpec(e.node.Meta, e.cfg.Arch)
	if err != nil {
		return err
	}
	e.specText = text
	return nil
}

// Stages the descriptor, patches, and upstream source into the container.
//
// The descriptor and patch files travel as one tar stream; the source
// archive is fetched from inside the container so the build sees the
// same network view rpmbuild will.
func (e *Executor) sourceNormalization(ctx context.Context) error {
	meta := e.node.Meta

	stream, err := e.stagingArchive()
	if err != nil {
		return err
	}
	if err := e.ctr.CopyTo(ctx, stream, e.cfg.Topdir); err != nil {
		return fmt.Errorf("staging build inputs: %w", err)
	}

	if meta.SourceURL == "" {
		return nil
	}
	fetch := fmt.Sprintf("curl -fsSL -o %s %s",
		path.Join(e.cfg.Topdir, "SOURCES", path.Base(meta.SourceURL)), meta.SourceURL)
	result, err := e.ctr.Exec(ctx, e.cfg.Shell, fetch, nil, "")
	if err != nil {
		return fmt.Errorf("container engine: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("fetching source %s failed: %s", meta.SourceURL, tail(result.Stderr, result.Stdout))
	}
	return nil
}

// Builds the tar stream carrying the descriptor and patch files.
func (e *Executor) stagingArchive() (io.Reader, error) {
	meta := e.node.Meta

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	spec := []byte(e.specText)
	if err := writeTarFile(tw, path.Join("SPECS", meta.Name+".spec"), spec); err != nil {
		return nil, err
	}

	for _, patch := range meta.Patches {
		raw, err := os.ReadFile(filepath.Join(meta.Dir, patch))
		if err != nil {
			return nil, fmt.Errorf("reading patch %s: %w", patch, err)
		}
		if err := writeTarFile(tw, path.Join("SOURCES", patch), raw); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("staging archive: %w", err)
	}
	return &buf, nil
}

func writeTarFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("staging archive: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("staging archive: %w", err)
	}
	return nil
}

// Runs the shared rpmbuild invocation, once per invocation key and job
// count, then exports every produced package to the host.
//
// Sibling outputs of a multi-output recipe observe the same result, and
// only the attempt that actually ran rpmbuild exports artifacts: siblings
// whose invocation was deduped validate against the host directory, never
// against their own (empty) container.
func (e *Executor) buildStage(ctx context.Context) error {
	run := func() error {
		cmd := fmt.Sprintf("rpmbuild -ba %s --define '_topdir %s' --define '_smp_mflags -j%d'",
			path.Join(e.cfg.Topdir, "SPECS", e.node.Meta.Name+".spec"), e.cfg.Topdir, e.jobs)
		result, err := e.ctr.Exec(ctx, e.cfg.Shell, cmd, nil, "")
		if err != nil {
			return fmt.Errorf("container engine: %w", err)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("rpmbuild failed with exit code %d:\n%s", result.ExitCode, tail(result.Stderr, result.Stdout))
		}
		return e.exportArtifacts(ctx)
	}

	if e.invocations == nil {
		return run()
	}
	key := fmt.Sprintf("%s@%d", e.node.InvocationKey, e.jobs)
	return e.invocations.Do(key, run)
}

// Copies every RPM the build produced out of this attempt's container
// into the host artifacts directory.
func (e *Executor) exportArtifacts(ctx context.Context) error {
	var archive bytes.Buffer
	if err := e.ctr.CopyFrom(ctx, &archive, path.Join(e.cfg.Topdir, "RPMS")); err != nil {
		return fmt.Errorf("copying artifacts out: %w", err)
	}
	if err := extractTar(&archive, e.cfg.ArtifactsDir); err != nil {
		return fmt.Errorf("extracting artifacts: %w", err)
	}
	return nil
}

// Confirms the shared build produced this output's artifact.
//
// The probe reads the host artifacts directory rather than the attempt's
// container: for a multi-output recipe the build may have run in a
// sibling's container, and the shared invocation exported everything it
// produced before any output is validated. Each output therefore succeeds
// or fails on its own artifact.
func (e *Executor) postBuildValidation(context.Context) error {
	prefix := fmt.Sprintf("%s-%s", e.node.Name, rpmVersion(e.node.Version))

	entries, err := os.ReadDir(e.cfg.ArtifactsDir)
	if err != nil {
		return fmt.Errorf("scanning artifacts: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".rpm") {
			continue
		}
		if strings.HasPrefix(name, prefix) {
			return nil
		}
	}
	return fmt.Errorf("error: no artifact produced for %s (expected %s*.rpm)", e.node.Name, prefix)
}

// Unpacks a tar stream of produced RPMs under destDir, flattening the
// in-container directory layout and ignoring non-package entries.
func extractTar(r io.Reader, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, ".rpm") {
			continue
		}

		dest := filepath.Join(destDir, filepath.Base(hdr.Name))
		fh, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(fh, tr); err != nil {
			fh.Close()
			return err
		}
		if err := fh.Close(); err != nil {
			return err
		}
	}
}

// Picks the more useful stream for a failure signal, bounded.
func tail(stderr, stdout string) string {
	s := strings.TrimSpace(stderr)
	if s == "" {
		s = strings.TrimSpace(stdout)
	}
	const maxSignal = 4096
	if len(s) > maxSignal {
		s = s[len(s)-maxSignal:]
	}
	return s
}
