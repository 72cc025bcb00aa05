package toolchain

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/phoreus/rpmforge/internal/classify"
	"github.com/phoreus/rpmforge/internal/pipeline"
	"github.com/phoreus/rpmforge/internal/recipe"
	"github.com/phoreus/rpmforge/internal/resolve"
	"github.com/phoreus/rpmforge/internal/runtime"
)

// In-memory container scripted per command substring. CopyFrom serves the
// artifact stream only after rpmbuild ran in this container, mirroring a
// real container's RPMS directory.
type fakeContainer struct {
	mu       sync.Mutex
	id       string
	execs    []string
	staged   []string // file names seen in CopyTo streams
	respond  func(command string) *runtime.ExecResult
	artifact []byte // tar stream served by CopyFrom once built
}

func (c *fakeContainer) Exec(_ context.Context, _ string, command string, _ []string, _ string) (*runtime.ExecResult, error) {
	c.mu.Lock()
	c.execs = append(c.execs, command)
	c.mu.Unlock()

	if c.respond != nil {
		if result := c.respond(command); result != nil {
			return result, nil
		}
	}
	return &runtime.ExecResult{ExitCode: 0}, nil
}

func (c *fakeContainer) MkdirAll(context.Context, string) error { return nil }

func (c *fakeContainer) CopyTo(_ context.Context, r io.Reader, _ string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.staged = append(c.staged, hdr.Name)
		c.mu.Unlock()
	}
}

func (c *fakeContainer) CopyFrom(_ context.Context, w io.Writer, _ string) error {
	if !c.ranBuild() {
		return nil // Nothing was built here; the RPMS tree is empty.
	}
	_, err := w.Write(c.artifact)
	return err
}

func (c *fakeContainer) ranBuild() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cmd := range c.execs {
		if strings.Contains(cmd, "rpmbuild -ba") {
			return true
		}
	}
	return false
}

// Hands out a fresh container per Acquire, the way the containerd-backed
// provider does.
type fakeProvider struct {
	mu         sync.Mutex
	respond    func(command string) *runtime.ExecResult
	artifact   []byte
	containers []*fakeContainer
	acquired   []string
	released   []string
}

func (p *fakeProvider) Acquire(_ context.Context, _ string, id string) (BuildContainer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctr := &fakeContainer{id: id, respond: p.respond, artifact: p.artifact}
	p.containers = append(p.containers, ctr)
	p.acquired = append(p.acquired, id)
	return ctr, nil
}

func (p *fakeProvider) Release(_ context.Context, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, id)
}

// All commands executed across every container, in acquire order.
func (p *fakeProvider) commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var all []string
	for _, ctr := range p.containers {
		ctr.mu.Lock()
		all = append(all, ctr.execs...)
		ctr.mu.Unlock()
	}
	return all
}

func (p *fakeProvider) buildCount() int {
	count := 0
	for _, cmd := range p.commands() {
		if strings.Contains(cmd, "rpmbuild -ba") {
			count++
		}
	}
	return count
}

func sampleNode() *resolve.Node {
	meta := &recipe.Metadata{
		Name:      "samtools",
		Version:   "1.10",
		SourceURL: "https://example.invalid/samtools-1.10.tar.bz2",
		Summary:   "Tools for SAM/BAM files",
		License:   "MIT",
		BuildDeps: []string{"gcc", "make"},
		HostDeps:  []string{"zlib-devel"},
		RunDeps:   []string{"zlib"},
	}
	return &resolve.Node{
		Name:          "samtools",
		Recipe:        "samtools",
		Version:       "1.10",
		InvocationKey: "samtools-1.10",
		Meta:          meta,
	}
}

// Two nodes sharing one recipe, one invocation key, and one build.
func siblingNodes() (*resolve.Node, *resolve.Node) {
	meta := &recipe.Metadata{
		Name:      "htslib",
		Version:   "1.17",
		SourceURL: "https://example.invalid/htslib-1.17.tar.bz2",
		Summary:   "HTS library",
		License:   "MIT",
		Outputs:   []string{"htslib", "htslib-devel"},
	}
	lib := &resolve.Node{
		Name:          "htslib",
		Recipe:        "htslib",
		Version:       "1.17",
		InvocationKey: "htslib-1.17",
		Meta:          meta,
	}
	devel := &resolve.Node{
		Name:          "htslib-devel",
		Recipe:        "htslib",
		Version:       "1.17",
		InvocationKey: "htslib-1.17",
		Meta:          meta,
	}
	return lib, devel
}

// Packs RPM entries into a tar stream the way CopyFrom delivers them.
func rpmTar(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range names {
		content := []byte("rpm-bytes")
		if err := tw.WriteHeader(&tar.Header{
			Name:     "RPMS/x86_64/" + name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestBuilderHappyPath(t *testing.T) {
	artifacts := t.TempDir()
	provider := &fakeProvider{
		artifact: rpmTar(t, "samtools-1.10-1.el9.x86_64.rpm"),
	}

	builder := NewBuilder(Config{Profile: "el9", ArtifactsDir: artifacts}, provider, classify.New())
	outcome := builder.Build(context.Background(), sampleNode(), 4)

	if !outcome.Succeeded {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(outcome.History) != len(pipeline.Stages) {
		t.Fatalf("history length = %d", len(outcome.History))
	}
	if len(provider.released) != 1 {
		t.Fatalf("released = %v", provider.released)
	}

	var sawInstall, sawBuild, sawFetch bool
	for _, cmd := range provider.commands() {
		if strings.HasPrefix(cmd, "dnf -y install ") {
			sawInstall = true
			// Build and host scopes merge into one sorted install set.
			if cmd != "dnf -y install gcc make zlib-devel" {
				t.Fatalf("install command = %q", cmd)
			}
		}
		if strings.Contains(cmd, "rpmbuild -ba") {
			sawBuild = true
			if !strings.Contains(cmd, "-j4") {
				t.Fatalf("build command missing job count: %q", cmd)
			}
		}
		if strings.HasPrefix(cmd, "curl ") {
			sawFetch = true
		}
	}
	if !sawInstall || !sawBuild || !sawFetch {
		t.Fatalf("commands = %v", provider.commands())
	}

	staged := strings.Join(provider.containers[0].staged, ",")
	if !strings.Contains(staged, "SPECS/samtools.spec") {
		t.Fatalf("staged = %v", provider.containers[0].staged)
	}

	extracted := filepath.Join(artifacts, "samtools-1.10-1.el9.x86_64.rpm")
	if _, err := os.Stat(extracted); err != nil {
		t.Fatalf("artifact not extracted: %v", err)
	}
}

func TestBuildFailureIsClassified(t *testing.T) {
	provider := &fakeProvider{
		respond: func(command string) *runtime.ExecResult {
			if strings.Contains(command, "rpmbuild -ba") {
				return &runtime.ExecResult{
					ExitCode: 2,
					Stderr:   "make: *** No rule to make target 'all'. Stop.",
				}
			}
			return nil
		},
	}

	builder := NewBuilder(Config{Profile: "el9", ArtifactsDir: t.TempDir()}, provider, classify.New())
	outcome := builder.Build(context.Background(), sampleNode(), 2)

	if outcome.Succeeded {
		t.Fatal("build unexpectedly succeeded")
	}
	if outcome.Failure.Stage != pipeline.StageBuild {
		t.Fatalf("failed stage = %v", outcome.Failure.Stage)
	}
	if outcome.Failure.Category != classify.CategoryBuildScriptContractFailure {
		t.Fatalf("category = %v", outcome.Failure.Category)
	}
}

func TestSiblingOutputsShareOneBuild(t *testing.T) {
	artifacts := t.TempDir()
	provider := &fakeProvider{
		artifact: rpmTar(t,
			"htslib-1.17-1.el9.x86_64.rpm",
			"htslib-devel-1.17-1.el9.x86_64.rpm",
		),
	}
	builder := NewBuilder(Config{Profile: "el9", ArtifactsDir: artifacts}, provider, classify.New())

	lib, devel := siblingNodes()
	for _, n := range []*resolve.Node{lib, devel} {
		outcome := builder.Build(context.Background(), n, 2)
		if !outcome.Succeeded {
			t.Fatalf("%s outcome = %+v", n.Name, outcome)
		}
	}

	if got := provider.buildCount(); got != 1 {
		t.Fatalf("rpmbuild ran %d times, want 1", got)
	}

	// Each sibling attempt gets its own container; sharing one id would
	// let a later attempt clobber an earlier sibling's running build.
	if len(provider.acquired) != 2 || provider.acquired[0] == provider.acquired[1] {
		t.Fatalf("acquired = %v", provider.acquired)
	}

	for _, name := range []string{
		"htslib-1.17-1.el9.x86_64.rpm",
		"htslib-devel-1.17-1.el9.x86_64.rpm",
	} {
		if _, err := os.Stat(filepath.Join(artifacts, name)); err != nil {
			t.Fatalf("artifact %s not extracted: %v", name, err)
		}
	}
}

func TestSiblingMissingArtifactFailsAlone(t *testing.T) {
	artifacts := t.TempDir()
	provider := &fakeProvider{
		// The shared build produces the primary output only.
		artifact: rpmTar(t, "htslib-1.17-1.el9.x86_64.rpm"),
	}
	builder := NewBuilder(Config{Profile: "el9", ArtifactsDir: artifacts}, provider, classify.New())

	lib, devel := siblingNodes()

	if outcome := builder.Build(context.Background(), lib, 2); !outcome.Succeeded {
		t.Fatalf("htslib outcome = %+v", outcome)
	}

	outcome := builder.Build(context.Background(), devel, 2)
	if outcome.Succeeded {
		t.Fatal("htslib-devel succeeded without an artifact")
	}
	if outcome.Failure.Stage != pipeline.StagePostBuildValidation {
		t.Fatalf("failed stage = %v", outcome.Failure.Stage)
	}
	if !strings.Contains(outcome.Failure.Excerpt, "no artifact produced for htslib-devel") {
		t.Fatalf("excerpt = %q", outcome.Failure.Excerpt)
	}
	if got := provider.buildCount(); got != 1 {
		t.Fatalf("rpmbuild ran %d times, want 1", got)
	}
}

func TestValidationFailsWithoutArtifact(t *testing.T) {
	provider := &fakeProvider{
		// Build succeeds but the RPMS tree holds an unrelated package.
		artifact: rpmTar(t, "other-2.0-1.el9.x86_64.rpm"),
	}

	builder := NewBuilder(Config{Profile: "el9", ArtifactsDir: t.TempDir()}, provider, classify.New())
	outcome := builder.Build(context.Background(), sampleNode(), 1)

	if outcome.Succeeded {
		t.Fatal("validation unexpectedly passed")
	}
	if outcome.Failure.Stage != pipeline.StagePostBuildValidation {
		t.Fatalf("failed stage = %v", outcome.Failure.Stage)
	}
}

func TestEnvironmentRequiresArtifactsDir(t *testing.T) {
	provider := &fakeProvider{}

	builder := NewBuilder(Config{Profile: "el9"}, provider, classify.New())
	outcome := builder.Build(context.Background(), sampleNode(), 1)

	if outcome.Succeeded {
		t.Fatal("build succeeded without an artifacts directory")
	}
	if outcome.Failure.Stage != pipeline.StageEnvironment {
		t.Fatalf("failed stage = %v", outcome.Failure.Stage)
	}
}

func TestContainerIDMapsHostileNames(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"htslib", "htslib"},
		{"gcc-c++", "gcc-c--"},
		{"Perl::Module", "perl--module"},
		{"lib_foo.2", "lib_foo.2"},
	}
	for _, tt := range tests {
		if got := containerID(tt.name); got != tt.want {
			t.Errorf("containerID(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRenderSpec(t *testing.T) {
	meta := &recipe.Metadata{
		Name:      "htslib",
		Version:   "1.17-rc1",
		SourceURL: "https://example.invalid/htslib-1.17.tar.bz2",
		Summary:   "HTS library",
		License:   "MIT",
		Outputs:   []string{"htslib", "htslib-devel"},
		Patches:   []string{"0001-fix.patch"},
		BuildDeps: []string{"gcc"},
		HostDeps:  []string{"zlib-devel"},
		RunDeps:   []string{"zlib"},
	}

	text, err := RenderSpec(meta, "x86_64")
	if err != nil {
		t.Fatalf("RenderSpec: %v", err)
	}

	for _, want := range []string{
		"Name:           htslib",
		"Version:        1.17~rc1", // dashes are invalid in RPM versions
		"Source0:        https://example.invalid/htslib-1.17.tar.bz2",
		"Patch0:         0001-fix.patch",
		"BuildRequires:  gcc",
		"BuildRequires:  zlib-devel",
		"Requires:       zlib",
		"%package -n htslib-devel",
		"%autosetup -p1 -n htslib-1.17",
		"ExclusiveArch:  x86_64",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("descriptor missing %q:\n%s", want, text)
		}
	}
}

func TestRenderSpecRejectsEmptyMetadata(t *testing.T) {
	if _, err := RenderSpec(nil, ""); err == nil {
		t.Fatal("expected error for nil metadata")
	}
	if _, err := RenderSpec(&recipe.Metadata{Name: "x"}, ""); err == nil {
		t.Fatal("expected error for missing version")
	}
}

func TestRPMSDirIndex(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"htslib-1.17-1.el9.x86_64.rpm",
		"htslib-devel-1.17-1.el9.x86_64.rpm",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	idx := &RPMSDirIndex{Dir: dir}

	path, ok := idx.Lookup("htslib")
	if !ok || !strings.HasSuffix(path, "htslib-1.17-1.el9.x86_64.rpm") {
		t.Fatalf("Lookup(htslib) = %q, %v", path, ok)
	}

	path, ok = idx.Lookup("htslib-devel")
	if !ok || !strings.HasSuffix(path, "htslib-devel-1.17-1.el9.x86_64.rpm") {
		t.Fatalf("Lookup(htslib-devel) = %q, %v", path, ok)
	}

	if _, ok := idx.Lookup("zlib"); ok {
		t.Fatal("Lookup(zlib) matched nothing on disk")
	}
}
