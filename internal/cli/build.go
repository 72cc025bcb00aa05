package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/phoreus/rpmforge/internal/classify"
	"github.com/phoreus/rpmforge/internal/paths"
	"github.com/phoreus/rpmforge/internal/recipe"
	"github.com/phoreus/rpmforge/internal/report"
	"github.com/phoreus/rpmforge/internal/resolve"
	ctrruntime "github.com/phoreus/rpmforge/internal/runtime"
	"github.com/phoreus/rpmforge/internal/scheduler"
	"github.com/phoreus/rpmforge/internal/stability"
	"github.com/phoreus/rpmforge/internal/toolchain"
	"github.com/phoreus/rpmforge/internal/workspace"
)

var (
	// A run that processed every node but failed at least one requested root.
	ErrRunFailed = errors.New("build run failed")

	// A run invalidated by the systemic failure guard. The environment, not
	// the packages, is the suspect; results must not be trusted.
	ErrSystemicallyInvalid = errors.New("run is systemically invalid")
)

// How long a forwarded invocation waits for the owning session to accept
// its packages before giving up.
const forwardWait = 2 * time.Minute

// Represents the 'rpmforge build' command.
type BuildCmd struct {
	RecipeRoot    string `help:"Directory holding converted recipes." default:"recipes" placeholder:"DIR"`
	Topdir        string `help:"Workspace root for locks and artifacts (default: XDG data dir)." placeholder:"DIR"`
	ReportsDir    string `help:"Directory receiving run reports (default: <topdir>/reports)." placeholder:"DIR"`
	QuarantineDir string `help:"Directory recording quarantined packages (default: <topdir>/quarantine)." placeholder:"DIR"`

	ClosurePolicy     string `help:"Dependency scopes to follow." enum:"run-only,build-host-run,runtime-transitive-root-build-host" default:"build-host-run"`
	MissingDependency string `help:"Outcome for unresolvable dependencies." enum:"fail,skip,quarantine" default:"quarantine"`
	NoDeps            bool   `help:"Build only the requested packages, no dependency expansion."`

	ParallelPolicy string `help:"Make-level concurrency policy." enum:"serial,adaptive" default:"adaptive"`
	BuildJobs      string `help:"Parallel make jobs per build, or 'auto' for host cores." default:"4"`
	QueueWorkers   int    `help:"Concurrent package builds (default: cores/jobs)."`

	Arch             string `help:"Target RPM architecture (default: host)." placeholder:"ARCH"`
	ContainerProfile string `help:"Container profile to build in." default:"el9"`
	ProfileArchive   string `help:"OCI archive to import when the profile image is missing." placeholder:"PATH"`

	ContainerdAddress   string `help:"containerd socket address." default:"/run/containerd/containerd.sock"`
	ContainerdNamespace string `help:"containerd namespace." default:"rpmforge"`

	PackagesFile string        `help:"File listing package names, one per line." placeholder:"PATH"`
	RulesFile    string        `help:"Classifier rule overlay (HCL)." placeholder:"PATH"`
	StageTimeout time.Duration `help:"Per-stage deadline, 0 for none."`
	ForceRebuild bool          `help:"Rebuild requested packages even when artifacts exist."`

	Packages []string `arg:"" optional:"" help:"Package names to build."`
}

// Executes the build command.
//
// Owns the workspace for the whole run; concurrent invocations against the
// same target are forwarded into this run between dispatches.
func (c *BuildCmd) Run(ctx context.Context) error {
	c.applyDefaults()

	packages, err := c.packageList()
	if err != nil {
		return err
	}
	if len(packages) == 0 {
		return errors.New("no packages requested")
	}

	targetID := c.ContainerProfile + "-" + c.Arch

	session, forwarded, err := workspace.AcquireOrForward(c.Topdir, targetID, packages, c.ForceRebuild)
	if err != nil {
		return err
	}
	if forwarded != nil {
		slog.Info("workspace busy, forwarded packages to the running session",
			"owner_pid", forwarded.OwnerPID,
			"target", forwarded.OwnerTarget,
			"packages", strings.Join(forwarded.Queued, ","),
		)
		waitCtx, cancel := context.WithTimeout(ctx, forwardWait)
		defer cancel()
		return forwarded.WaitAccepted(waitCtx)
	}
	defer session.Release()

	classifier, err := c.classifier()
	if err != nil {
		return err
	}

	rt, err := ctrruntime.New(c.ContainerdAddress, c.ContainerdNamespace)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := c.ensureProfile(ctx, rt); err != nil {
		return err
	}

	containers := &toolchain.RuntimeContainers{RT: rt}
	artifactsDir := filepath.Join(c.Topdir, "artifacts")

	// One probe container serves resolver queries for the whole run.
	probeID := "rpmforge-probe-" + strconv.Itoa(os.Getpid())
	probe, err := containers.Acquire(ctx, c.ContainerProfile, probeID)
	if err != nil {
		return fmt.Errorf("starting resolver probe container: %w", err)
	}
	defer containers.Release(context.WithoutCancel(ctx), probeID)

	resolver := resolve.New(
		recipe.NewRepository(c.RecipeRoot),
		resolve.Providers{
			Installed: &toolchain.RPMProbe{Ctr: probe},
			Artifacts: &toolchain.RPMSDirIndex{Dir: artifactsDir},
			Repos:     []resolve.RepoSource{&toolchain.DNFRepoSource{Ctr: probe}},
		},
		resolve.Options{
			Closure:    resolve.ClosurePolicy(c.ClosurePolicy),
			Missing:    resolve.MissingPolicy(c.MissingDependency),
			ExpandDeps: !c.NoDeps,
		},
	)

	graph, err := resolver.Resolve(ctx, c.requests(packages))
	if err != nil {
		return err
	}
	slog.Info("dependency graph resolved", "nodes", len(graph.Nodes), "roots", len(graph.Roots()))

	jobs, err := c.jobs()
	if err != nil {
		return err
	}

	builder := toolchain.NewBuilder(toolchain.Config{
		Profile:      c.ContainerProfile,
		Arch:         c.Arch,
		ArtifactsDir: artifactsDir,
		StageTimeout: c.StageTimeout,
	}, containers, classifier)

	intake := func(ctx context.Context, g *resolve.Graph) error {
		names, err := workspace.DrainForwardedRequests(c.Topdir, targetID)
		if err != nil || len(names) == 0 {
			return err
		}
		slog.Info("absorbing forwarded packages", "packages", strings.Join(names, ","))
		return resolver.ExpandInto(ctx, g, c.requests(names))
	}

	sched := scheduler.New(builder.Build, stability.NewStore(paths.StabilityCache()), scheduler.Config{
		Workers: c.workers(jobs),
		Jobs:    jobs,
		Serial:  c.ParallelPolicy == "serial",
		Intake:  intake,
	})

	summary, runErr := sched.Run(ctx, graph)

	if files, err := report.Write(c.ReportsDir, summary); err != nil {
		slog.Warn("writing reports failed", "error", err)
	} else {
		slog.Info("reports written", "dir", c.ReportsDir, "files", len(files))
	}
	c.recordQuarantined(summary)

	slog.Info("run finished",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"quarantined", summary.Quarantined,
		"skipped", summary.Skipped,
	)

	if runErr != nil {
		return runErr
	}
	if summary.SystemicallyInvalid {
		return fmt.Errorf("%w: repeated %s failures", ErrSystemicallyInvalid, summary.SystemicStage)
	}
	if failed := failedRoots(graph); len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrRunFailed, strings.Join(failed, ", "))
	}
	return nil
}

// Fills in path defaults that depend on each other.
func (c *BuildCmd) applyDefaults() {
	if c.Topdir == "" {
		c.Topdir = paths.Workspace()
	}
	if c.ReportsDir == "" {
		c.ReportsDir = filepath.Join(c.Topdir, "reports")
	}
	if c.QuarantineDir == "" {
		c.QuarantineDir = filepath.Join(c.Topdir, "quarantine")
	}
	if c.Arch == "" {
		c.Arch = rpmArch()
	}
}

// Merges positional packages with the packages file, preserving order and
// dropping duplicates, blanks, and comment lines.
func (c *BuildCmd) packageList() ([]string, error) {
	names := append([]string(nil), c.Packages...)

	if c.PackagesFile != "" {
		fh, err := os.Open(c.PackagesFile)
		if err != nil {
			return nil, fmt.Errorf("reading packages file: %w", err)
		}
		defer fh.Close()

		scanner := bufio.NewScanner(fh)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			names = append(names, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading packages file: %w", err)
		}
	}

	seen := make(map[string]bool, len(names))
	var unique []string
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			unique = append(unique, name)
		}
	}
	return unique, nil
}

func (c *BuildCmd) requests(names []string) []resolve.Request {
	requests := make([]resolve.Request, 0, len(names))
	for _, name := range names {
		requests = append(requests, resolve.Request{
			Name:    name,
			Arch:    c.Arch,
			Profile: c.ContainerProfile,
		})
	}
	return requests
}

// Builds the classifier, prepending the operator's rule overlay if given.
func (c *BuildCmd) classifier() (*classify.Classifier, error) {
	if c.RulesFile == "" {
		return classify.New(), nil
	}
	overlay, err := classify.LoadRules(c.RulesFile)
	if err != nil {
		return nil, err
	}
	slog.Debug("classifier overlay loaded", "path", c.RulesFile, "rules", len(overlay))
	return classify.NewWithRules(overlay), nil
}

// Verifies the profile image exists, importing it when an archive is given.
func (c *BuildCmd) ensureProfile(ctx context.Context, rt *ctrruntime.Runtime) error {
	ok, err := rt.HasProfile(ctx, c.ContainerProfile)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if c.ProfileArchive == "" {
		return fmt.Errorf("profile %q is not imported and no --profile-archive was given", c.ContainerProfile)
	}
	slog.Info("importing profile image", "profile", c.ContainerProfile, "archive", c.ProfileArchive)
	return rt.ImportProfile(ctx, c.ProfileArchive, c.ContainerProfile)
}

func (c *BuildCmd) jobs() (int, error) {
	if c.BuildJobs == "auto" {
		return runtime.NumCPU(), nil
	}
	jobs, err := strconv.Atoi(c.BuildJobs)
	if err != nil || jobs < 1 {
		return 0, fmt.Errorf("invalid --build-jobs %q", c.BuildJobs)
	}
	return jobs, nil
}

func (c *BuildCmd) workers(jobs int) int {
	if c.QueueWorkers > 0 {
		return c.QueueWorkers
	}
	workers := runtime.NumCPU() / jobs
	if workers < 1 {
		workers = 1
	}
	return workers
}

// Writes one record per quarantined node so operators can revisit them.
func (c *BuildCmd) recordQuarantined(summary *scheduler.RunSummary) {
	for _, result := range summary.Results {
		if result.State != resolve.StateQuarantined {
			continue
		}
		if err := os.MkdirAll(c.QuarantineDir, paths.DefaultDirMode); err != nil {
			slog.Warn("creating quarantine dir failed", "error", err)
			return
		}
		record := fmt.Sprintf("package: %s\nrun: %s\nreason: %s\n", result.Name, summary.RunID, result.Diagnostic)
		path := filepath.Join(c.QuarantineDir, result.Name+".txt")
		if err := os.WriteFile(path, []byte(record), paths.DefaultFileMode); err != nil {
			slog.Warn("writing quarantine record failed", "package", result.Name, "error", err)
		}
	}
}

// Requested roots that terminally failed.
func failedRoots(g *resolve.Graph) []string {
	var failed []string
	for _, root := range g.Roots() {
		if root.State == resolve.StateFailed {
			failed = append(failed, root.Name)
		}
	}
	return failed
}

// Maps the host architecture to RPM's naming.
func rpmArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return runtime.GOARCH
	}
}
