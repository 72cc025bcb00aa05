package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver probe answering "already installed" against the execution
// environment by querying the rpm database inside a probe container.
type RPMProbe struct {
	Ctr   BuildContainer
	Shell string
}

func (p *RPMProbe) Installed(ctx context.Context, component string) (bool, error) {
	shell := p.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	result, err := p.Ctr.Exec(ctx, shell, fmt.Sprintf("rpm -q --whatprovides %q", component), nil, "")
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

// Resolver repository source answering through dnf repoquery inside a
// probe container.
type DNFRepoSource struct {
	Ctr      BuildContainer
	RepoName string
	Shell    string
}

func (s *DNFRepoSource) Name() string {
	if s.RepoName == "" {
		return "dnf"
	}
	return s.RepoName
}

func (s *DNFRepoSource) Provides(ctx context.Context, component string) (bool, error) {
	shell := s.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := fmt.Sprintf("dnf -q repoquery --whatprovides %q", component)
	result, err := s.Ctr.Exec(ctx, shell, cmd, nil, "")
	if err != nil {
		return false, err
	}
	if result.ExitCode != 0 {
		return false, fmt.Errorf("repoquery failed: %s", tail(result.Stderr, result.Stdout))
	}
	return strings.TrimSpace(result.Stdout) != "", nil
}

// Resolver artifact index over a directory of previously produced RPMs.
type RPMSDirIndex struct {
	Dir string
}

// Matches files named component-<something>.rpm where <something>
// starts with a digit, so "htslib" does not claim "htslib-devel".
func (i *RPMSDirIndex) Lookup(component string) (string, bool) {
	entries, err := os.ReadDir(i.Dir)
	if err != nil {
		return "", false
	}

	prefix := component + "-"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".rpm") || !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if len(rest) > 0 && rest[0] >= '0' && rest[0] <= '9' {
			return filepath.Join(i.Dir, name), true
		}
	}
	return "", false
}
