package recipe

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrParse          = errors.New("failed to parse rendered metadata")
	ErrRecipeNotFound = errors.New("recipe not found")
)

// Dependency scope declared by a recipe.
type Scope string

const (
	ScopeBuild Scope = "build"
	ScopeHost  Scope = "host"
	ScopeRun   Scope = "run"
)

// Normalized in-memory form of one rendered recipe.
type Metadata struct {
	Name      string   // Package name.
	Version   string   // Declared version string.
	SourceURL string   // Upstream source archive URL, may be empty.
	Homepage  string   // Upstream homepage, may be empty.
	License   string   // Declared license, "NOASSERTION" when absent.
	Summary   string   // One-line description.
	Outputs   []string // Declared build outputs; empty means a single output named after the package.
	Patches   []string // Declared patch files, in application order.
	Dir       string   // Recipe directory on disk, set when loaded from a repository.

	BuildDeps []string // Normalized build-scope dependencies, sorted.
	HostDeps  []string // Normalized host-scope dependencies, sorted.
	RunDeps   []string // Normalized run-scope dependencies, sorted.
}

// Returns the normalized dependencies declared for the given scope.
func (m *Metadata) Deps(scope Scope) []string {
	switch scope {
	case ScopeBuild:
		return m.BuildDeps
	case ScopeHost:
		return m.HostDeps
	case ScopeRun:
		return m.RunDeps
	}
	return nil
}

// Returns the effective build outputs: the declared outputs, or the
// package's own name when the recipe declares none.
func (m *Metadata) EffectiveOutputs() []string {
	if len(m.Outputs) > 0 {
		return m.Outputs
	}
	return []string{m.Name}
}

// Scalar that preserves the literal YAML text.
//
// Versions like "1.10" must not round-trip through a float.
type literalScalar string

func (s *literalScalar) UnmarshalYAML(node *yaml.Node) error {
	*s = literalScalar(node.Value)
	return nil
}

// On-disk shape of a rendered meta.yaml.
type metaFile struct {
	Package struct {
		Name    literalScalar `yaml:"name"`
		Version literalScalar `yaml:"version"`
	} `yaml:"package"`
	Source yaml.Node `yaml:"source"`
	About  struct {
		Home    string `yaml:"home"`
		License string `yaml:"license"`
		Summary string `yaml:"summary"`
	} `yaml:"about"`
	Requirements struct {
		Build []literalScalar `yaml:"build"`
		Host  []literalScalar `yaml:"host"`
		Run   []literalScalar `yaml:"run"`
	} `yaml:"requirements"`
	Outputs []struct {
		Name literalScalar `yaml:"name"`
	} `yaml:"outputs"`
}

// Parses rendered recipe metadata into its normalized form.
func ParseMetadata(rendered []byte) (*Metadata, error) {
	var file metaFile
	if err := yaml.Unmarshal(rendered, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	name := strings.TrimSpace(string(file.Package.Name))
	if name == "" {
		return nil, fmt.Errorf("%w: missing package.name", ErrParse)
	}
	version := strings.TrimSpace(string(file.Package.Version))
	if version == "" {
		return nil, fmt.Errorf("%w: missing package.version", ErrParse)
	}

	meta := &Metadata{
		Name:      name,
		Version:   version,
		Homepage:  file.About.Home,
		License:   file.About.License,
		Summary:   file.About.Summary,
		BuildDeps: normalizeDeps(file.Requirements.Build),
		HostDeps:  normalizeDeps(file.Requirements.Host),
		RunDeps:   normalizeDeps(file.Requirements.Run),
	}
	if meta.License == "" {
		meta.License = "NOASSERTION"
	}
	if meta.Summary == "" {
		meta.Summary = fmt.Sprintf("Generated package for %s", name)
	}

	meta.SourceURL, meta.Patches = sourceInfo(&file.Source)

	for _, out := range file.Outputs {
		if n := strings.TrimSpace(string(out.Name)); n != "" {
			meta.Outputs = append(meta.Outputs, n)
		}
	}

	return meta, nil
}

// Normalizes a declared dependency list: dedupe, drop empties, sort.
func normalizeDeps(raw []literalScalar) []string {
	seen := make(map[string]bool, len(raw))
	var deps []string
	for _, entry := range raw {
		dep, ok := NormalizeDependency(string(entry))
		if !ok || seen[dep] {
			continue
		}
		seen[dep] = true
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}

// Normalizes one declared dependency into the target naming convention.
//
// Version pins and trailing constraints are stripped (the first
// whitespace-separated token wins), underscores become dashes, and
// conda compiler shorthands map to concrete toolchain package names.
// Returns false for blank entries.
func NormalizeDependency(raw string) (string, bool) {
	cleaned := strings.Trim(strings.TrimSpace(raw), `"'`)
	if cleaned == "" {
		return "", false
	}

	token, _, _ := strings.Cut(cleaned, " ")
	token = strings.Trim(token, ",")
	if token == "" {
		return "", false
	}

	normalized := strings.ToLower(strings.ReplaceAll(token, "_", "-"))
	switch normalized {
	case "c-compiler", "ccompiler":
		return "gcc", true
	case "cxx-compiler", "cpp-compiler":
		return "gcc-c++", true
	case "fortran-compiler":
		return "gcc-gfortran", true
	}
	return normalized, true
}

// Extracts the source URL and patch list from the source section.
//
// The section is either a single mapping or a sequence of mappings; the
// first entry carrying a url wins, and patches accumulate across entries.
func sourceInfo(node *yaml.Node) (string, []string) {
	if node == nil || node.Kind == 0 {
		return "", nil
	}

	entries := []*yaml.Node{node}
	if node.Kind == yaml.SequenceNode {
		entries = node.Content
	}

	var url string
	var patches []string
	for _, entry := range entries {
		if entry.Kind != yaml.MappingNode {
			continue
		}
		for i := 0; i+1 < len(entry.Content); i += 2 {
			key, value := entry.Content[i], entry.Content[i+1]
			switch key.Value {
			case "url":
				if url == "" {
					url = firstScalar(value)
				}
			case "patches":
				patches = append(patches, scalarList(value)...)
			}
		}
	}
	return url, patches
}

// Returns the node's scalar value, or the first scalar of a sequence.
func firstScalar(node *yaml.Node) string {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Value
	case yaml.SequenceNode:
		if len(node.Content) > 0 {
			return firstScalar(node.Content[0])
		}
	}
	return ""
}

// Collects the scalar values of a node that is either a scalar or a
// sequence of scalars.
func scalarList(node *yaml.Node) []string {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			return nil
		}
		return []string{node.Value}
	case yaml.SequenceNode:
		var out []string
		for _, item := range node.Content {
			if item.Kind == yaml.ScalarNode && item.Value != "" {
				out = append(out, item.Value)
			}
		}
		return out
	}
	return nil
}
