package toolchain

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/phoreus/rpmforge/internal/recipe"
)

var ErrSpecGen = errors.New("spec generation failed")

// Renders an RPM packaging descriptor from normalized recipe metadata.
//
// The descriptor follows the fixed layout produced for every converted
// recipe: preamble, one subpackage block per extra output, autosetup
// prep, a make-based build at the scheduler's job count (injected via
// _smp_mflags at build time), and a catch-all files section. Recipes
// needing more than the standard chain override it with a build script
// staged next to the sources.
func RenderSpec(meta *recipe.Metadata, arch string) (string, error) {
	if meta == nil {
		return "", fmt.Errorf("%w: no rendered metadata", ErrSpecGen)
	}
	if meta.Name == "" || meta.Version == "" {
		return "", fmt.Errorf("%w: metadata missing name or version", ErrSpecGen)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Name:           %s\n", meta.Name)
	fmt.Fprintf(&b, "Version:        %s\n", rpmVersion(meta.Version))
	fmt.Fprintf(&b, "Release:        1%%{?dist}\n")
	fmt.Fprintf(&b, "Summary:        %s\n", orDefault(meta.Summary, "Converted package "+meta.Name))
	fmt.Fprintf(&b, "License:        %s\n", orDefault(meta.License, "NOASSERTION"))
	if meta.Homepage != "" {
		fmt.Fprintf(&b, "URL:            %s\n", meta.Homepage)
	}
	if meta.SourceURL != "" {
		fmt.Fprintf(&b, "Source0:        %s\n", meta.SourceURL)
	}
	for i, patch := range meta.Patches {
		fmt.Fprintf(&b, "Patch%d:         %s\n", i, patch)
	}
	if arch != "" {
		fmt.Fprintf(&b, "ExclusiveArch:  %s\n", arch)
	}

	for _, dep := range unionDeps(meta.BuildDeps, meta.HostDeps) {
		fmt.Fprintf(&b, "BuildRequires:  %s\n", dep)
	}
	for _, dep := range meta.RunDeps {
		fmt.Fprintf(&b, "Requires:       %s\n", dep)
	}

	fmt.Fprintf(&b, "\n%%description\n%s\n", orDefault(meta.Summary, meta.Name))

	// Extra declared outputs become subpackages of the primary build.
	for _, output := range meta.EffectiveOutputs() {
		if output == meta.Name {
			continue
		}
		sub := strings.TrimPrefix(output, meta.Name+"-")
		fmt.Fprintf(&b, "\n%%package -n %s\n", output)
		fmt.Fprintf(&b, "Summary:        %s (%s)\n", orDefault(meta.Summary, meta.Name), sub)
		fmt.Fprintf(&b, "\n%%description -n %s\n%s output of %s.\n", output, sub, meta.Name)
	}

	b.WriteString("\n%prep\n")
	if meta.SourceURL != "" {
		b.WriteString("%autosetup -p1 -n " + sourceRootDir(meta) + "\n")
	}

	b.WriteString("\n%build\n")
	b.WriteString("if [ -x ./configure ]; then ./configure --prefix=%{_prefix}; fi\n")
	b.WriteString("%make_build\n")

	b.WriteString("\n%install\n")
	b.WriteString("%make_install\n")

	b.WriteString("\n%files\n")
	b.WriteString("%{_prefix}/*\n")
	for _, output := range meta.EffectiveOutputs() {
		if output == meta.Name {
			continue
		}
		fmt.Fprintf(&b, "\n%%files -n %s\n", output)
	}

	return b.String(), nil
}

// RPM forbids dashes in the Version tag; recipe versions with
// pre-release labels carry them.
func rpmVersion(version string) string {
	return strings.ReplaceAll(version, "-", "~")
}

// Guesses the directory the source archive unpacks to.
func sourceRootDir(meta *recipe.Metadata) string {
	base := path.Base(meta.SourceURL)
	for _, suffix := range []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tgz", ".tbz2", ".zip", ".tar"} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	return meta.Name + "-" + meta.Version
}

// Merges build- and host-scope dependencies into one sorted, unique
// BuildRequires set. Both scopes install into the same build root.
func unionDeps(build, host []string) []string {
	seen := make(map[string]bool, len(build)+len(host))
	var union []string
	for _, list := range [][]string{build, host} {
		for _, dep := range list {
			if !seen[dep] {
				seen[dep] = true
				union = append(union, dep)
			}
		}
	}
	sort.Strings(union)
	return union
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
