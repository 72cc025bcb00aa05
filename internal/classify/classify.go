package classify

import (
	"regexp"
	"strings"
)

// Maximum length of the excerpt retained for unmatched signals.
const maxExcerptLen = 320

// Failure domain of a canonical category.
//
// Infrastructure-domain failures originate before the build proper
// (environment, ingestion, dependency normalization, spec generation) and
// are excluded from build-quality statistics. Build-domain failures are
// genuine build or validation failures and are the primary quality signal.
type Domain int

const (
	DomainInfrastructure Domain = iota
	DomainBuild
)

// Returns the lowercase name of the domain.
func (d Domain) String() string {
	if d == DomainBuild {
		return "build"
	}
	return "infrastructure"
}

// A canonical, versioned failure category tag.
type Category string

const (
	CategoryMetadataAdapterRuntimeMissing Category = "MetadataAdapterRuntimeMissing"
	CategoryMetadataRenderFailure         Category = "MetadataRenderFailure"
	CategoryDependencyBlockedCascade      Category = "DependencyBlockedCascade"
	CategoryUnresolvedBuildRequires       Category = "UnresolvedBuildRequires"
	CategoryRDependencyRestoreFailure     Category = "RDependencyRestoreFailure"
	CategoryPythonImportOrABIError        Category = "PythonImportOrABIError"
	CategoryMissingHeaderOrIncludePath    Category = "MissingHeaderOrIncludePath"
	CategoryMissingLinkTimeDependency     Category = "MissingLinkTimeDependency"
	CategoryCMakeConfigurationFailure     Category = "CMakeConfigurationFailure"
	CategoryAutotoolsConfigureFailure     Category = "AutotoolsConfigureFailure"
	CategoryPatchApplicationFailure       Category = "PatchApplicationFailure"
	CategorySourceFetchFailure            Category = "SourceFetchFailure"
	CategoryBuildScriptContractFailure    Category = "BuildScriptContractFailure"
	CategoryToolchainResourceExhaustion   Category = "ToolchainResourceExhaustion"
	CategoryRpmInstallScriptFailure       Category = "RpmInstallScriptFailure"
	CategoryDependencyResolutionFailure   Category = "DependencyResolutionFailure"
	CategoryContainerEngineFailure        Category = "ContainerEngineFailure"

	// Assigned directly by the pipeline when an attempt is aborted by run
	// cancellation; no rule ever matches it.
	CategoryRunCanceled Category = "RunCanceled"

	CategoryUnknown Category = "Unknown"
)

// A single ordered classification rule.
//
// Rules are evaluated in table order; the first rule whose pattern matches
// any retained line of the signal claims the failure.
type Rule struct {
	Category Category       // Canonical category the rule assigns.
	Domain   Domain         // Failure domain of the category.
	Pattern  *regexp.Regexp // Case-insensitive match against the filtered signal.
}

// Outcome of classifying one raw failure signal.
type Result struct {
	Category Category // Canonical category, CategoryUnknown when no rule matched.
	Domain   Domain   // Domain flag carried by the category.
	Excerpt  string   // First matching line, or a bounded fallback excerpt.
}

// Applies an ordered rule table to raw failure signals.
type Classifier struct {
	rules []Rule
}

// Creates a classifier over the built-in rule table.
func New() *Classifier {
	return &Classifier{rules: DefaultRules()}
}

// Creates a classifier with extra rules prepended to the built-in table.
//
// Prepended rules win ties against built-in rules, preserving the total
// priority order required for deterministic classification.
func NewWithRules(overlay []Rule) *Classifier {
	rules := make([]Rule, 0, len(overlay)+len(defaultRules))
	rules = append(rules, overlay...)
	rules = append(rules, DefaultRules()...)
	return &Classifier{rules: rules}
}

// Maps a raw failure signal to its canonical category.
//
// Noise lines (blank lines and tool-internal structured diagnostic dumps)
// are dropped before matching. Rules are tried in table order against the
// retained lines; the first match wins and its line becomes the excerpt.
// When no rule matches, the result is CategoryUnknown with the first line
// carrying an "error:" marker, or the signal truncated to a bounded length
// when no such line exists.
func (c *Classifier) Classify(raw string) Result {
	lines := filterNoise(raw)

	for _, rule := range c.rules {
		for _, line := range lines {
			if rule.Pattern.MatchString(line) {
				return Result{
					Category: rule.Category,
					Domain:   rule.Domain,
					Excerpt:  truncate(line),
				}
			}
		}
	}

	return Result{
		Category: CategoryUnknown,
		Domain:   DomainBuild,
		Excerpt:  fallbackExcerpt(raw, lines),
	}
}

// Matches explicit error-marker lines used for the Unknown fallback.
var errorMarker = regexp.MustCompile(`(?i)\berror:`)

// Returns the retained excerpt for a signal that matched no rule.
func fallbackExcerpt(raw string, lines []string) string {
	for _, line := range lines {
		if errorMarker.MatchString(line) {
			return truncate(line)
		}
	}
	return truncate(strings.TrimSpace(raw))
}

// Splits a signal into lines, dropping blanks and structured diagnostic
// dumps emitted by compiler frontends.
func filterNoise(raw string) []string {
	var lines []string
	for line := range strings.Lines(raw) {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}
		if strings.Contains(s, "error-format=json") {
			continue
		}
		lines = append(lines, s)
	}
	return lines
}

// Bounds an excerpt to maxExcerptLen bytes.
func truncate(s string) string {
	if len(s) <= maxExcerptLen {
		return s
	}
	return s[:maxExcerptLen]
}
