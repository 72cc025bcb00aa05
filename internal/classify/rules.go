package classify

import "regexp"

// Built-in ordered rule table, version 1.
//
// Priority is table position: earlier rules claim a signal before later
// ones, so ties are impossible by construction. Patterns were distilled
// from a historical failure-log corpus and must only be appended to or
// reordered together with a rule-set version bump.
var defaultRules = []Rule{
	{
		Category: CategoryMetadataAdapterRuntimeMissing,
		Domain:   DomainInfrastructure,
		Pattern:  regexp.MustCompile(`(?i)(conda[_-]?build.*(not installed|import failed)|No module named 'conda_build')`),
	},
	{
		Category: CategoryMetadataRenderFailure,
		Domain:   DomainInfrastructure,
		Pattern:  regexp.MustCompile(`(?i)failed to parse rendered metadata`),
	},
	{
		Category: CategoryDependencyBlockedCascade,
		Domain:   DomainInfrastructure,
		Pattern:  regexp.MustCompile(`(?i)blocked by failed dependencies`),
	},
	{
		Category: CategoryUnresolvedBuildRequires,
		Domain:   DomainInfrastructure,
		Pattern:  regexp.MustCompile(`(?i)(DEPGRAPH\|[^|]+\|unresolved\||Failed build dependencies:|No match for argument:)`),
	},
	{
		Category: CategoryRDependencyRestoreFailure,
		Domain:   DomainBuild,
		Pattern:  regexp.MustCompile(`(?i)(unresolved R deps after restore|dependency '.*' is not available)`),
	},
	{
		Category: CategoryPythonImportOrABIError,
		Domain:   DomainBuild,
		Pattern:  regexp.MustCompile(`(?i)(No module named |ImportError:|DistributionNotFound)`),
	},
	{
		Category: CategoryMissingHeaderOrIncludePath,
		Domain:   DomainBuild,
		Pattern:  regexp.MustCompile(`(?i)fatal error: .*No such file or directory`),
	},
	{
		Category: CategoryMissingLinkTimeDependency,
		Domain:   DomainBuild,
		Pattern:  regexp.MustCompile(`(?i)(undefined reference to|cannot find -l|no usable version found)`),
	},
	{
		Category: CategoryCMakeConfigurationFailure,
		Domain:   DomainBuild,
		Pattern:  regexp.MustCompile(`(?i)CMake Error`),
	},
	{
		Category: CategoryAutotoolsConfigureFailure,
		Domain:   DomainBuild,
		Pattern:  regexp.MustCompile(`(?i)configure: error:`),
	},
	{
		Category: CategoryPatchApplicationFailure,
		Domain:   DomainInfrastructure,
		Pattern:  regexp.MustCompile(`(?i)(can't find file to patch|No file to patch|Hunk .*FAILED)`),
	},
	{
		Category: CategorySourceFetchFailure,
		Domain:   DomainInfrastructure,
		Pattern:  regexp.MustCompile(`(?i)(source download failed after retries|Downloaded: .* failed)`),
	},
	{
		Category: CategoryBuildScriptContractFailure,
		Domain:   DomainBuild,
		Pattern:  regexp.MustCompile(`(?i)(empty string invalid as file name|No rule to make target|No targets specified and no makefile found|C compiler cannot create executables)`),
	},
	{
		Category: CategoryToolchainResourceExhaustion,
		Domain:   DomainBuild,
		Pattern:  regexp.MustCompile(`(?i)(exit status: 137|signal: 9|Killed)`),
	},
	{
		Category: CategoryRpmInstallScriptFailure,
		Domain:   DomainBuild,
		Pattern:  regexp.MustCompile(`(?i)Bad exit status from .* \(%install\)`),
	},
	{
		Category: CategoryContainerEngineFailure,
		Domain:   DomainInfrastructure,
		Pattern:  regexp.MustCompile(`(?i)(containerd.*(unavailable|connection refused)|failed to create shim task)`),
	},
}

// Returns a copy of the built-in rule table.
func DefaultRules() []Rule {
	rules := make([]Rule, len(defaultRules))
	copy(rules, defaultRules)
	return rules
}
