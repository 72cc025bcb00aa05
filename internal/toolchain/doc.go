// Package toolchain binds pipeline stages to the external build tools.
//
// An [Executor] drives one package attempt inside a build container:
// bringing the container up, checking the rendered metadata, installing
// the normalized dependency set, generating the packaging descriptor,
// staging sources and patches, running rpmbuild at the requested job
// count, and validating that the expected artifacts came out.
//
// Multi-output recipes share one underlying rpmbuild invocation; the
// [Invocations] table deduplicates by invocation key so sibling outputs
// observe the shared build's result instead of re-running it. The
// invocation that runs the build exports every produced package to the
// host artifacts directory, and each output validates against that
// directory, so siblings succeed or fail independently no matter whose
// container the build ran in.
//
// The package also supplies the resolver's provider probes: rpm queries
// for installed components, dnf repoquery for repository-resolvable
// components, and a directory scan over previously produced RPMs.
package toolchain
