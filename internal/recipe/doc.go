// Package recipe reads normalized package metadata from a recipe tree.
//
// A recipe root contains one directory per package, optionally with
// versioned variant subdirectories. Lookup selects the highest version
// variant by a deterministic, numeric-aware label ordering. Rendered
// metadata (the output of the templating adapter) is parsed into a
// Metadata value: declared dependencies per scope, declared version,
// declared build outputs, and the source and patch list.
//
// Dependency names are normalized into the target ecosystem's naming
// convention: underscores become dashes, version pins are stripped, and
// compiler shorthands map to concrete toolchain packages.
package recipe
