// Package pipeline runs one package through the ordered build stages.
//
// A pipeline is a strict finite-state machine: stages execute in a fixed
// order with no skipping, no re-entry, and no backward transitions, and
// execution halts at the first failing stage. Each failure is classified
// into a canonical category and tagged with the failing stage's failure
// domain, so the terminal outcome of every attempt is exactly one of
// Succeeded or Failed with a classified stage result.
//
// Stage work is delegated to a StageExecutor, which invokes the external
// collaborator appropriate to each stage (metadata adapter, dependency
// resolver, spec generator, source staging, toolchain executor, validation
// probe). The pipeline owns ordering, halting, and classification only.
package pipeline
