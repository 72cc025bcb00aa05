// Package classify maps raw build failure signals to canonical categories.
//
// Classification applies an ordered rule table: the first rule whose
// pattern matches the signal wins. Noise lines are filtered before
// matching, and signals that match no rule fall back to the reserved
// Unknown category with a bounded excerpt. The function is deterministic
// and side-effect free, so archived signals can be re-classified under an
// updated rule set and produce auditable results.
//
// The built-in table was distilled from a historical failure corpus.
// Operators can prepend site-specific rules from an HCL overlay file;
// overlay rules take priority over the built-in table.
package classify
