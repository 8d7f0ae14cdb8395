// Package engine evaluates a rule registry against linked source units and
// produces candidate findings.
//
// Unit-scoped rules see the unit's facts plus every symbol's effective
// facts; symbol-scoped rules see one symbol's effective facts. Boundary
// rules never see unresolved cross-boundary references. Units are evaluated
// in parallel with a bounded errgroup and results are kept by unit index.
// A predicate error or panic becomes an EvaluationWarning for that one
// (rule, location) pair. Candidates are not yet deduplicated or ranked; see
// package resolve.
package engine
