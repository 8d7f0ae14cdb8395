// Package resolve turns candidate findings into the resolved finding list.
//
// Within each unit, repeats of a rule on the same span are dropped, the rest
// are grouped by transitively overlapping line ranges, and each group is
// ranked by category precedence, severity and rule id. When several findings
// claim the identical span only the highest-ranked survives; the others are
// counted as superseded. Suppressions are applied last, so they never let a
// superseded finding resurface.
package resolve
