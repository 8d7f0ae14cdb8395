// Package facts defines the structural vocabulary tenet rules are written
// against.
//
// A front-end (out of scope for this module) turns source code into
// SourceUnits: ordered Symbols with clauses, and a closed set of typed Fact
// variants such as ConcurrencyPrimitiveDeclaration or CrossBoundaryReference.
// Schema lists every variant with its fields; it is the only language the
// matching engine understands.
//
// Fact files are JSON or YAML, either a single unit or {"units": [...]}.
// LoadFiles reads them in order, turning any unreadable file into an
// unanalyzed unit instead of failing the batch. Batch.Link then resolves
// cross-boundary references against the units in the batch. A DomainResolver
// may run before Link to assign domains by naming convention; that is the only
// heuristic step in the pipeline.
package facts
