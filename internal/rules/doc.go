// Package rules loads, validates and indexes tenet rules.
//
// A rule pairs metadata (id, category, severity, message template) with a
// predicate written in a small expression language over the closed fact
// schema in package facts:
//
//	ConcurrencyPrimitiveDeclaration{kind == "singleWriterNoReaders" && !hasConcurrentAccessEvidence}
//	exported && none DocumentationPresence{hasDescription}
//	count(TransformationChain{hasAnonymousStep}) >= 2
//
// Predicates are type-checked when loaded. Message and fix templates may use
// {name} placeholders for the evidence fact's fields plus unit, symbol,
// domain, rule, arity, count and variant.
//
// Loading is all-or-nothing: the first invalid definition aborts with a
// RuleLoadError and no registry is produced.
package rules
