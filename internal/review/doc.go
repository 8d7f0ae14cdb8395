// Package review contains the domain types shared by every stage of a tenet
// run.
//
// It defines Severity, Category (with its fixed precedence order), Span,
// Finding, EvaluationWarning and the Report produced at the end of a run.
// The Report carries no timestamps or run identifiers: two runs over the
// same facts and rules serialize to identical bytes.
package review
