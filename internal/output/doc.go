// Package output formats analysis reports for display or machine consumption.
//
// Four formats are supported:
//   - text: human-readable terminal output (default), colored on a terminal
//   - json: the full structured report
//   - markdown: PR-comment-friendly with collapsible sections per severity
//   - sarif: SARIF v2.1.0 for code-scanning upload
//
// Use [GetWriter] to obtain a [Writer] for a given format string, then call
// [Writer.Write] with an [io.Writer] and a [*review.Report]. [WriteReport]
// handles destination selection and color detection.
package output
