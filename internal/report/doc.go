// Package report renders fetch results and proxy checks.
//
// Writers:
//   - SimpleWriter: plain text for the terminal
//   - JSONWriter: structured output for other tools
//   - MarkdownWriter: tables and an attempt chart for sharing
//   - HTMLWriter: the fetched page bodies, unchanged
//
// New picks a writer by format name; MultiWriter fans out to several.
package report
