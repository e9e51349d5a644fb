package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/proxy"
)

// HTMLWriter outputs the fetched page bodies unchanged so that
// "scrapling fetch URL > page.html" gives a usable file. Failed entries are
// written as HTML comments carrying the reason.
type HTMLWriter struct {
	baseWriter
}

// NewHTMLWriter creates an HTMLWriter that outputs to the given writer.
func NewHTMLWriter(output io.Writer) *HTMLWriter {
	return &HTMLWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs every body. With more than one entry each body is preceded by
// a comment naming its URL.
func (w *HTMLWriter) Write(report *CrawlReport) (int, error) {
	var sb strings.Builder
	multi := len(report.Entries) > 1

	for _, e := range report.Entries {
		r := e.Result
		if !r.Succeeded() {
			fmt.Fprintf(&sb, "<!-- %s: %s -->\n", commentSafe(r.URL), commentSafe(r.Reason))
			continue
		}
		if multi {
			fmt.Fprintf(&sb, "<!-- %s -->\n", commentSafe(r.URL))
		}
		sb.WriteString(r.HTML)
		if !strings.HasSuffix(r.HTML, "\n") {
			sb.WriteString("\n")
		}
	}
	return io.WriteString(w.output, sb.String())
}

// WriteProbes has no HTML form; it writes the text table.
func (w *HTMLWriter) WriteProbes(results []proxy.ProbeResult) (int, error) {
	return NewSimpleWriter(w.output).WriteProbes(results)
}

// commentSafe keeps s from closing the surrounding HTML comment.
func commentSafe(s string) string {
	return strings.ReplaceAll(s, "--", "- -")
}
