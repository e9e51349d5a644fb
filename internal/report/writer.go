package report

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/crawler"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/proxy"
)

// Output formats accepted by New.
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// ErrUnknownFormat is returned by New for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown output format")

// Entry is one fetched URL in a report.
type Entry struct {
	Result model.CrawlResult `json:"result"`

	// Summary is nil for failures and for pages that could not be parsed.
	Summary *crawler.PageSummary `json:"summary,omitempty"`

	// RecordID is the history row id when the result was saved.
	RecordID int64 `json:"record_id,omitempty"`
}

// CrawlReport is the output of one fetch run.
type CrawlReport struct {
	GeneratedAt time.Time `json:"generated_at"`
	Entries     []Entry   `json:"entries"`
}

// NewCrawlReport returns a report stamped with the current time.
func NewCrawlReport(entries ...Entry) *CrawlReport {
	return &CrawlReport{GeneratedAt: time.Now(), Entries: entries}
}

// Succeeded returns the number of entries that produced content.
func (r *CrawlReport) Succeeded() int {
	n := 0
	for _, e := range r.Entries {
		if e.Result.Succeeded() {
			n++
		}
	}
	return n
}

// Failed returns the number of entries without content.
func (r *CrawlReport) Failed() int {
	return len(r.Entries) - r.Succeeded()
}

// Writer renders fetch reports and proxy probe results.
type Writer interface {
	// Write outputs the report. It returns the number of bytes written.
	Write(report *CrawlReport) (int, error)

	// WriteProbes outputs the results of a proxy check.
	WriteProbes(results []proxy.ProbeResult) (int, error)
}

// New returns the writer for format.
func New(format string, output io.Writer, version string) (Writer, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		return NewSimpleWriter(output), nil
	case FormatJSON:
		return NewJSONWriter(output, WithPrettyPrint(), WithVersion(version)), nil
	case FormatMarkdown, "md":
		return NewMarkdownWriter(output), nil
	case FormatHTML:
		return NewHTMLWriter(output), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// MultiWriter writes to several Writers in order and stops at the first error.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to every writer and returns the total bytes written.
func (m *MultiWriter) Write(report *CrawlReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteProbes outputs the probe results to every writer.
func (m *MultiWriter) WriteProbes(results []proxy.ProbeResult) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteProbes(results)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// attemptCounts splits reports into succeeded, failed and skipped attempts.
func attemptCounts(reports []model.AttemptReport) (ok, failed, skipped int) {
	for _, a := range reports {
		switch {
		case a.Skipped:
			skipped++
		case a.Outcome == model.OutcomeSuccess:
			ok++
		default:
			failed++
		}
	}
	return ok, failed, skipped
}

// truncateString shortens s to maxLen runes with an ellipsis.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
