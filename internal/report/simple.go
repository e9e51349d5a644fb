package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/proxy"
)

// SimpleWriter outputs plain text for terminals and log files.
type SimpleWriter struct {
	baseWriter

	// verbose lists every attempt, not only the final outcome.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose lists every attempt of every entry.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs one block per entry followed by a one-line total.
func (w *SimpleWriter) Write(report *CrawlReport) (int, error) {
	var sb strings.Builder

	for i, e := range report.Entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		w.writeEntry(&sb, e)
	}

	sb.WriteString(strings.Repeat("-", 60))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%d fetched, %d failed\n", report.Succeeded(), report.Failed())

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeEntry(sb *strings.Builder, e Entry) {
	r := e.Result
	ok, failed, skipped := attemptCounts(r.Attempts)

	fmt.Fprintf(sb, "URL:      %s\n", r.URL)
	if r.Succeeded() {
		fmt.Fprintf(sb, "Outcome:  success (status %d, %d chars)\n", r.Status, len([]rune(r.HTML)))
	} else {
		fmt.Fprintf(sb, "Outcome:  failure - %s\n", r.Reason)
	}
	fmt.Fprintf(sb, "Attempts: %d executed (%d ok, %d failed), %d skipped\n", ok+failed, ok, failed, skipped)

	if e.Summary != nil {
		if e.Summary.Title != "" {
			fmt.Fprintf(sb, "Title:    %s\n", e.Summary.Title)
		}
		fmt.Fprintf(sb, "Links:    %d internal, %d external\n", len(e.Summary.InternalLinks), len(e.Summary.ExternalLinks))
		if e.Summary.HasLoginForm() {
			sb.WriteString("Note:     page contains a login form\n")
		}
	}
	if e.RecordID > 0 {
		fmt.Fprintf(sb, "Saved:    #%d\n", e.RecordID)
	}

	if w.verbose && len(r.Attempts) > 0 {
		sb.WriteString("\n")
		tw := tabwriter.NewWriter(sb, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  #\tATTEMPT\tRESULT\tDURATION\tDETAIL")
		for _, a := range r.Attempts {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\n",
				a.Index, a.Attempt, attemptResult(a), a.Duration.Round(time.Millisecond), attemptDetail(a))
		}
		_ = tw.Flush()
	}
}

// WriteProbes outputs one aligned row per proxy.
func (w *SimpleWriter) WriteProbes(results []proxy.ProbeResult) (int, error) {
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROXY\tSTATUS\tLATENCY\tDETAIL")

	healthy := 0
	for _, r := range results {
		if r.Status == proxy.ProbeOK {
			healthy++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Proxy, r.Status, r.Latency.Round(time.Millisecond), r.Detail)
	}
	_ = tw.Flush()

	fmt.Fprintf(&sb, "\n%d of %d proxies answered\n", healthy, len(results))
	return io.WriteString(w.output, sb.String())
}

func attemptResult(a model.AttemptReport) string {
	switch {
	case a.Skipped:
		return "skipped"
	case a.GeoFallback:
		return a.Outcome.String() + " (geoip off)"
	default:
		return a.Outcome.String()
	}
}

func attemptDetail(a model.AttemptReport) string {
	if a.Reason != "" {
		return a.Reason
	}
	if a.Status != 0 {
		return fmt.Sprintf("status %d, %d chars", a.Status, a.Length)
	}
	return ""
}
