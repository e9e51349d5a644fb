package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/proxy"
)

// MarkdownWriter outputs reports for sharing, e.g. in an issue or wiki page.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs a summary table followed by one section per entry.
func (w *MarkdownWriter) Write(report *CrawlReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Fetch Report")
	md.PlainText("")
	w.writeOverview(md, report)

	for _, e := range report.Entries {
		w.writeEntry(md, e)
	}

	w.writeFooter(md, report)
	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeOverview(md *markdown.Markdown, report *CrawlReport) {
	rows := make([][]string, 0, len(report.Entries))
	for _, e := range report.Entries {
		status := "✅ " + strconv.Itoa(e.Result.Status)
		if !e.Result.Succeeded() {
			status = "❌ " + truncateString(e.Result.Reason, 50)
		}
		rows = append(rows, []string{
			"`" + e.Result.URL + "`",
			status,
			strconv.Itoa(e.Result.Executed()),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Result", "Attempts"},
		Rows:   rows,
	})
	md.PlainText("")

	switch {
	case len(report.Entries) == 0:
		md.Note("No URLs were fetched.")
	case report.Failed() == 0:
		md.Tip("Every URL was fetched.")
	case report.Succeeded() == 0:
		md.Cautionf("All %d URL(s) failed.", report.Failed())
	default:
		md.Warningf("%d of %d URL(s) failed.", report.Failed(), len(report.Entries))
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeEntry(md *markdown.Markdown, e Entry) {
	r := e.Result
	md.H2(r.URL)
	md.PlainText("")

	props := [][]string{{"Outcome", r.Outcome.String()}}
	if r.Succeeded() {
		props = append(props,
			[]string{"Status", strconv.Itoa(r.Status)},
			[]string{"Length", strconv.Itoa(len([]rune(r.HTML))) + " chars"},
		)
	} else {
		props = append(props, []string{"Reason", r.Reason})
	}
	if e.Summary != nil && e.Summary.Title != "" {
		props = append(props, []string{"Title", e.Summary.Title})
	}
	if e.RecordID > 0 {
		props = append(props, []string{"History", "#" + strconv.FormatInt(e.RecordID, 10)})
	}
	md.Table(markdown.TableSet{Header: []string{"Property", "Value"}, Rows: props})
	md.PlainText("")

	if len(r.Attempts) > 0 {
		w.writeAttempts(md, e)
	}
	if e.Summary != nil {
		w.writeSummary(md, e)
	}
}

func (w *MarkdownWriter) writeAttempts(md *markdown.Markdown, e Entry) {
	md.H3("Attempts")
	md.PlainText("")

	rows := make([][]string, len(e.Result.Attempts))
	for i, a := range e.Result.Attempts {
		detail := a.Reason
		if detail == "" && a.Status != 0 {
			detail = fmt.Sprintf("status %d, %d chars", a.Status, a.Length)
		}
		if detail == "" {
			detail = "-"
		}
		rows[i] = []string{
			strconv.Itoa(a.Index),
			"`" + a.Attempt.String() + "`",
			attemptResult(a),
			a.Duration.Round(time.Millisecond).String(),
			truncateString(detail, 60),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"#", "Attempt", "Result", "Duration", "Detail"},
		Rows:   rows,
	})
	md.PlainText("")

	ok, failed, skipped := attemptCounts(e.Result.Attempts)
	if ok+failed+skipped > 1 {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Attempt outcomes"),
			piechart.WithShowData(true),
		)
		if ok > 0 {
			chart.LabelAndIntValue("Success", uint64(ok))
		}
		if failed > 0 {
			chart.LabelAndIntValue("Failure", uint64(failed))
		}
		if skipped > 0 {
			chart.LabelAndIntValue("Skipped", uint64(skipped))
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, e Entry) {
	s := e.Summary
	md.H3("Page")
	md.PlainText("")

	if s.Description != "" {
		md.PlainText(s.Description)
		md.PlainText("")
	}
	md.BulletList(
		fmt.Sprintf("%d internal link(s)", len(s.InternalLinks)),
		fmt.Sprintf("%d external link(s)", len(s.ExternalLinks)),
		fmt.Sprintf("%d form(s)", len(s.Forms)),
		fmt.Sprintf("%d script(s)", s.Scripts),
	)
	md.PlainText("")

	if s.HasLoginForm() {
		md.Importantf("The page contains a login form. The profile used may not be signed in.")
		md.PlainText("")
	}
	if len(s.ExternalLinks) > 0 {
		md.Details("External links", strings.Join(s.ExternalLinks, "\n"))
		md.PlainText("")
	}
}

// WriteProbes outputs the probe results as a table.
func (w *MarkdownWriter) WriteProbes(results []proxy.ProbeResult) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Proxy Check")
	md.PlainText("")

	rows := make([][]string, len(results))
	healthy := 0
	for i, r := range results {
		status := "❌ " + r.Status.String()
		if r.Status == proxy.ProbeOK {
			status = "✅ " + r.Status.String()
			healthy++
		}
		detail := r.Detail
		if detail == "" {
			detail = "-"
		}
		rows[i] = []string{"`" + r.Proxy + "`", status, r.Latency.Round(time.Millisecond).String(), detail}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Proxy", "Status", "Latency", "Detail"},
		Rows:   rows,
	})
	md.PlainText("")
	md.PlainTextf("%d of %d proxies answered.", healthy, len(results))

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown, report *CrawlReport) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Generated %s*", report.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
}
