package report

import (
	"encoding/json"
	"io"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/proxy"
)

// JSONWriter outputs reports for other tools. HTML bodies are included as
// part of each result.
type JSONWriter struct {
	baseWriter

	indent       bool
	indentPrefix string
	indentString string

	// version is stamped into every document when set.
	version string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables indented output with the given prefix and indent.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint is WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// WithVersion adds a "version" field to every document.
func WithVersion(version string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.version = version
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type jsonReport struct {
	Version   string `json:"version,omitempty"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	*CrawlReport
}

type jsonProbes struct {
	Version string              `json:"version,omitempty"`
	Proxies []proxy.ProbeResult `json:"proxies"`
}

// Write outputs the report with success and failure counts.
func (w *JSONWriter) Write(report *CrawlReport) (int, error) {
	return w.writeJSON(jsonReport{
		Version:     w.version,
		Succeeded:   report.Succeeded(),
		Failed:      report.Failed(),
		CrawlReport: report,
	})
}

// WriteProbes outputs the probe results as {"proxies": [...]}.
func (w *JSONWriter) WriteProbes(results []proxy.ProbeResult) (int, error) {
	if results == nil {
		results = []proxy.ProbeResult{}
	}
	return w.writeJSON(jsonProbes{Version: w.version, Proxies: results})
}

func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error
	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	data = append(data, '\n')
	return w.output.Write(data)
}
