package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/database"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved fetch results",
		Long: `History lists results saved by "scrapling fetch --save", newest first.

Examples:
  # Recent results
  scrapling history

  # Failures for one host
  scrapling history --host example.com --failures

  # Print the stored page of result 12
  scrapling history --id 12 --html

  # Drop results older than 30 days
  scrapling history --prune 720h`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	cmd.Flags().String("host", "", "Only show results for this host")
	cmd.Flags().Bool("failures", false, "Only show failed results")
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of results")
	cmd.Flags().Int64P("id", "i", 0, "Show a single result by ID")
	cmd.Flags().Bool("html", false, "With --id, print the stored page body")
	cmd.Flags().Duration("prune", 0, "Delete results older than this instead of listing")
	cmd.Flags().BoolP("json", "j", false, "Output in JSON format")
	cmd.Flags().String("db-dir", "", "Directory of the history database")
	return cmd
}

// historyOptions holds the parsed history flags.
type historyOptions struct {
	query  database.Query
	id     int64
	html   bool
	prune  time.Duration
	asJSON bool
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("db-dir") {
		if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
			return err
		}
	}

	var opts historyOptions
	var errs []error
	var e error
	opts.query.Host, e = flags.GetString("host")
	errs = append(errs, e)
	opts.query.OnlyFailures, e = flags.GetBool("failures")
	errs = append(errs, e)
	opts.query.Limit, e = flags.GetInt("limit")
	errs = append(errs, e)
	opts.id, e = flags.GetInt64("id")
	errs = append(errs, e)
	opts.html, e = flags.GetBool("html")
	errs = append(errs, e)
	opts.prune, e = flags.GetDuration("prune")
	errs = append(errs, e)
	opts.asJSON, e = flags.GetBool("json")
	errs = append(errs, e)
	if err := errors.Join(errs...); err != nil {
		return err
	}

	setupLogger(cfg.Verbose)
	return runHistory(cmd.Context(), cfg.DBDir, opts, cmd.OutOrStdout())
}

// runHistory reads (or prunes) the database in dbDir. A database that was
// never created is reported as empty history.
func runHistory(ctx context.Context, dbDir string, opts historyOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := os.Stat(filepath.Join(dbDir, database.DBFileName)); errors.Is(err, os.ErrNotExist) {
		_, err := fmt.Fprintln(out, "No saved results (run \"scrapling fetch --save\" first)")
		return err
	}

	opt := database.DefaultOptions()
	opt.CreateIfNotExists = false
	db, err := database.Open(dbDir, opt)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	switch {
	case opts.prune > 0:
		n, err := db.DeleteOlderThan(ctx, opts.prune)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "Deleted %d result(s) older than %s\n", n, opts.prune)
		return err
	case opts.id > 0:
		return showResult(ctx, db, opts, out)
	}

	records, err := db.RecentResults(ctx, opts.query)
	if err != nil {
		return err
	}
	if opts.asJSON {
		return writeJSON(out, records)
	}
	return writeHistoryTable(out, records)
}

func showResult(ctx context.Context, db *database.CrawlDB, opts historyOptions, out io.Writer) error {
	rec, err := db.GetResult(ctx, opts.id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no result with id %d", opts.id)
	}

	if opts.html {
		if rec.HTML == "" {
			return fmt.Errorf("result %d has no stored page", opts.id)
		}
		_, err := io.WriteString(out, rec.HTML)
		return err
	}
	if opts.asJSON {
		rec.HTML = ""
		return writeJSON(out, rec)
	}

	fmt.Fprintf(out, "ID:       %d\n", rec.ID)
	fmt.Fprintf(out, "URL:      %s\n", rec.URL)
	fmt.Fprintf(out, "Time:     %s\n", rec.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(out, "Outcome:  %s\n", rec.Outcome)
	if rec.Succeeded() {
		fmt.Fprintf(out, "Status:   %d (%d chars, sha3 %s)\n", rec.StatusCode, rec.ContentLength, truncate(rec.ContentHash, 16))
	} else {
		fmt.Fprintf(out, "Reason:   %s\n", rec.Reason)
	}
	if rec.Title != "" {
		fmt.Fprintf(out, "Title:    %s\n", rec.Title)
	}
	if len(rec.Attempts) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tATTEMPT\tRESULT")
	for _, a := range rec.Attempts {
		result := a.Outcome.String()
		switch {
		case a.Skipped:
			result = "skipped: " + a.Reason
		case a.Reason != "":
			result += ": " + a.Reason
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", a.Index+1, a.Attempt, result)
	}
	return tw.Flush()
}

func writeHistoryTable(out io.Writer, records []database.ResultRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "No matching results")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tOUTCOME\tSTATUS\tTRIES\tURL")
	for _, r := range records {
		status := "-"
		if r.StatusCode > 0 {
			status = fmt.Sprint(r.StatusCode)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			r.ID,
			r.Timestamp.Local().Format("2006-01-02 15:04"),
			r.Outcome,
			status,
			r.Executed,
			truncate(r.URL, 60),
		)
	}
	return tw.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncate shortens s to n runes with a trailing "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
