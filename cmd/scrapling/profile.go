package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/browser"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/config"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/fetch"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/profile"
)

// defaultPruneAge is how old a clone must be before "profile prune" removes it.
const defaultPruneAge = 24 * time.Hour

var errNoProfileRoot = errors.New("no profile root configured (use --profile-root or profileRoot in .scrapling)")

// NewProfileCmd creates the profile command group.
func NewProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage the persistent browser profile",
		Long: `Profile manages the master browser profile and its read clones.

The master profile keeps cookies and sign-ins between runs. Only one writer
may hold it at a time; fetches in read mode get a disposable copy.

Examples:
  # Sign in to a site; the session is kept in the master profile
  scrapling profile open --profile-root ~/.local/share/scrapling/profile https://example.com/login

  # Show the lock state and leftover clones
  scrapling profile status

  # Remove clones left behind by crashed runs
  scrapling profile prune --older-than 1h`,
	}

	cmd.PersistentFlags().String("profile-root", "",
		"Directory holding the master profile and its clones")

	cmd.AddCommand(newProfileOpenCmd())
	cmd.AddCommand(newProfileStatusCmd())
	cmd.AddCommand(newProfilePruneCmd())
	return cmd
}

func newProfileOpenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open <url>",
		Short: "Open a headful browser on the master profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfileOpenCmd,
	}
	cmd.Flags().String("browser-bin", "", "Chromium binary (default: downloaded on first use)")
	return cmd
}

func newProfileStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the profile lock state and clones",
		Args:  cobra.NoArgs,
		RunE:  runProfileStatusCmd,
	}
	cmd.Flags().BoolP("json", "j", false, "Output status in JSON format")
	return cmd
}

func newProfilePruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove stale read clones",
		Args:  cobra.NoArgs,
		RunE:  runProfilePruneCmd,
	}
	cmd.Flags().Duration("older-than", defaultPruneAge, "Only remove clones older than this")
	return cmd
}

// profileManager builds a manager over the configured root. The parameter
// name only has to be non-empty; the CLI hands paths to the browser itself.
func profileManager(cmd *cobra.Command) (*profile.Manager, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("profile-root") {
		if cfg.ProfileRoot, err = cmd.Flags().GetString("profile-root"); err != nil {
			return nil, nil, err
		}
	}
	if cfg.ProfileRoot == "" {
		return nil, nil, errNoProfileRoot
	}
	logger := setupLogger(cfg.Verbose)
	return profile.NewManager(cfg.ProfileRoot, fetch.ProfileParamAliases[0], profile.WithLogger(logger)), cfg, nil
}

func runProfileOpenCmd(cmd *cobra.Command, args []string) error {
	mgr, cfg, err := profileManager(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("browser-bin") {
		if cfg.BrowserBin, err = cmd.Flags().GetString("browser-bin"); err != nil {
			return err
		}
	}

	session, err := mgr.AcquireWrite()
	if err != nil {
		return fmt.Errorf("failed to open master profile: %w", err)
	}
	defer func() {
		if err := session.Release(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to release master profile: %v\n", err)
		}
	}()

	logger := slog.Default()
	ctx, cancel := signalContext(logger)
	defer cancel()

	fmt.Fprintf(cmd.OutOrStdout(), "Opening %s on %s\nClose the browser or press Ctrl+C when done.\n", args[0], session.Path)
	client := browser.NewClient(
		browser.WithBin(cfg.BrowserBin),
		browser.WithFlags(cfg.StealthArgs...),
		browser.WithLogger(logger),
	)
	return client.OpenInteractive(ctx, args[0], session.Path)
}

func runProfileStatusCmd(cmd *cobra.Command, _ []string) error {
	mgr, _, err := profileManager(cmd)
	if err != nil {
		return err
	}
	st, err := mgr.Status()
	if err != nil {
		return err
	}

	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	return writeProfileStatus(cmd.OutOrStdout(), st)
}

func writeProfileStatus(w io.Writer, st profile.Status) error {
	lock := "free"
	if st.WriteLocked {
		lock = "held by a writer"
	}
	master := "missing (created by the first write session)"
	if st.MasterExists {
		master = "present"
	}

	fmt.Fprintf(w, "Root:   %s\n", st.Root)
	fmt.Fprintf(w, "Master: %s\n", master)
	fmt.Fprintf(w, "Lock:   %s\n", lock)
	if len(st.Clones) == 0 {
		_, err := fmt.Fprintln(w, "Clones: none")
		return err
	}

	fmt.Fprintf(w, "Clones: %d\n\n", len(st.Clones))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODIFIED")
	for _, c := range st.Clones {
		fmt.Fprintf(tw, "%s\t%s\n", c.ID, c.ModTime.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runProfilePruneCmd(cmd *cobra.Command, _ []string) error {
	mgr, _, err := profileManager(cmd)
	if err != nil {
		return err
	}
	olderThan, err := cmd.Flags().GetDuration("older-than")
	if err != nil {
		return err
	}

	removed, err := mgr.PruneClones(olderThan)
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale clone(s)\n", removed)
	return err
}
