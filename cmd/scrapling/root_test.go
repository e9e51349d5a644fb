package main

import (
	"testing"
)

func TestNewRootCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		if cmd.Use != "scrapling" {
			t.Errorf("expected use 'scrapling', got %q", cmd.Use)
		}
	})

	t.Run("has descriptions and version", func(t *testing.T) {
		t.Parallel()
		if cmd.Short == "" || cmd.Long == "" {
			t.Error("expected non-empty short and long descriptions")
		}
		if cmd.Version == "" {
			t.Error("expected non-empty version")
		}
	})

	t.Run("has persistent flags", func(t *testing.T) {
		t.Parallel()
		for name, short := range map[string]string{"verbose": "v", "config": "c"} {
			flag := cmd.PersistentFlags().Lookup(name)
			if flag == nil {
				t.Errorf("expected %s flag", name)
				continue
			}
			if flag.Shorthand != short {
				t.Errorf("%s: expected shorthand %q, got %q", name, short, flag.Shorthand)
			}
		}
	})

	t.Run("has subcommands", func(t *testing.T) {
		t.Parallel()
		names := make(map[string]bool)
		for _, sub := range cmd.Commands() {
			names[sub.Name()] = true
		}
		for _, want := range []string{"fetch", "profile", "proxies", "history", "init", "version"} {
			if !names[want] {
				t.Errorf("expected %s subcommand", want)
			}
		}
	})

	t.Run("silences usage and errors", func(t *testing.T) {
		t.Parallel()
		if !cmd.SilenceUsage {
			t.Error("expected SilenceUsage to be true")
		}
		if !cmd.SilenceErrors {
			t.Error("expected SilenceErrors to be true")
		}
	})
}
