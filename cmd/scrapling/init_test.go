package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/config"
)

func TestNewInitCmd(t *testing.T) {
	t.Parallel()

	cmd := NewInitCmd()

	t.Run("has output flag", func(t *testing.T) {
		t.Parallel()
		flag := cmd.Flags().Lookup("output")
		if flag == nil {
			t.Fatal("expected output flag")
		}
		if flag.Shorthand != "o" {
			t.Errorf("expected shorthand 'o', got %q", flag.Shorthand)
		}
		if flag.DefValue != config.DefaultConfigFile {
			t.Errorf("expected default %q, got %q", config.DefaultConfigFile, flag.DefValue)
		}
	})

	t.Run("has force flag", func(t *testing.T) {
		t.Parallel()
		flag := cmd.Flags().Lookup("force")
		if flag == nil {
			t.Fatal("expected force flag")
		}
		if flag.DefValue != "false" {
			t.Errorf("expected default 'false', got %q", flag.DefValue)
		}
	})
}

func TestRunInitCmd(t *testing.T) {
	t.Parallel()

	t.Run("creates a loadable config file", func(t *testing.T) {
		t.Parallel()
		outputPath := filepath.Join(t.TempDir(), "nested", ".scrapling")

		var out bytes.Buffer
		cmd := NewInitCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"-o", outputPath})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out.String(), outputPath) {
			t.Errorf("expected output to mention %s, got %q", outputPath, out.String())
		}

		info, err := os.Stat(outputPath)
		if err != nil {
			t.Fatalf("expected config file: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("expected permissions 0600, got %o", perm)
		}

		file, err := config.LoadConfigFile(outputPath)
		if err != nil {
			t.Fatalf("template does not parse: %v", err)
		}
		cfg := config.NewConfig()
		file.Apply(cfg)
		if err := cfg.Validate(); err != nil {
			t.Errorf("template settings do not validate: %v", err)
		}
		if cfg.Attempts != config.DefaultAttempts {
			t.Errorf("expected attempts %d, got %d", config.DefaultAttempts, cfg.Attempts)
		}
		if got := file.GetSiteConfig("example.com").WaitSelectorState; got != "attached" {
			t.Errorf("expected default wait state 'attached', got %q", got)
		}
	})

	t.Run("refuses to overwrite without force", func(t *testing.T) {
		t.Parallel()
		outputPath := filepath.Join(t.TempDir(), ".scrapling")
		if err := os.WriteFile(outputPath, []byte("attempts: 2\n"), 0o600); err != nil {
			t.Fatal(err)
		}

		cmd := NewInitCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{"-o", outputPath})
		err := cmd.Execute()
		if err == nil || !strings.Contains(err.Error(), "already exists") {
			t.Fatalf("expected 'already exists' error, got %v", err)
		}

		content, _ := os.ReadFile(outputPath)
		if string(content) != "attempts: 2\n" {
			t.Error("existing file was modified")
		}
	})

	t.Run("overwrites with force", func(t *testing.T) {
		t.Parallel()
		outputPath := filepath.Join(t.TempDir(), ".scrapling")
		if err := os.WriteFile(outputPath, []byte("old"), 0o600); err != nil {
			t.Fatal(err)
		}

		cmd := NewInitCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{"-o", outputPath, "-f"})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		content, _ := os.ReadFile(outputPath)
		if !strings.Contains(string(content), "sites:") {
			t.Error("expected template content after forced overwrite")
		}
	})
}
