package cmd

import (
	"testing"
)

func TestNewRootCmd(t *testing.T) {
	rootCmd := NewRootCmd()

	if rootCmd.Use != "memoscribe" {
		t.Errorf("expected Use to be 'memoscribe', got '%s'", rootCmd.Use)
	}

	// Verify subcommands are registered
	subcommands := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		subcommands[cmd.Name()] = true
	}

	expected := []string{"init", "config", "serve", "stop", "status", "list", "search", "show",
		"submit", "record", "language", "watch", "version"}
	for _, name := range expected {
		if !subcommands[name] {
			t.Errorf("expected subcommand '%s' to be registered", name)
		}
	}
}
