// Package main provides the onepai CLI commands.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/onepai/onepai/pkg/catalog"
	"github.com/onepai/onepai/pkg/journal"
	"github.com/onepai/onepai/pkg/manager"
	"github.com/onepai/onepai/pkg/registry"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Global flags
var (
	dataDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "onepai",
	Short: "onepai manages checksummed interpretability archives",
	Long: `Tooling for the onepai archive tree: append-only record archives,
category listings, encrypted backups, integrity checks, the trace
registry and the operations journal.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "data", "Archive data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
}

// newManager builds the archive manager over the configured data
// directory with the operations journal attached. Creates the category
// directories, so commands that must never create anything (completion,
// record read) do not go through here.
func newManager() (*manager.Manager, error) {
	j, err := openJournal()
	if err != nil {
		return nil, err
	}
	m, err := manager.New(manager.Config{DataDir: dataDir}, manager.WithJournal(j))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive tree: %w", err)
	}
	return m, nil
}

// openJournal opens the operations journal under the data directory.
func openJournal() (*journal.Journal, error) {
	j, err := journal.Open(filepath.Join(dataDir, "journal"))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return j, nil
}

// openRegistry opens the trace registry database under the data
// directory.
func openRegistry() (*registry.Registry, error) {
	r, err := registry.Open(filepath.Join(dataDir, "traces.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open trace registry: %w", err)
	}
	return r, nil
}

// openCatalog opens the withheld-content catalog under the data
// directory.
func openCatalog() (*catalog.Catalog, error) {
	c, err := catalog.Open(filepath.Join(dataDir, "catalog"))
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return c, nil
}

// promptPassword reads a password without echo. Refuses when stdin is
// not a terminal so scripts have to pass the password explicitly.
func promptPassword(prompt string) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("stdin is not a terminal; pass the password with --password or a key file")
	}
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

// promptNewPassword reads and confirms a new password.
func promptNewPassword() (string, error) {
	password1, err := promptPassword("Enter password: ")
	if err != nil {
		return "", err
	}
	password2, err := promptPassword("Confirm password: ")
	if err != nil {
		return "", err
	}
	if password1 != password2 {
		return "", fmt.Errorf("passwords do not match")
	}
	if password1 == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	return password1, nil
}

// confirm asks for interactive confirmation, treating anything but
// "y"/"Y" as no.
func confirm() bool {
	fmt.Print("Are you sure? [y/N]: ")
	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false
	}
	return response == "y" || response == "Y"
}

// printWarnings reports the per-file warnings bulk operations collect.
func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
}

// parseDuration parses a duration string like "30d", "1y", "24h"
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", valueStr)
	}

	switch unit {
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		// Try standard time.ParseDuration
		return time.ParseDuration(s)
	}
}
