package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/recipesurvey/internal/jobs"
	"github.com/soaringjerry/recipesurvey/internal/services"
)

var (
	exportFormat        string
	exportOut           string
	exportCompletedOnly bool
	legacyDir           string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write all responses to a CSV, XLSX or JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		res, err := a.exports.Export(cmd.Context(), services.ExportParams{Format: exportFormat, CompletedOnly: exportCompletedOnly})
		if err != nil {
			return err
		}
		path := exportOut
		if path == "" {
			path = res.Filename
		} else if st, err := os.Stat(path); err == nil && st.IsDir() {
			path = filepath.Join(path, res.Filename)
		}
		if err := os.WriteFile(path, res.Data, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d participants to %s\n", res.Rows, path)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark idle in-progress sessions as expired",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		n, err := jobs.RunOnce(cmd.Context(), a.sessions, nil, logger)
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d sessions\n", n)
		return err
	},
}

var importLegacyCmd = &cobra.Command{
	Use:   "import-legacy [dir]",
	Short: "Import per-participant JSON files (p_*.json) into the store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := legacyDir
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			dir = cfg.Database.LegacyDir
		}
		if dir == "" {
			return fmt.Errorf("no legacy directory given")
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		rep, err := services.ImportLegacy(cmd.Context(), a.store, dir, a.sessions.Config(), logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "found %d, imported %d, skipped %d, failed %d\n", rep.Found, rep.Imported, rep.Skipped, len(rep.Failed))
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash for SURVEY_ADMIN_PASSWORD_HASH",
	// needs no configuration
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Args:              cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readPassword(cmd, args)
		if err != nil {
			return err
		}
		hash, err := services.HashPassword(pw)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

// readPassword takes the password from the argument, or the first line of
// stdin so it stays out of shell history.
func readPassword(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "csv, long, xlsx or json")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file or directory (default: generated name)")
	exportCmd.Flags().BoolVar(&exportCompletedOnly, "completed-only", false, "only export completed sessions")
	importLegacyCmd.Flags().StringVar(&legacyDir, "dir", "", "directory holding p_*.json files")
}
