package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facefilter/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB    bool
	resetFiles bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (Job history, Snapshots)",
	Long:        "Clears recorded data. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = true
			resetFiles = true
		}
		var history historyResetter
		if DB != nil {
			history = DB
		}
		return runReset(cmd.Context(), history, cmd.InOrStdin(), cmd.OutOrStdout(), resetDB, resetFiles, ".")
	},
}

// historyResetter is the part of the store reset needs.
type historyResetter interface {
	Reset(ctx context.Context) error
}

// runReset clears the selected components. Snapshots never need the
// database; the history does.
func runReset(ctx context.Context, db historyResetter, in io.Reader, out io.Writer, clearHistory, clearFiles bool, dir string) error {
	reader := bufio.NewReader(in)

	if clearHistory {
		if db == nil {
			err := fmt.Errorf("job history needs a database connection")
			utils.ShowError("Cannot reset history", err, nil)
			return err
		}
		if confirm(reader, out, "⚠️  Are you sure you want to DROP the job history?") {
			fmt.Fprintln(out, "🗑️  Clearing Database...")
			if err := db.Reset(ctx); err != nil {
				utils.ShowError("Failed to reset database", err, nil)
				return err
			}
		}
	}

	if clearFiles {
		if confirm(reader, out, "⚠️  Are you sure you want to delete all snapshots in the current directory?") {
			fmt.Fprintln(out, "🗑️  Clearing Snapshots...")
			removeSnapshots(dir)
		}
	}

	fmt.Fprintln(out, "✨ System Reset Complete.")
	return nil
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "history", false, "Clear the job history")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear default-named snapshots (facefilter-*.png)")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// removeSnapshots deletes the PNGs snap writes when no output is given.
func removeSnapshots(dir string) int {
	matches, _ := filepath.Glob(filepath.Join(dir, "facefilter-*.png"))
	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
			continue
		}
		removed++
	}
	return removed
}
