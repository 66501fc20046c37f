package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facefilter/internal/types"
	"github.com/andresmejia3/facefilter/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:         "history",
	Short:       "List recorded render jobs",
	Annotations: map[string]string{dbAnnotation: dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		jobs, err := DB.ListJobs(cmd.Context(), historyLimit)
		if err != nil {
			utils.ShowError("Failed to list jobs", err, nil)
			return err
		}
		printJobs(os.Stdout, jobs)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Maximum number of jobs to show")
	rootCmd.AddCommand(historyCmd)
}

func printJobs(out io.Writer, jobs []types.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs recorded yet.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tFILTER\tSTATUS\tFRAMES\tFACES\tSPRITES\tSTARTED\tOUTPUT")
	fmt.Fprintln(w, "--\t----\t------\t------\t------\t-----\t-------\t-------\t------")

	for _, j := range jobs {
		filterID := j.FilterID
		if filterID == "" {
			filterID = "-"
		}
		status := j.Status
		if j.Error != "" {
			status += ": " + j.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			shortID(j.ID), j.Kind, filterID, status,
			j.Stats.Frames, j.Stats.Faces, j.Stats.Sprites,
			j.StartedAt.Local().Format("2006-01-02 15:04"), j.Output)
	}
	w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
