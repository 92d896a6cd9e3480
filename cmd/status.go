package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var statusProjectID int64

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a project's audit counters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		p, err := st.GetProject(ctx, statusProjectID)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

func init() {
	statusCmd.Flags().Int64Var(&statusProjectID, "project", 0, "project id (required)")
	_ = statusCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(statusCmd)
}
