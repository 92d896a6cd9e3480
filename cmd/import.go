package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/material-audit/internal/ingest"
)

var (
	importFile  string
	importName  string
	importScope scopeFlags
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a project's bill of materials from xlsx",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		importer := ingest.NewImporter(st)
		projectID, n, err := importer.ImportProject(ctx, importName, importScope.scope(), importFile, ingest.Options{
			SheetIndex: cfg.Ingest.SheetIndex,
			HeaderRows: cfg.Ingest.HeaderRows,
			MaxRows:    cfg.Ingest.MaxRows,
		})
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.Int64("project_id", projectID),
			zap.Int("materials", n),
			zap.String("file", importFile),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to BoM xlsx (required)")
	importCmd.Flags().StringVar(&importName, "name", "", "project name (required)")
	importCmd.Flags().StringVar(&importScope.month, "month", "", "price month YYYY-MM")
	importCmd.Flags().StringVar(&importScope.province, "province", "", "province code")
	importCmd.Flags().StringVar(&importScope.city, "city", "", "city code")
	importCmd.Flags().StringVar(&importScope.district, "district", "", "district code")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(importCmd)
}
