package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/material-audit/internal/ingest"
	"github.com/sells-group/material-audit/internal/model"
)

var (
	catalogueFile  string
	catalogueMonth string
	catalogueType  string
)

var catalogueCmd = &cobra.Command{
	Use:   "catalogue",
	Short: "Import a base price catalogue sheet from xlsx",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var priceType model.PriceType
		switch catalogueType {
		case "provincial":
			priceType = model.PriceTypeProvincial
		case "municipal":
			priceType = model.PriceTypeMunicipal
		default:
			return eris.Errorf("unknown price type: %s (valid: provincial, municipal)", catalogueType)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		importer := ingest.NewImporter(st)
		n, err := importer.ImportCatalogue(ctx, catalogueFile, catalogueMonth, priceType, ingest.Options{
			SheetIndex: cfg.Ingest.SheetIndex,
			HeaderRows: cfg.Ingest.HeaderRows,
			MaxRows:    cfg.Ingest.MaxRows,
		})
		if err != nil {
			return err
		}

		zap.L().Info("catalogue import complete",
			zap.Int("rows", n),
			zap.String("month", catalogueMonth),
			zap.String("file", catalogueFile),
		)
		return nil
	},
}

func init() {
	catalogueCmd.Flags().StringVar(&catalogueFile, "file", "", "path to catalogue xlsx (required)")
	catalogueCmd.Flags().StringVar(&catalogueMonth, "month", "", "price month YYYY-MM (required)")
	catalogueCmd.Flags().StringVar(&catalogueType, "type", "provincial", "price type: provincial or municipal")
	_ = catalogueCmd.MarkFlagRequired("file")
	_ = catalogueCmd.MarkFlagRequired("month")
	rootCmd.AddCommand(catalogueCmd)
}
