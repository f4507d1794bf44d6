package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/placescope/placescope/internal/export"
	"github.com/placescope/placescope/internal/store"
)

var (
	exportOutput         string
	exportQuery          string
	exportClassification string
	exportMinRating      float64
	exportLimit          int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored places as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		placesList, err := env.Store.ListPlaces(cmd.Context(), store.PlaceFilter{
			Query:          exportQuery,
			Classification: exportClassification,
			MinRating:      exportMinRating,
			Limit:          exportLimit,
		})
		if err != nil {
			return err
		}

		path := exportOutput
		if path == "" {
			path = export.Filename(time.Now())
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := export.WriteCSV(f, placesList); err != nil {
			return err
		}

		zap.L().Info("export finished",
			zap.String("path", path),
			zap.Int("places", len(placesList)))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default places_export_<timestamp>.csv)")
	exportCmd.Flags().StringVar(&exportQuery, "query", "", "filter by search query")
	exportCmd.Flags().StringVar(&exportClassification, "classification", "", `filter by "brand" or "local"`)
	exportCmd.Flags().Float64Var(&exportMinRating, "min-rating", 0, "minimum rating")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 500, "max rows")
	rootCmd.AddCommand(exportCmd)
}
