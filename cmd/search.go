package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/placescope/placescope/internal/pipeline"
)

var (
	searchLocation string
	searchRadiusKm float64
	searchMaxPages int
	searchEnrich   bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search listings in an area and store the results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.Search(cmd.Context(), pipeline.SearchRequest{
			Query:    args[0],
			Location: searchLocation,
			RadiusKm: searchRadiusKm,
			MaxPages: searchMaxPages,
			Enrich:   searchEnrich,
		})
		if err != nil {
			return err
		}

		zap.L().Info("search finished",
			zap.Int("results", result.TotalResults),
			zap.String("task_id", result.TaskID))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchLocation, "location", "", `center as "lat,lng" or a free-form area name`)
	searchCmd.Flags().Float64Var(&searchRadiusKm, "radius", 0, "search radius in km (enables grid search with a coordinate location)")
	searchCmd.Flags().IntVar(&searchMaxPages, "max-pages", 0, "max result pages per search (default 3)")
	searchCmd.Flags().BoolVar(&searchEnrich, "enrich", false, "enrich, classify, and score results after the search")
	rootCmd.AddCommand(searchCmd)
}
