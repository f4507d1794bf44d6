package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/placescope/placescope/internal/model"
	"github.com/placescope/placescope/internal/store"
)

var (
	enrichQuery string
	enrichLimit int
	enrichAll   bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Crawl stored places' websites for emails and contact pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		placesList, err := env.Store.ListPlaces(cmd.Context(), store.PlaceFilter{
			Query: enrichQuery,
			Limit: enrichLimit,
		})
		if err != nil {
			return err
		}

		pending := make([]model.Place, 0, len(placesList))
		for _, p := range placesList {
			if p.Website == "" {
				continue
			}
			if p.EnrichedAt != nil && !enrichAll {
				continue
			}
			pending = append(pending, p)
		}

		zap.L().Info("enriching places", zap.Int("pending", len(pending)))
		env.Enricher.EnrichBatch(cmd.Context(), pending)

		zap.L().Info("enrichment finished", zap.Int("enriched", len(pending)))
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichQuery, "query", "", "only enrich places from searches matching this query")
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 500, "max places to consider")
	enrichCmd.Flags().BoolVar(&enrichAll, "all", false, "re-enrich places that already have an enrichment")
	rootCmd.AddCommand(enrichCmd)
}
