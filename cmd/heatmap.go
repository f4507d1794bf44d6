package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/placescope/placescope/internal/heatmap"
)

var (
	heatmapCategory string
	heatmapLatMin   float64
	heatmapLatMax   float64
	heatmapLngMin   float64
	heatmapLngMax   float64
	heatmapGridSize float64
)

var heatmapCmd = &cobra.Command{
	Use:   "heatmap",
	Short: "Compute a competitor density heatmap for a bounding box",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		bounds := heatmap.Bounds(heatmapLatMin, heatmapLatMax, heatmapLngMin, heatmapLngMax)
		cells, err := env.Heatmap.ComputeHeatmap(cmd.Context(), heatmapCategory, bounds, heatmapGridSize)
		if err != nil {
			return err
		}

		zap.L().Info("heatmap finished",
			zap.String("category", heatmapCategory),
			zap.Int("cells", len(cells)))
		return nil
	},
}

var (
	densityLat      float64
	densityLng      float64
	densityRadiusKm float64
)

var densityCmd = &cobra.Command{
	Use:   "density",
	Short: "Show competitor density around a point",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		point, err := env.Heatmap.DensityForPoint(cmd.Context(), densityLat, densityLng, densityRadiusKm)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(point)
	},
}

func init() {
	heatmapCmd.Flags().StringVar(&heatmapCategory, "category", "*", `category filter ("*" for all)`)
	heatmapCmd.Flags().Float64Var(&heatmapLatMin, "lat-min", 0, "south edge")
	heatmapCmd.Flags().Float64Var(&heatmapLatMax, "lat-max", 0, "north edge")
	heatmapCmd.Flags().Float64Var(&heatmapLngMin, "lng-min", 0, "west edge")
	heatmapCmd.Flags().Float64Var(&heatmapLngMax, "lng-max", 0, "east edge")
	heatmapCmd.Flags().Float64Var(&heatmapGridSize, "grid-size", heatmap.DefaultGridSize, "cell size in degrees")
	_ = heatmapCmd.MarkFlagRequired("lat-min")
	_ = heatmapCmd.MarkFlagRequired("lat-max")
	_ = heatmapCmd.MarkFlagRequired("lng-min")
	_ = heatmapCmd.MarkFlagRequired("lng-max")

	densityCmd.Flags().Float64Var(&densityLat, "lat", 0, "latitude")
	densityCmd.Flags().Float64Var(&densityLng, "lng", 0, "longitude")
	densityCmd.Flags().Float64Var(&densityRadiusKm, "radius", heatmap.DefaultDensityRadiusKm, "radius in km")
	_ = densityCmd.MarkFlagRequired("lat")
	_ = densityCmd.MarkFlagRequired("lng")

	rootCmd.AddCommand(heatmapCmd)
	rootCmd.AddCommand(densityCmd)
}
