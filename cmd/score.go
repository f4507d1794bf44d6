package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute location quality scores for all unscored places",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Scoring.ScoreAllUnscored(cmd.Context())
		if err != nil {
			return err
		}

		zap.L().Info("scoring finished", zap.Int("scored", n))
		return nil
	},
}

var (
	topLimit    int
	topCategory string
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the highest-scored locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		top, err := env.Scoring.TopLocations(cmd.Context(), topLimit, topCategory)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(top)
	},
}

func init() {
	topCmd.Flags().IntVar(&topLimit, "limit", 20, "number of locations to show")
	topCmd.Flags().StringVar(&topCategory, "category", "", "filter by search category")
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(topCmd)
}
