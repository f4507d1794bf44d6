package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify all unclassified places as brand or local",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Classifier.ClassifyAllUnclassified(cmd.Context())
		if err != nil {
			return err
		}

		zap.L().Info("classification finished", zap.Int("classified", n))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
