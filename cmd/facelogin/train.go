package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Retrain the recognition model from every user's samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.TrainingJob().Run(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Model trained with %d images from %d users.\n", res.Images, res.Users)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trainCmd)
}
