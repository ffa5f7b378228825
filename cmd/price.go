package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	priceOverride float64
	priceDate     string
	priceReset    bool
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Show the carbon price the calculator would use",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if priceReset {
			env.Feed.Reset()
		}
		if cmd.Flags().Changed("override") {
			if err := env.Feed.Override(priceOverride); err != nil {
				return err
			}
		}
		if priceDate != "" {
			if err := env.Feed.Historic(priceDate); err != nil {
				return err
			}
		}

		quote := env.Feed.Current(cmd.Context())
		fmt.Printf("EUR %.2f per tonne CO2e (source: %s, as of %s)\n",
			quote.Price, quote.Source, quote.FetchedAt.Format("2006-01-02 15:04 MST"))
		return nil
	},
}

func init() {
	priceCmd.Flags().Float64Var(&priceOverride, "override", 0, "use this price instead of the feed")
	priceCmd.Flags().StringVar(&priceDate, "date", "", "use the configured historic price for this date (YYYY-MM-DD)")
	priceCmd.Flags().BoolVar(&priceReset, "reset", false, "clear any override or historic selection first")
	rootCmd.AddCommand(priceCmd)
}
