package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carbonview/cbam-cli/internal/model"
)

var (
	calcProduct     string
	calcCountry     string
	calcQuantity    float64
	calcIntensity   float64
	calcPrice       float64
	calcOriginPrice float64
)

var calcCmd = &cobra.Command{
	Use:   "calc",
	Short: "Estimate CBAM liability for an import",
	Long:  "Computes liability = intensity x quantity x (carbon price - origin carbon price), resolving unset parameters from the default emissions table and the live price feed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		input := model.CalculationInput{
			Product: calcProduct,
			Country: calcCountry,
		}
		if cmd.Flags().Changed("quantity") {
			input.Quantity = &calcQuantity
		}
		if cmd.Flags().Changed("intensity") {
			input.EmissionsIntensity = &calcIntensity
		}
		if cmd.Flags().Changed("price") {
			input.CarbonPrice = &calcPrice
		}
		if cmd.Flags().Changed("origin-price") {
			input.OriginCarbonPrice = &calcOriginPrice
		}

		quote := env.Feed.Current(cmd.Context())
		result, err := env.Calculator.Calculate(input, &quote)
		if err != nil {
			return err
		}

		in := result.Input
		fmt.Printf("Product:             %s\n", in.Product)
		if in.Country != "" {
			fmt.Printf("Country:             %s\n", in.Country)
		}
		fmt.Printf("Quantity:            %.2f t\n", in.Quantity)
		fmt.Printf("Emissions intensity: %.2f tCO2e/t (%s)\n", in.EmissionsIntensity, result.Sources[model.FieldEmissionsIntensity])
		fmt.Printf("Carbon price:        EUR %.2f (%s)\n", in.CarbonPrice, result.Sources[model.FieldCarbonPrice])
		if in.OriginCarbonPrice > 0 {
			fmt.Printf("Origin carbon price: EUR %.2f\n", in.OriginCarbonPrice)
		}
		fmt.Printf("Total emissions:     %.2f tCO2e\n", result.TotalEmissions)
		fmt.Printf("Estimated liability: EUR %.2f\n", result.Liability)
		return nil
	},
}

func init() {
	calcCmd.Flags().StringVar(&calcProduct, "product", "", "product category (steel, aluminum, cement, ...)")
	calcCmd.Flags().StringVar(&calcCountry, "country", "", "country of origin code")
	calcCmd.Flags().Float64Var(&calcQuantity, "quantity", 0, "quantity in tonnes")
	calcCmd.Flags().Float64Var(&calcIntensity, "intensity", 0, "emissions intensity override, tCO2e per tonne")
	calcCmd.Flags().Float64Var(&calcPrice, "price", 0, "carbon price override, EUR per tonne CO2e")
	calcCmd.Flags().Float64Var(&calcOriginPrice, "origin-price", 0, "carbon price already paid at origin, EUR per tonne CO2e")
	_ = calcCmd.MarkFlagRequired("product")
	_ = calcCmd.MarkFlagRequired("quantity")
	rootCmd.AddCommand(calcCmd)
}
