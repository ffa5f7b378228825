// Package calc computes CBAM liability estimates. Calculation is a pure
// function of its inputs: parameter resolution (override > fetched >
// default table), the liability formula and half-even currency rounding.
package calc

import (
	"math"

	"github.com/carbonview/cbam-cli/internal/model"
)

// Calculator resolves calculation parameters against the default table and
// produces auditable liability estimates.
type Calculator struct {
	table *EmissionsTable
}

// NewCalculator creates a Calculator over the given reference table.
func NewCalculator(table *EmissionsTable) *Calculator {
	return &Calculator{table: table}
}

// Table exposes the reference table (for display and prompts).
func (c *Calculator) Table() *EmissionsTable { return c.table }

// Calculate produces a liability estimate. quote supplies the fetched
// carbon price and may be nil when the caller has no feed; an explicit
// input.CarbonPrice always wins over it. Identical inputs yield identical
// results, bit-exact on the rounded liability.
//
// Liability = intensity x quantity x max(0, carbon_price - origin_price),
// rounded half-even to 2 decimal places (EUR).
func (c *Calculator) Calculate(input model.CalculationInput, quote *model.PriceQuote) (*model.CalculationResult, error) {
	if input.Product == "" {
		return nil, &model.UnresolvedParameterError{Field: model.FieldProduct, Reason: "product is required"}
	}
	if input.Quantity == nil {
		return nil, &model.UnresolvedParameterError{Field: model.FieldQuantity, Reason: "quantity in tonnes is required"}
	}
	if *input.Quantity <= 0 {
		return nil, &model.UnresolvedParameterError{Field: model.FieldQuantity, Reason: "quantity must be positive"}
	}

	sources := make(map[string]model.FieldSource)

	intensity, src, err := c.resolveIntensity(input)
	if err != nil {
		return nil, err
	}
	sources[model.FieldEmissionsIntensity] = src

	price, src, err := resolvePrice(input, quote)
	if err != nil {
		return nil, err
	}
	sources[model.FieldCarbonPrice] = src

	origin := 0.0
	sources[model.FieldOriginCarbonPrice] = model.FieldSourceDefault
	if input.OriginCarbonPrice != nil {
		origin = *input.OriginCarbonPrice
		sources[model.FieldOriginCarbonPrice] = model.FieldSourceOverride
	}

	effective := price - origin
	if effective < 0 {
		effective = 0
	}

	totalEmissions := intensity * *input.Quantity
	liability := roundHalfEven(totalEmissions * effective)

	result := &model.CalculationResult{
		Liability:      liability,
		TotalEmissions: totalEmissions,
		Input: model.ResolvedInput{
			Product:            input.Product,
			Country:            input.Country,
			EmissionsIntensity: intensity,
			Quantity:           *input.Quantity,
			CarbonPrice:        price,
			OriginCarbonPrice:  origin,
		},
		Sources: sources,
	}
	if sources[model.FieldCarbonPrice] == model.FieldSourceFetched && quote != nil {
		q := *quote
		result.Quote = &q
	}
	return result, nil
}

func (c *Calculator) resolveIntensity(input model.CalculationInput) (float64, model.FieldSource, error) {
	if input.EmissionsIntensity != nil {
		if *input.EmissionsIntensity <= 0 {
			return 0, "", &model.UnresolvedParameterError{
				Field:  model.FieldEmissionsIntensity,
				Reason: "override must be positive",
			}
		}
		return *input.EmissionsIntensity, model.FieldSourceOverride, nil
	}

	if v, ok := c.table.Lookup(input.Product, input.Country); ok {
		return v, model.FieldSourceDefault, nil
	}

	return 0, "", &model.UnresolvedParameterError{
		Field:  model.FieldEmissionsIntensity,
		Reason: "no default intensity for product " + input.Product,
	}
}

func resolvePrice(input model.CalculationInput, quote *model.PriceQuote) (float64, model.FieldSource, error) {
	if input.CarbonPrice != nil {
		if *input.CarbonPrice <= 0 {
			return 0, "", &model.UnresolvedParameterError{
				Field:  model.FieldCarbonPrice,
				Reason: "override must be positive",
			}
		}
		return *input.CarbonPrice, model.FieldSourceOverride, nil
	}

	if quote != nil && quote.Price > 0 {
		return quote.Price, model.FieldSourceFetched, nil
	}

	return 0, "", &model.UnresolvedParameterError{
		Field:  model.FieldCarbonPrice,
		Reason: "no price available from feed and no override given",
	}
}

// roundHalfEven rounds to 2 decimal places using banker's rounding, so
// repeated estimates do not drift upward.
func roundHalfEven(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}
