package calc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonview/cbam-cli/internal/model"
)

func f64(v float64) *float64 { return &v }

func liveQuote(price float64) *model.PriceQuote {
	return &model.PriceQuote{
		Price:     price,
		Currency:  "EUR",
		Source:    model.PriceSourceLive,
		FetchedAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
}

func TestCalculate_ExplicitInputs(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(DefaultEmissionsTable())
	input := model.CalculationInput{
		Product:            "steel",
		Country:            "X",
		EmissionsIntensity: f64(2.1),
		Quantity:           f64(100),
		CarbonPrice:        f64(80.00),
	}

	result, err := calc.Calculate(input, nil)
	require.NoError(t, err)

	// 2.1 x 100 x 80.00 = 16800.00
	assert.InDelta(t, 16800.00, result.Liability, 1e-9)
	assert.InDelta(t, 210.0, result.TotalEmissions, 1e-9)
	assert.Equal(t, model.FieldSourceOverride, result.Sources[model.FieldEmissionsIntensity])
	assert.Equal(t, model.FieldSourceOverride, result.Sources[model.FieldCarbonPrice])
}

func TestCalculate_Deterministic(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(DefaultEmissionsTable())
	input := model.CalculationInput{
		Product:            "aluminum",
		EmissionsIntensity: f64(8.61),
		Quantity:           f64(37.5),
		CarbonPrice:        f64(78.54),
	}

	first, err := calc.Calculate(input, nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := calc.Calculate(input, nil)
		require.NoError(t, err)
		assert.Equal(t, first.Liability, again.Liability, "rounded value must be bit-exact")
		assert.Equal(t, first.Input, again.Input)
	}
}

func TestCalculate_DefaultIntensityFromTable(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(DefaultEmissionsTable())
	input := model.CalculationInput{
		Product:     "steel",
		Country:     "X",
		Quantity:    f64(10),
		CarbonPrice: f64(80),
	}

	result, err := calc.Calculate(input, nil)
	require.NoError(t, err)

	// steel default is 2.3 tCO2e/tonne
	assert.InDelta(t, 2.3, result.Input.EmissionsIntensity, 1e-9)
	assert.Equal(t, model.FieldSourceDefault, result.Sources[model.FieldEmissionsIntensity])
	assert.InDelta(t, 2.3*10*80, result.Liability, 1e-9)
}

func TestCalculate_OverrideBeatsFetchedAndDefault(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(DefaultEmissionsTable())
	input := model.CalculationInput{
		Product:            "steel",
		EmissionsIntensity: f64(1.9), // beats table default 2.3
		Quantity:           f64(10),
		CarbonPrice:        f64(90), // beats fetched 80
	}

	result, err := calc.Calculate(input, liveQuote(80))
	require.NoError(t, err)

	assert.InDelta(t, 1.9, result.Input.EmissionsIntensity, 1e-9)
	assert.InDelta(t, 90, result.Input.CarbonPrice, 1e-9)
	assert.Equal(t, model.FieldSourceOverride, result.Sources[model.FieldCarbonPrice])
	assert.Nil(t, result.Quote, "quote not recorded when overridden")
}

func TestCalculate_FetchedPrice(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(DefaultEmissionsTable())
	input := model.CalculationInput{
		Product:  "cement",
		Quantity: f64(100),
	}

	result, err := calc.Calculate(input, liveQuote(78.54))
	require.NoError(t, err)

	assert.Equal(t, model.FieldSourceFetched, result.Sources[model.FieldCarbonPrice])
	require.NotNil(t, result.Quote)
	assert.Equal(t, model.PriceSourceLive, result.Quote.Source)
	// cement default 0.9: 0.9 x 100 x 78.54 = 7068.60
	assert.InDelta(t, 7068.60, result.Liability, 1e-9)
}

func TestCalculate_OriginPriceDeducted(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(DefaultEmissionsTable())
	input := model.CalculationInput{
		Product:            "steel",
		EmissionsIntensity: f64(2.0),
		Quantity:           f64(10),
		CarbonPrice:        f64(80),
		OriginCarbonPrice:  f64(30),
	}

	result, err := calc.Calculate(input, nil)
	require.NoError(t, err)

	// 2.0 x 10 x (80 - 30) = 1000.00
	assert.InDelta(t, 1000.00, result.Liability, 1e-9)
	assert.Equal(t, model.FieldSourceOverride, result.Sources[model.FieldOriginCarbonPrice])
}

func TestCalculate_OriginAbovePriceClampsToZero(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(DefaultEmissionsTable())
	input := model.CalculationInput{
		Product:            "steel",
		EmissionsIntensity: f64(2.0),
		Quantity:           f64(10),
		CarbonPrice:        f64(80),
		OriginCarbonPrice:  f64(120),
	}

	result, err := calc.Calculate(input, nil)
	require.NoError(t, err)
	assert.Zero(t, result.Liability)
}

func TestCalculate_UnresolvedParameters(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(DefaultEmissionsTable())

	tests := []struct {
		name      string
		input     model.CalculationInput
		quote     *model.PriceQuote
		wantField string
	}{
		{
			name:      "missing product",
			input:     model.CalculationInput{Quantity: f64(10), CarbonPrice: f64(80)},
			wantField: model.FieldProduct,
		},
		{
			name:      "missing quantity",
			input:     model.CalculationInput{Product: "steel", CarbonPrice: f64(80)},
			wantField: model.FieldQuantity,
		},
		{
			name:      "zero quantity",
			input:     model.CalculationInput{Product: "steel", Quantity: f64(0), CarbonPrice: f64(80)},
			wantField: model.FieldQuantity,
		},
		{
			name:      "unknown product no intensity",
			input:     model.CalculationInput{Product: "widgets", Quantity: f64(10), CarbonPrice: f64(80)},
			wantField: model.FieldEmissionsIntensity,
		},
		{
			name:      "no price anywhere",
			input:     model.CalculationInput{Product: "steel", Quantity: f64(10)},
			wantField: model.FieldCarbonPrice,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := calc.Calculate(tt.input, tt.quote)
			require.Error(t, err)

			var upe *model.UnresolvedParameterError
			require.True(t, errors.As(err, &upe))
			assert.Equal(t, tt.wantField, upe.Field, "error must name the missing field")
		})
	}
}

func TestRoundHalfEven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float64
		want float64
	}{
		// float64(2.345)*100 is 234.50000000000003, above the midpoint, so
		// this rounds up rather than to the even cent. 0.125 below is an
		// exactly representable half and exercises the even-rounding path.
		{"near half, binary above midpoint", 2.345, 2.35},
		{"half up to even", 2.355, 2.36},
		{"half at 0.5 cents down", 0.125, 0.12},
		{"half at 1.5 cents up", 0.135, 0.14},
		{"no rounding needed", 16800.00, 16800.00},
		{"ordinary round up", 7.128, 7.13},
		{"ordinary round down", 7.122, 7.12},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, roundHalfEven(tt.in), 1e-9)
		})
	}
}
