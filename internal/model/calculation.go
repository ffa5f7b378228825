package model

// FieldSource records how a calculation parameter was resolved.
type FieldSource string

const (
	FieldSourceOverride FieldSource = "override"
	FieldSourceFetched  FieldSource = "fetched"
	FieldSourceDefault  FieldSource = "default"
)

// Calculation parameter names, as reported in provenance and in
// UnresolvedParameterError.
const (
	FieldProduct            = "product"
	FieldCountry            = "country"
	FieldEmissionsIntensity = "emissions_intensity"
	FieldQuantity           = "quantity"
	FieldCarbonPrice        = "carbon_price"
	FieldOriginCarbonPrice  = "origin_carbon_price"
)

// CalculationInput carries the raw inputs for a CBAM liability estimate.
// Optional fields left nil are resolved from the price feed or the default
// lookup table; explicit values always win.
type CalculationInput struct {
	Product string `json:"product"`
	Country string `json:"country,omitempty"`

	// EmissionsIntensity is tCO2e per tonne of product. Nil means use the
	// default table for (product, country).
	EmissionsIntensity *float64 `json:"emissions_intensity,omitempty"`

	// Quantity is tonnes of product. Required.
	Quantity *float64 `json:"quantity,omitempty"`

	// CarbonPrice is EUR per tCO2e. Nil means use the price feed quote.
	CarbonPrice *float64 `json:"carbon_price,omitempty"`

	// OriginCarbonPrice is a carbon price already paid in the country of
	// origin, deducted from the EU ETS price. Nil means zero.
	OriginCarbonPrice *float64 `json:"origin_carbon_price,omitempty"`
}

// ResolvedInput is the concrete parameter snapshot a calculation ran with.
// Every field holds the value actually used, after override/fetch/default
// resolution.
type ResolvedInput struct {
	Product            string  `json:"product"`
	Country            string  `json:"country,omitempty"`
	EmissionsIntensity float64 `json:"emissions_intensity"`
	Quantity           float64 `json:"quantity"`
	CarbonPrice        float64 `json:"carbon_price"`
	OriginCarbonPrice  float64 `json:"origin_carbon_price"`
}

// CalculationResult is the liability estimate plus everything needed to
// audit it: the resolved input snapshot, per-field provenance and the price
// quote used.
type CalculationResult struct {
	ID string `json:"id"`

	// Liability is the CBAM cost estimate in EUR, rounded half-even to
	// 2 decimal places.
	Liability float64 `json:"liability"`

	// TotalEmissions is intensity x quantity in tCO2e.
	TotalEmissions float64 `json:"total_emissions"`

	Input   ResolvedInput          `json:"input"`
	Sources map[string]FieldSource `json:"sources"`
	Quote   *PriceQuote            `json:"quote,omitempty"`
}
