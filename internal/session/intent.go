// Package session drives a conversation turn through classification,
// retrieval, calculation and composition.
package session

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/carbonview/cbam-cli/internal/model"
)

// computationalCues mark a query as asking for a number, not an explanation.
var computationalCues = []string{
	"calculate", "compute", "estimate", "how much", "what would it cost",
	"cost of", "liability", "what do i owe", "owe for",
}

// informationalCues mark a query as asking about the rules themselves.
var informationalCues = []string{
	"what is", "what are", "when", "why", "how do", "how does", "explain",
	"which", "who", "where", "deadline", "report", "rules", "requirement",
	"apply", "exempt", "scope", "definition",
}

var (
	quantityPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:t\b|tonnes?\b|tons?\b|mwh\b)`)
	// "intensity of 2.1", "2.1 tCO2e/tonne", "emission factor 2.1"
	intensityPattern = regexp.MustCompile(`(?i)(?:intensity|emission factor)\s*(?:of|is|=|:)?\s*(\d+(?:\.\d+)?)|(\d+(?:\.\d+)?)\s*tco2e?(?:\s*/|\s+per\s+)\s*(?:t\b|tonne)`)
	// "carbon price of 80", "at €80", "price 80.50"
	pricePattern = regexp.MustCompile(`(?i)(?:carbon\s+)?price\s*(?:of|is|at|=|:)?\s*(?:€|eur\s*)?(\d+(?:\.\d+)?)|at\s*(?:€|eur\s*)(\d+(?:\.\d+)?)`)
	// "origin carbon price of 30", "already paid €30"
	originPattern  = regexp.MustCompile(`(?i)(?:origin\s+(?:carbon\s+)?price|already\s+paid)\s*(?:of|is|=|:)?\s*(?:€|eur\s*)?(\d+(?:\.\d+)?)`)
	countryPattern = regexp.MustCompile(`(?i)\bfrom\s+([A-Za-z]{2,20})\b`)
)

// Classifier assigns an intent to a user query and extracts any calculation
// parameters it mentions. Rule based, no model call.
type Classifier struct {
	products []string
}

// NewClassifier creates a Classifier that recognizes the given product names.
func NewClassifier(products []string) *Classifier {
	lowered := make([]string, len(products))
	for i, p := range products {
		lowered[i] = strings.ToLower(p)
	}
	return &Classifier{products: lowered}
}

// Classify determines the intent of query and pre-fills a CalculationInput
// from whatever parameters the query states explicitly.
func (c *Classifier) Classify(query string) (model.Intent, model.CalculationInput) {
	lower := strings.ToLower(query)

	input := c.extract(query, lower)

	computational := containsAny(lower, computationalCues) ||
		(input.Quantity != nil && input.Product != "")
	informational := containsAny(lower, informationalCues)

	switch {
	case computational && informational:
		return model.IntentMixed, input
	case computational:
		return model.IntentComputational, input
	default:
		return model.IntentInformational, input
	}
}

func (c *Classifier) extract(query, lower string) model.CalculationInput {
	var input model.CalculationInput

	for _, p := range c.products {
		if strings.Contains(lower, p) {
			input.Product = p
			break
		}
	}
	// Common spelling variant.
	if input.Product == "" && strings.Contains(lower, "aluminium") {
		input.Product = "aluminum"
	}

	if m := quantityPattern.FindStringSubmatch(query); m != nil {
		input.Quantity = parseFloat(m[1])
	}
	if m := intensityPattern.FindStringSubmatch(query); m != nil {
		input.EmissionsIntensity = parseFloat(firstNonEmpty(m[1:]))
	}
	if m := originPattern.FindStringSubmatch(query); m != nil {
		input.OriginCarbonPrice = parseFloat(m[1])
	}
	// Strip the origin clause so the generic price pattern cannot re-match it.
	remainder := originPattern.ReplaceAllString(query, "")
	if m := pricePattern.FindStringSubmatch(remainder); m != nil {
		input.CarbonPrice = parseFloat(firstNonEmpty(m[1:]))
	}
	if m := countryPattern.FindStringSubmatch(query); m != nil {
		input.Country = strings.ToUpper(m[1])
	}

	return input
}

func containsAny(s string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(s, cue) {
			return true
		}
	}
	return false
}

func parseFloat(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func firstNonEmpty(groups []string) string {
	for _, g := range groups {
		if g != "" {
			return g
		}
	}
	return ""
}
