// Package compose turns retrieval evidence and calculation results into a
// grounded, citation-carrying answer via the Anthropic API.
package compose

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/carbonview/cbam-cli/internal/calc"
	"github.com/carbonview/cbam-cli/internal/config"
	"github.com/carbonview/cbam-cli/internal/model"
	"github.com/carbonview/cbam-cli/internal/resilience"
	"github.com/carbonview/cbam-cli/pkg/anthropic"
)

const systemPrompt = `You are a CBAM (EU Carbon Border Adjustment Mechanism) compliance assistant. Answer questions using ONLY the provided source excerpts and calculation results. Cite sources inline with their markers, e.g. [S1]. If the sources do not contain the answer, say so explicitly rather than guessing.`

// Request carries everything available for composing one answer.
type Request struct {
	Query       string
	Evidence    []model.ScoredChunk
	History     []model.ConversationTurn // prior turns, oldest first
	Calculation *model.CalculationResult
	Quote       *model.PriceQuote
}

// Result is a composed answer with its resolved citations.
type Result struct {
	Answer    string
	Citations []model.Citation
	Usage     anthropic.TokenUsage
}

// Composer generates grounded answers. Calls are rate limited to a minimum
// interval and retried a bounded number of times on transient failures.
type Composer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	cfg       config.ComposeConfig
	limiter   *rate.Limiter
	defaults  string
}

// New creates a Composer. The reference table's default factors are rendered
// into every prompt so questions about them can be answered even when no
// document excerpt covers them. A nil table omits the line.
func New(client anthropic.Client, api config.AnthropicConfig, cfg config.ComposeConfig, table *calc.EmissionsTable) *Composer {
	interval := time.Duration(cfg.MinRequestInterval * float64(time.Second))
	if interval <= 0 {
		interval = 2 * time.Second
	}
	defaults := ""
	if table != nil {
		defaults = formatDefaults(table.Defaults())
	}
	return &Composer{
		client:    client,
		model:     api.Model,
		maxTokens: int64(api.MaxTokens),
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		defaults:  defaults,
	}
}

// formatDefaults renders product defaults in a stable order.
func formatDefaults(defaults map[string]float64) string {
	products := make([]string, 0, len(defaults))
	for p := range defaults {
		products = append(products, p)
	}
	sort.Strings(products)

	parts := make([]string, 0, len(products))
	for _, p := range products {
		parts = append(parts, p+" "+strconv.FormatFloat(defaults[p], 'g', -1, 64))
	}
	return strings.Join(parts, ", ")
}

// Compose generates an answer for req. A failure after all retries is
// returned as a *model.GenerationError.
func (c *Composer) Compose(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, eris.New("compose: empty query")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "compose: rate limit wait")
	}

	prompt := buildPrompt(req, c.cfg.HistoryWindow, c.defaults)

	attempts := c.cfg.MaxRetries + 1
	retryCfg := resilience.RetryConfig{
		MaxAttempts: attempts,
		OnRetry:     resilience.RetryLogger("anthropic", "compose"),
	}

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.GenerateTimeout())
		defer cancel()
		return c.client.CreateMessage(callCtx, anthropic.MessageRequest{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			System:    systemPrompt,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		return nil, &model.GenerationError{Attempts: attempts, Err: err}
	}

	resp.Usage.LogCost(c.model, "compose")

	return &Result{
		Answer:    resp.Text,
		Citations: extractCitations(resp.Text, req.Evidence),
		Usage:     resp.Usage,
	}, nil
}

// buildPrompt assembles the tagged prompt. Evidence text is included
// verbatim under stable [S1..Sn] markers in retrieval order.
func buildPrompt(req Request, historyWindow int, defaults string) string {
	var b strings.Builder

	b.WriteString("<context>\n")
	if len(req.Evidence) == 0 {
		b.WriteString("(no source excerpts retrieved)\n")
	}
	for i, sc := range req.Evidence {
		fmt.Fprintf(&b, "[S%d] %s\n%s\n\n", i+1, sc.Chunk.DocTitle, sc.Chunk.Text)
	}
	if defaults != "" {
		fmt.Fprintf(&b, "Default emission factors (tCO2e per tonne): %s\n", defaults)
	}
	if req.Quote != nil {
		fmt.Fprintf(&b, "Current EU ETS carbon price: EUR %.2f (source: %s, as of %s)\n",
			req.Quote.Price, req.Quote.Source, req.Quote.FetchedAt.Format("2006-01-02 15:04 MST"))
	}
	if req.Calculation != nil {
		writeCalculation(&b, req.Calculation)
	}
	b.WriteString("</context>\n\n")

	history := req.History
	if historyWindow > 0 && len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	if len(history) > 0 {
		b.WriteString("<chat_history>\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", turn.Query, turn.Answer)
		}
		b.WriteString("</chat_history>\n\n")
	}

	fmt.Fprintf(&b, "<question>\n%s\n</question>\n\n", req.Query)

	b.WriteString("<instructions>\n")
	b.WriteString("Answer the question using only the context above. ")
	b.WriteString("Cite every factual claim with its source marker, e.g. [S1]. ")
	b.WriteString("When a calculation result is present, report its figures exactly as given; do not recompute. ")
	b.WriteString("If the context does not cover the question, say so.\n")
	b.WriteString("</instructions>")

	return b.String()
}

func writeCalculation(b *strings.Builder, calc *model.CalculationResult) {
	in := calc.Input
	fmt.Fprintf(b, "Calculation result: %s", in.Product)
	if in.Country != "" {
		fmt.Fprintf(b, " from %s", in.Country)
	}
	fmt.Fprintf(b, ", %.2f tonnes at %.2f tCO2e/tonne, carbon price EUR %.2f", in.Quantity, in.EmissionsIntensity, in.CarbonPrice)
	if in.OriginCarbonPrice > 0 {
		fmt.Fprintf(b, " less origin carbon price EUR %.2f", in.OriginCarbonPrice)
	}
	fmt.Fprintf(b, ". Total embedded emissions %.2f tCO2e. Estimated CBAM liability EUR %.2f.\n", calc.TotalEmissions, calc.Liability)
}

var citationPattern = regexp.MustCompile(`\[S(\d+)\]`)

// extractCitations resolves [S#] markers in the answer back to the evidence
// they reference, in first-occurrence order, deduplicated. Markers outside
// the evidence range are dropped.
func extractCitations(answer string, evidence []model.ScoredChunk) []model.Citation {
	matches := citationPattern.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[int]bool)
	var out []model.Citation
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(evidence) || seen[n] {
			continue
		}
		seen[n] = true
		sc := evidence[n-1]
		out = append(out, model.Citation{
			Marker:   fmt.Sprintf("S%d", n),
			ChunkID:  sc.Chunk.ID,
			DocTitle: sc.Chunk.DocTitle,
			Score:    sc.Score,
		})
	}
	return out
}
