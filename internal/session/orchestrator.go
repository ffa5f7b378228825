package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/carbonview/cbam-cli/internal/compose"
	"github.com/carbonview/cbam-cli/internal/config"
	"github.com/carbonview/cbam-cli/internal/model"
)

// Retriever finds the chunks most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]model.ScoredChunk, error)
	Ready() bool
}

// PriceSource supplies the current carbon price. Never fails.
type PriceSource interface {
	Current(ctx context.Context) model.PriceQuote
}

// Calculator produces a liability estimate from resolved parameters.
type Calculator interface {
	Calculate(input model.CalculationInput, quote *model.PriceQuote) (*model.CalculationResult, error)
}

// Composer generates the final grounded answer.
type Composer interface {
	Compose(ctx context.Context, req compose.Request) (*compose.Result, error)
}

// TurnStore persists conversation turns. nil disables persistence.
type TurnStore interface {
	SaveTurn(ctx context.Context, turn model.ConversationTurn) error
	ListTurns(ctx context.Context, sessionID string, limit int) ([]model.ConversationTurn, error)
}

// Orchestrator runs one user query through the turn lifecycle: classify,
// gather (retrieval and/or calculation, concurrently for mixed intent),
// compose. Every turn reaches a final answer; failures degrade the answer
// rather than dropping the turn.
type Orchestrator struct {
	classifier *Classifier
	retriever  Retriever
	prices     PriceSource
	calc       Calculator
	composer   Composer
	store      TurnStore

	topK          int
	historyWindow int
	printer       *message.Printer
}

// NewOrchestrator wires the turn pipeline. store may be nil.
func NewOrchestrator(
	classifier *Classifier,
	retriever Retriever,
	prices PriceSource,
	calc Calculator,
	composer Composer,
	store TurnStore,
	idxCfg config.IndexConfig,
	composeCfg config.ComposeConfig,
) *Orchestrator {
	return &Orchestrator{
		classifier:    classifier,
		retriever:     retriever,
		prices:        prices,
		calc:          calc,
		composer:      composer,
		store:         store,
		topK:          idxCfg.TopK,
		historyWindow: composeCfg.HistoryWindow,
		printer:       message.NewPrinter(language.BritishEnglish),
	}
}

// Handle processes one user query within a session and returns the finished
// turn. The returned turn is always in state done; Degraded and Error record
// anything that went wrong along the way. The only hard failure is context
// cancellation.
func (o *Orchestrator) Handle(ctx context.Context, sessionID, query string) (*model.ConversationTurn, error) {
	turn := &model.ConversationTurn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Query:     query,
		State:     model.TurnStateReceived,
		CreatedAt: time.Now().UTC(),
	}

	intent, input := o.classifier.Classify(query)
	turn.Intent = intent
	turn.State = model.TurnStateClassified
	zap.L().Info("turn classified",
		zap.String("turn_id", turn.ID),
		zap.String("session_id", sessionID),
		zap.String("intent", string(intent)),
	)

	var quote *model.PriceQuote

	switch intent {
	case model.IntentComputational:
		turn.State = model.TurnStateCalculating
		quote = o.gatherCalculation(ctx, turn, input)

	case model.IntentMixed:
		turn.State = model.TurnStateBoth
		var (
			hits    []model.ScoredChunk
			retErr  error
			result  *model.CalculationResult
			calcErr error
			q       model.PriceQuote
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			hits, retErr = o.retriever.Retrieve(gctx, query, o.topK)
			return nil
		})
		g.Go(func() error {
			q = o.prices.Current(gctx)
			result, calcErr = o.calc.Calculate(input, &q)
			return nil
		})
		_ = g.Wait()
		o.applyEvidence(turn, hits, retErr)
		o.applyCalculation(turn, result, calcErr)
		quote = &q

	default:
		turn.State = model.TurnStateRetrieving
		o.gatherEvidence(ctx, turn)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	turn.State = model.TurnStateComposing
	o.composeAnswer(ctx, turn, quote)
	turn.State = model.TurnStateDone

	o.persist(ctx, turn)
	return turn, nil
}

// gatherEvidence runs retrieval. Failures leave the turn degraded with no
// evidence rather than failing the turn.
func (o *Orchestrator) gatherEvidence(ctx context.Context, turn *model.ConversationTurn) {
	hits, err := o.retriever.Retrieve(ctx, turn.Query, o.topK)
	o.applyEvidence(turn, hits, err)
}

func (o *Orchestrator) applyEvidence(turn *model.ConversationTurn, hits []model.ScoredChunk, err error) {
	if err != nil {
		turn.Degraded = true
		if errors.Is(err, model.ErrIndexNotReady) {
			turn.Error = "documentation index not ready"
		} else {
			turn.Error = "retrieval failed"
		}
		zap.L().Warn("retrieval degraded",
			zap.String("turn_id", turn.ID),
			zap.Error(err),
		)
		return
	}
	turn.Evidence = hits
}

// gatherCalculation resolves the carbon price and runs the calculator. An
// unresolvable parameter degrades the turn with an error naming the field.
func (o *Orchestrator) gatherCalculation(ctx context.Context, turn *model.ConversationTurn, input model.CalculationInput) *model.PriceQuote {
	q := o.prices.Current(ctx)
	result, err := o.calc.Calculate(input, &q)
	o.applyCalculation(turn, result, err)
	return &q
}

func (o *Orchestrator) applyCalculation(turn *model.ConversationTurn, result *model.CalculationResult, err error) {
	if err != nil {
		turn.Degraded = true
		var upe *model.UnresolvedParameterError
		if errors.As(err, &upe) {
			turn.Error = "cannot calculate: missing " + upe.Field
		} else {
			turn.Error = "calculation failed"
		}
		zap.L().Warn("calculation degraded",
			zap.String("turn_id", turn.ID),
			zap.Error(err),
		)
		return
	}

	result.ID = uuid.NewString()
	turn.Calculation = result
}

// composeAnswer produces the final answer text. When generation fails or the
// turn is already degraded with nothing to say, it falls back to a
// deterministic summary so the turn still completes.
func (o *Orchestrator) composeAnswer(ctx context.Context, turn *model.ConversationTurn, quote *model.PriceQuote) {
	// A failed calculation with no evidence has nothing for the model to
	// ground on; answer deterministically.
	if turn.Calculation == nil && len(turn.Evidence) == 0 && turn.Degraded {
		turn.Answer = o.fallbackAnswer(turn, quote)
		return
	}

	history := o.loadHistory(ctx, turn.SessionID)

	result, err := o.composer.Compose(ctx, compose.Request{
		Query:       turn.Query,
		Evidence:    turn.Evidence,
		History:     history,
		Calculation: turn.Calculation,
		Quote:       quote,
	})
	if err != nil {
		turn.Degraded = true
		turn.Error = "answer generation failed"
		turn.Answer = o.fallbackAnswer(turn, quote)
		zap.L().Warn("composition degraded",
			zap.String("turn_id", turn.ID),
			zap.Error(err),
		)
		return
	}

	turn.Answer = result.Answer
	turn.Citations = result.Citations
}

// fallbackAnswer renders what is known without a model call.
func (o *Orchestrator) fallbackAnswer(turn *model.ConversationTurn, quote *model.PriceQuote) string {
	if calc := turn.Calculation; calc != nil {
		in := calc.Input
		return o.printer.Sprintf(
			"Estimated CBAM liability for %.2f tonnes of %s: €%.2f (%.2f tCO2e at €%.2f per tonne CO2e).",
			in.Quantity, in.Product, calc.Liability, calc.TotalEmissions, in.CarbonPrice,
		)
	}
	if turn.Error != "" {
		if quote != nil && turn.Intent != model.IntentInformational {
			return o.printer.Sprintf(
				"I could not complete that request (%s). The current carbon price is €%.2f (source: %s).",
				turn.Error, quote.Price, quote.Source,
			)
		}
		return "I could not complete that request (" + turn.Error + ")."
	}
	return "I could not produce an answer for that request."
}

// loadHistory fetches recent turns for the session, oldest first.
func (o *Orchestrator) loadHistory(ctx context.Context, sessionID string) []model.ConversationTurn {
	if o.store == nil || sessionID == "" {
		return nil
	}
	turns, err := o.store.ListTurns(ctx, sessionID, o.historyWindow)
	if err != nil {
		zap.L().Warn("load session history", zap.Error(err))
		return nil
	}
	return turns
}

func (o *Orchestrator) persist(ctx context.Context, turn *model.ConversationTurn) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveTurn(ctx, *turn); err != nil {
		zap.L().Warn("persist turn",
			zap.String("turn_id", turn.ID),
			zap.Error(err),
		)
	}
}
