package model

import "time"

// Intent classifies what a user turn is asking for.
type Intent string

const (
	IntentInformational Intent = "informational"
	IntentComputational Intent = "computational"
	IntentMixed         Intent = "mixed"
)

// TurnState tracks a turn through the orchestrator state machine.
type TurnState string

const (
	TurnStateReceived    TurnState = "received"
	TurnStateClassified  TurnState = "classified"
	TurnStateRetrieving  TurnState = "retrieving"
	TurnStateCalculating TurnState = "calculating"
	TurnStateBoth        TurnState = "both"
	TurnStateComposing   TurnState = "composing"
	TurnStateDone        TurnState = "done"
)

// Citation points a piece of answer text back at its source chunk.
type Citation struct {
	Marker   string  `json:"marker"` // e.g. "S1"
	ChunkID  string  `json:"chunk_id"`
	DocTitle string  `json:"doc_title"`
	Score    float64 `json:"score"`
}

// ConversationTurn is one user query and everything produced while answering
// it. Degraded turns still reach state done; Degraded and Error flag what
// failed instead of leaving the turn unresolved.
type ConversationTurn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Query     string    `json:"query"`
	Intent    Intent    `json:"intent"`
	State     TurnState `json:"state"`

	Evidence    []ScoredChunk      `json:"evidence,omitempty"`
	Calculation *CalculationResult `json:"calculation,omitempty"`

	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations,omitempty"`

	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
