// Package generator is the dialogue generation capability: given context,
// produce the next turn or a summary of past turns. The orchestrator is
// agnostic to how the text is produced; LLMGenerator is the langchaingo
// implementation and tests substitute stubs.
package generator

import (
	"context"
	"errors"
)

// ErrGeneratorFailure means the external generation call raised or
// returned output unusable even after lenient fallback parsing.
var ErrGeneratorFailure = errors.New("dialogue generator failure")

// ContextMessage is one labeled turn handed to the generator.
type ContextMessage struct {
	UserName string
	Content  string
}

// TurnContext is everything a generation call needs: the assembled context
// window (summary turn first, then verbatim turns oldest to newest), the
// acting speaker being answered (Target), the speaker producing the turn
// (Self), the room's human participant if any, and the producing speaker's
// effective persona.
type TurnContext struct {
	Messages   []ContextMessage
	TargetName string
	SelfName   string
	HumanName  string
	Persona    string
}

// Result is a generated turn. Fallback marks results degraded from raw
// text because the structured parse failed; callers treat them the same
// but tests and logs can tell them apart.
type Result struct {
	Target   string `json:"target"`
	Content  string `json:"content"`
	Fallback bool   `json:"-"`
}

// DialogueGenerator produces summaries and next turns.
type DialogueGenerator interface {
	// Summarize condenses past turns in the voice of the given persona.
	Summarize(ctx context.Context, messages []ContextMessage, persona string) (string, error)

	// Generate produces the next turn of an agent-to-agent exchange.
	Generate(ctx context.Context, tc TurnContext) (*Result, error)

	// GenerateWithHuman produces the next turn when a human spoke in the
	// recent window.
	GenerateWithHuman(ctx context.Context, tc TurnContext) (*Result, error)
}
