// Package agent runs tool-using conversations over an LLM provider. A
// Strategy receives the whole BRD text and decides which tools to call and
// in what order; the caller only bounds the number of turns and the number
// of consecutive unparseable turns.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/brdiagram/llm"
)

// DefaultSystemPrompt is the instruction given to every strategy.
const DefaultSystemPrompt = `You are an expert BRD Diagram Agent. Take a BRD text, parse it, and generate Mermaid diagrams (DFD, Logic, DB).
Think step-by-step. Use tools when needed: ParseBRD, GenDFD, GenLogic, GenDB.
1) Use ParseBRD to extract JSON; 2) pass that JSON to GenDFD, GenLogic and GenDB; 3) finish with a short summary of what was generated.`

const (
	defaultMaxTurns         = 10
	defaultMaxParseFailures = 3
)

var (
	// ErrTurnLimit is returned when a conversation exceeds its turn budget.
	ErrTurnLimit = errors.New("agent: turn limit reached")
	// ErrParseFailures is returned after too many consecutive turns whose
	// output could not be interpreted.
	ErrParseFailures = errors.New("agent: too many unparseable turns")
)

// Tool is a named function the model may invoke with a single text input.
type Tool struct {
	Name        string
	Description string
	Run         func(ctx context.Context, input string) (string, error)
}

// Strategy runs one conversation to completion and returns the model's
// final answer.
type Strategy interface {
	Name() string
	Run(ctx context.Context, text string) (string, error)
}

// Deps is everything a strategy constructor may use.
type Deps struct {
	Provider         llm.Provider
	Tools            []Tool
	Model            string
	Temperature      float64
	MaxTurns         int
	MaxParseFailures int
	SystemPrompt     string
}

func (d Deps) withDefaults() Deps {
	if d.MaxTurns <= 0 {
		d.MaxTurns = defaultMaxTurns
	}
	if d.MaxParseFailures <= 0 {
		d.MaxParseFailures = defaultMaxParseFailures
	}
	if d.SystemPrompt == "" {
		d.SystemPrompt = DefaultSystemPrompt
	}
	return d
}

func (d Deps) tool(name string) (Tool, bool) {
	for _, t := range d.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

func (d Deps) toolNames() []string {
	names := make([]string, len(d.Tools))
	for i, t := range d.Tools {
		names[i] = t.Name
	}
	return names
}

// UnavailableError reports that a strategy cannot be built with the given
// dependencies.
type UnavailableError struct {
	Strategy string
	Reason   string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("agent: strategy %s unavailable: %s", e.Strategy, e.Reason)
}

// Constructor builds a named strategy. Build returns a *UnavailableError
// when its requirements are not met.
type Constructor struct {
	Name  string
	Build func(Deps) (Strategy, error)
}

// Constructors returns the built-in constructors in preference order.
func Constructors() []Constructor {
	return []Constructor{
		{Name: "function-calling", Build: newFunctionCalling},
		{Name: "react", Build: newReAct},
	}
}

// ConstructorsByName returns the built-in constructors named in names, in
// the given order.
func ConstructorsByName(names []string) ([]Constructor, error) {
	all := Constructors()
	out := make([]Constructor, 0, len(names))
	for _, name := range names {
		found := false
		for _, c := range all {
			if c.Name == name {
				out = append(out, c)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("agent: unknown strategy %q", name)
		}
	}
	return out, nil
}

// Select tries each constructor in order and returns the first strategy
// that builds. When every constructor reports unavailable, it returns a nil
// Strategy, the collected reasons and a nil error. Any other construction
// error is returned as is.
func Select(constructors []Constructor, d Deps) (Strategy, []*UnavailableError, error) {
	d = d.withDefaults()

	var skipped []*UnavailableError
	for _, c := range constructors {
		s, err := c.Build(d)
		if err == nil {
			slog.Debug("agent: strategy selected", "strategy", c.Name)
			return s, skipped, nil
		}

		var ue *UnavailableError
		if !errors.As(err, &ue) {
			return nil, skipped, fmt.Errorf("building strategy %s: %w", c.Name, err)
		}
		slog.Debug("agent: strategy unavailable", "strategy", c.Name, "reason", ue.Reason)
		skipped = append(skipped, ue)
	}
	return nil, skipped, nil
}

func requireCommon(name string, d Deps) error {
	if d.Provider == nil {
		return &UnavailableError{Strategy: name, Reason: "no llm provider"}
	}
	if len(d.Tools) == 0 {
		return &UnavailableError{Strategy: name, Reason: "no tools"}
	}
	return nil
}

// userInput frames the BRD text as the conversation's opening request.
func userInput(text string) string {
	return "User input: " + text
}

// unknownToolObservation tells the model which tools exist.
func unknownToolObservation(name string, d Deps) string {
	return fmt.Sprintf("%s is not a valid tool, try one of [%s].", name, strings.Join(d.toolNames(), ", "))
}
