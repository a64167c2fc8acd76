// Package diagram turns extracted facts into Mermaid markup, one LLM call
// per diagram kind.
package diagram

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/brdiagram/llm"
)

// Kind identifies one of the three diagrams.
type Kind string

const (
	KindDFD   Kind = "dfd"
	KindLogic Kind = "logic"
	KindERD   Kind = "erd"
)

// Kinds lists every diagram kind in output order.
var Kinds = []Kind{KindDFD, KindLogic, KindERD}

// ParseKind accepts a kind name or its tool name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if s == string(k) || s == k.ToolName() {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown diagram kind: %q", s)
}

// Title is the display label for the kind.
func (k Kind) Title() string {
	switch k {
	case KindDFD:
		return "DFD"
	case KindLogic:
		return "Logic"
	case KindERD:
		return "ERD"
	}
	return string(k)
}

// ToolName is the name under which the synthesizer is offered to agents.
func (k Kind) ToolName() string {
	switch k {
	case KindDFD:
		return "GenDFD"
	case KindLogic:
		return "GenLogic"
	case KindERD:
		return "GenDB"
	}
	return ""
}

// Artifact is one diagram produced by a run. Markup is set once synthesis
// succeeds; the paths are set only when the corresponding file step
// succeeded. Stage errors are kept as strings so artifacts serialize.
type Artifact struct {
	Kind         Kind   `json:"kind"`
	Markup       string `json:"markup,omitempty"`
	MarkupPath   string `json:"markup_path,omitempty"`
	ImagePath    string `json:"image_path,omitempty"`
	DocumentPath string `json:"document_path,omitempty"`
	Err          string `json:"error,omitempty"`
	WriteErr     string `json:"write_error,omitempty"`
	RenderErr    string `json:"render_error,omitempty"`
	ConvertErr   string `json:"convert_error,omitempty"`
}

// OK reports whether synthesis produced markup.
func (a Artifact) OK() bool { return a.Err == "" && a.Markup != "" }

// BuildRequest returns the chat request for one diagram. It depends only on
// its arguments.
func BuildRequest(kind Kind, facts, model string, temperature float64) (llm.ChatRequest, error) {
	tmpl, ok := prompts[kind]
	if !ok {
		return llm.ChatRequest{}, fmt.Errorf("unknown diagram kind: %q", kind)
	}
	return llm.ChatRequest{
		Model:       model,
		Messages:    []llm.Message{{Role: "user", Content: fmt.Sprintf(tmpl, facts)}},
		Temperature: temperature,
	}, nil
}

// Synthesizer produces markup for a diagram kind. The model reply is
// returned as-is, even when it carries prose around the markup.
type Synthesizer struct {
	chat        llm.Provider
	model       string
	temperature float64
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(chat llm.Provider, model string, temperature float64) *Synthesizer {
	return &Synthesizer{chat: chat, model: model, temperature: temperature}
}

// Synthesize makes a single call for kind. There is no retry.
func (s *Synthesizer) Synthesize(ctx context.Context, kind Kind, facts string) (string, error) {
	req, err := BuildRequest(kind, facts, s.model, s.temperature)
	if err != nil {
		return "", err
	}

	resp, err := s.chat.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s synthesis llm chat: %w", kind, err)
	}
	return resp.Content, nil
}
