package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brunobiangulo/brdiagram/llm"
)

// chatOnly implements llm.Provider with scripted replies.
type chatOnly struct {
	replies []string
	reqs    []llm.ChatRequest
}

func (c *chatOnly) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	c.reqs = append(c.reqs, req)
	if len(c.reqs) > len(c.replies) {
		return nil, errors.New("script exhausted")
	}
	return &llm.ChatResponse{Content: c.replies[len(c.reqs)-1]}, nil
}

// toolCaller implements llm.ToolCaller with scripted assistant messages.
type toolCaller struct {
	chatOnly
	turns []llm.Message
	treqs []llm.ToolChatRequest
}

func (c *toolCaller) ChatWithTools(_ context.Context, req llm.ToolChatRequest) (*llm.ToolChatResponse, error) {
	c.treqs = append(c.treqs, req)
	if len(c.treqs) > len(c.turns) {
		return nil, errors.New("script exhausted")
	}
	return &llm.ToolChatResponse{Message: c.turns[len(c.treqs)-1]}, nil
}

type recorder struct {
	calls []string
}

func (r *recorder) tools() []Tool {
	mk := func(name string) Tool {
		return Tool{
			Name:        name,
			Description: name + " tool",
			Run: func(_ context.Context, input string) (string, error) {
				r.calls = append(r.calls, name+"("+input+")")
				if name == "GenLogic" && input == "fail" {
					return "", errors.New("upstream error")
				}
				return name + " output", nil
			},
		}
	}
	return []Tool{mk("ParseBRD"), mk("GenDFD"), mk("GenLogic"), mk("GenDB")}
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Function: llm.ToolCallFunction{Name: name, Arguments: args}}
}

func TestSelectOrder(t *testing.T) {
	rec := &recorder{}

	tests := []struct {
		name     string
		provider llm.Provider
		tools    []Tool
		want     string
		skipped  int
	}{
		{"tool caller", &toolCaller{}, rec.tools(), "function-calling", 0},
		{"chat only", &chatOnly{}, rec.tools(), "react", 1},
		{"no tools", &toolCaller{}, nil, "", 2},
		{"no provider", nil, rec.tools(), "", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, skipped, err := Select(Constructors(), Deps{Provider: tt.provider, Tools: tt.tools})
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			got := ""
			if s != nil {
				got = s.Name()
			}
			if got != tt.want {
				t.Errorf("strategy = %q, want %q", got, tt.want)
			}
			if len(skipped) != tt.skipped {
				t.Errorf("skipped = %v, want %d entries", skipped, tt.skipped)
			}
		})
	}
}

func TestSelectPropagatesBuildErrors(t *testing.T) {
	broken := Constructor{Name: "broken", Build: func(Deps) (Strategy, error) {
		return nil, errors.New("bad config")
	}}
	_, _, err := Select([]Constructor{broken}, Deps{})
	if err == nil || !strings.Contains(err.Error(), "bad config") {
		t.Fatalf("expected build error, got %v", err)
	}
}

func TestConstructorsByName(t *testing.T) {
	cs, err := ConstructorsByName([]string{"react"})
	if err != nil || len(cs) != 1 || cs[0].Name != "react" {
		t.Fatalf("ConstructorsByName = %v, %v", cs, err)
	}
	if _, err := ConstructorsByName([]string{"plan-and-execute"}); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestUnavailableErrorAs(t *testing.T) {
	_, err := newFunctionCalling(Deps{Provider: &chatOnly{}, Tools: (&recorder{}).tools()})
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.Strategy != "function-calling" {
		t.Fatalf("expected *UnavailableError, got %v", err)
	}
}

func TestFunctionCallingRun(t *testing.T) {
	rec := &recorder{}
	p := &toolCaller{turns: []llm.Message{
		{ToolCalls: []llm.ToolCall{call("1", "ParseBRD", `{"input":"Users submit issues"}`)}},
		{ToolCalls: []llm.ToolCall{
			call("2", "GenDFD", `{"input":"facts"}`),
			call("3", "GenLogic", `"facts"`),
			call("4", "GenDB", `{"input":"facts"}`),
		}},
		{Content: "Generated DFD, Logic and ERD."},
	}}

	s, err := newFunctionCalling(Deps{Provider: p, Tools: rec.tools(), Model: "m", Temperature: 0.2})
	if err != nil {
		t.Fatalf("newFunctionCalling: %v", err)
	}

	out, err := s.Run(context.Background(), "Users submit issues")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "Generated DFD, Logic and ERD." {
		t.Errorf("final answer = %q", out)
	}

	want := []string{"ParseBRD(Users submit issues)", "GenDFD(facts)", "GenLogic(facts)", "GenDB(facts)"}
	if strings.Join(rec.calls, "|") != strings.Join(want, "|") {
		t.Errorf("tool calls = %v, want %v", rec.calls, want)
	}

	first := p.treqs[0]
	if len(first.Tools) != 4 || first.Messages[0].Role != "system" ||
		first.Messages[1].Content != "User input: Users submit issues" {
		t.Errorf("unexpected first request: %+v", first)
	}

	last := p.treqs[2].Messages
	tail := last[len(last)-3:]
	for i, id := range []string{"2", "3", "4"} {
		if tail[i].Role != "tool" || tail[i].ToolCallID != id {
			t.Errorf("tool message %d = %+v", i, tail[i])
		}
	}
}

func TestFunctionCallingToolErrorIsObservation(t *testing.T) {
	rec := &recorder{}
	p := &toolCaller{turns: []llm.Message{
		{ToolCalls: []llm.ToolCall{call("1", "GenLogic", `{"input":"fail"}`)}},
		{Content: "Logic generation failed."},
	}}
	s, _ := newFunctionCalling(Deps{Provider: p, Tools: rec.tools()})

	if _, err := s.Run(context.Background(), "x"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	obs := p.treqs[1].Messages[len(p.treqs[1].Messages)-1]
	if !strings.Contains(obs.Content, "Error: upstream error") {
		t.Errorf("observation = %q", obs.Content)
	}
}

func TestFunctionCallingAbortsOnRepeatedMalformedCalls(t *testing.T) {
	rec := &recorder{}
	p := &toolCaller{turns: []llm.Message{
		{ToolCalls: []llm.ToolCall{call("1", "ParseBRD", `not json`)}},
		{ToolCalls: []llm.ToolCall{call("2", "DrawPicture", `{"input":"x"}`)}},
		{Content: "  "},
		{Content: "never reached"},
	}}
	s, _ := newFunctionCalling(Deps{Provider: p, Tools: rec.tools(), MaxParseFailures: 3})

	_, err := s.Run(context.Background(), "x")
	if !errors.Is(err, ErrParseFailures) {
		t.Fatalf("error = %v, want ErrParseFailures", err)
	}
	if len(p.treqs) != 3 {
		t.Errorf("expected abort after 3 turns, got %d", len(p.treqs))
	}
	if len(rec.calls) != 0 {
		t.Errorf("no tool should have run, got %v", rec.calls)
	}
}

func TestFunctionCallingTurnLimit(t *testing.T) {
	rec := &recorder{}
	var turns []llm.Message
	for i := 0; i < 5; i++ {
		turns = append(turns, llm.Message{ToolCalls: []llm.ToolCall{call("x", "ParseBRD", `{"input":"again"}`)}})
	}
	p := &toolCaller{turns: turns}
	s, _ := newFunctionCalling(Deps{Provider: p, Tools: rec.tools(), MaxTurns: 2})

	if _, err := s.Run(context.Background(), "x"); !errors.Is(err, ErrTurnLimit) {
		t.Fatalf("error = %v, want ErrTurnLimit", err)
	}
	if len(p.treqs) != 2 {
		t.Errorf("expected 2 turns, got %d", len(p.treqs))
	}
}

func TestReActRun(t *testing.T) {
	rec := &recorder{}
	p := &chatOnly{replies: []string{
		" I should parse the BRD first.\nAction: ParseBRD\nAction Input: Users submit issues",
		" Now the diagrams.\nAction: GenDFD\nAction Input: {\"processes\": [\"Submit\"]}",
		" I now know the final answer\nFinal Answer: DFD generated.",
	}}

	s, err := newReAct(Deps{Provider: p, Tools: rec.tools(), Model: "m"})
	if err != nil {
		t.Fatalf("newReAct: %v", err)
	}

	out, err := s.Run(context.Background(), "Users submit issues")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "DFD generated." {
		t.Errorf("final answer = %q", out)
	}

	want := []string{"ParseBRD(Users submit issues)", `GenDFD({"processes": ["Submit"]})`}
	if strings.Join(rec.calls, "|") != strings.Join(want, "|") {
		t.Errorf("tool calls = %v, want %v", rec.calls, want)
	}

	first := p.reqs[0]
	if len(first.Stop) != 1 || first.Stop[0] != "\nObservation:" {
		t.Errorf("stop sequences = %q", first.Stop)
	}
	prompt := first.Messages[0].Content
	for _, s := range []string{"ParseBRD: ParseBRD tool", "[ParseBRD, GenDFD, GenLogic, GenDB]", "Question: User input: Users submit issues"} {
		if !strings.Contains(prompt, s) {
			t.Errorf("prompt missing %q", s)
		}
	}

	third := p.reqs[2].Messages[0].Content
	if !strings.Contains(third, "Observation: ParseBRD output\nThought:") ||
		!strings.Contains(third, "Observation: GenDFD output\nThought:") {
		t.Errorf("scratchpad missing observations:\n%s", third)
	}
}

func TestReActAbortsAfterParseFailures(t *testing.T) {
	rec := &recorder{}
	p := &chatOnly{replies: []string{"hmm", "let me think", "Action: GenDFD", "Final Answer: late"}}
	s, _ := newReAct(Deps{Provider: p, Tools: rec.tools()})

	_, err := s.Run(context.Background(), "x")
	if !errors.Is(err, ErrParseFailures) {
		t.Fatalf("error = %v, want ErrParseFailures", err)
	}
	if len(p.reqs) != 3 {
		t.Errorf("expected 3 turns, got %d", len(p.reqs))
	}
	if !strings.Contains(p.reqs[1].Messages[0].Content, "Observation: Invalid Format: missing 'Action:'") {
		t.Error("invalid format observation not fed back")
	}
}

func TestParseReActStep(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    reactStep
		wantErr bool
	}{
		{"action", "Thought\nAction: GenDB\nAction Input: \"facts\"", reactStep{action: "GenDB", input: "facts"}, false},
		{"final", "Thought: done\nFinal Answer:  all good ", reactStep{final: true, answer: "all good"}, false},
		{"both", "Action: GenDB\nAction Input: x\nFinal Answer: y", reactStep{}, true},
		{"no action input", "Action: GenDB", reactStep{}, true},
		{"nothing", "just prose", reactStep{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseReActStep(tt.out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("step = %+v, want %+v", got, tt.want)
			}
		})
	}
}
