package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/brdiagram/llm"
)

var toolParameters = json.RawMessage(`{"type":"object","properties":{"input":{"type":"string","description":"Tool input text"}},"required":["input"]}`)

// functionCalling drives the conversation through the provider's native
// tool-calling API.
type functionCalling struct {
	chat llm.ToolCaller
	deps Deps
	defs []llm.ToolDefinition
}

func newFunctionCalling(d Deps) (Strategy, error) {
	const name = "function-calling"
	d = d.withDefaults()
	if err := requireCommon(name, d); err != nil {
		return nil, err
	}
	tc, ok := d.Provider.(llm.ToolCaller)
	if !ok {
		return nil, &UnavailableError{Strategy: name, Reason: "provider does not support tool calls"}
	}

	defs := make([]llm.ToolDefinition, len(d.Tools))
	for i, t := range d.Tools {
		defs[i] = llm.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: toolParameters}
	}
	return &functionCalling{chat: tc, deps: d, defs: defs}, nil
}

func (f *functionCalling) Name() string { return "function-calling" }

func (f *functionCalling) Run(ctx context.Context, text string) (string, error) {
	messages := []llm.Message{
		{Role: "system", Content: f.deps.SystemPrompt},
		{Role: "user", Content: userInput(text)},
	}

	failures := 0
	for turn := 1; turn <= f.deps.MaxTurns; turn++ {
		resp, err := f.chat.ChatWithTools(ctx, llm.ToolChatRequest{
			Model:       f.deps.Model,
			Messages:    messages,
			Tools:       f.defs,
			Temperature: f.deps.Temperature,
		})
		if err != nil {
			return "", fmt.Errorf("agent turn %d: %w", turn, err)
		}

		msg := resp.Message
		msg.Role = "assistant"

		if len(msg.ToolCalls) == 0 {
			if strings.TrimSpace(msg.Content) != "" {
				slog.Debug("agent: final answer", "strategy", f.Name(), "turn", turn)
				return msg.Content, nil
			}
			failures++
			slog.Warn("agent: empty turn", "strategy", f.Name(), "turn", turn, "consecutive", failures)
			if failures >= f.deps.MaxParseFailures {
				return "", ErrParseFailures
			}
			messages = append(messages, msg, llm.Message{
				Role:    "user",
				Content: "Reply with a tool call or with your final answer.",
			})
			continue
		}

		messages = append(messages, msg)

		malformed := false
		for _, call := range msg.ToolCalls {
			obs, ok, err := f.invoke(ctx, call)
			if err != nil {
				return "", err
			}
			if !ok {
				malformed = true
			}
			messages = append(messages, llm.Message{Role: "tool", Content: obs, ToolCallID: call.ID})
		}

		if malformed {
			failures++
			slog.Warn("agent: malformed tool call", "strategy", f.Name(), "turn", turn, "consecutive", failures)
			if failures >= f.deps.MaxParseFailures {
				return "", ErrParseFailures
			}
		} else {
			failures = 0
		}
	}
	return "", ErrTurnLimit
}

// invoke runs one tool call. ok is false when the call itself could not be
// interpreted; tool failures are reported to the model as observations.
// Only context errors are returned.
func (f *functionCalling) invoke(ctx context.Context, call llm.ToolCall) (obs string, ok bool, err error) {
	tool, found := f.deps.tool(call.Function.Name)
	if !found {
		return unknownToolObservation(call.Function.Name, f.deps), false, nil
	}

	input, perr := decodeArguments(call.Function.Arguments)
	if perr != nil {
		return fmt.Sprintf("Invalid arguments for %s: %v. Pass a JSON object with a string field \"input\".", tool.Name, perr), false, nil
	}

	slog.Debug("agent: tool call", "tool", tool.Name, "input_chars", len(input))
	out, terr := tool.Run(ctx, input)
	if terr != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return fmt.Sprintf("Error: %v", terr), true, nil
	}
	return out, true, nil
}

// decodeArguments accepts {"input": "..."} or a bare JSON string.
func decodeArguments(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty arguments")
	}

	var args struct {
		Input *string `json:"input"`
	}
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		if args.Input == nil {
			return "", fmt.Errorf("missing field \"input\"")
		}
		return *args.Input, nil
	}

	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s, nil
	}
	return "", fmt.Errorf("arguments are not valid JSON")
}
