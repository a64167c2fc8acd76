package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/brunobiangulo/brdiagram/llm"
)

const reactTemplate = `%s

You have access to the following tools:

%s

Use the following format:

Question: the input question you must answer
Thought: you should always think about what to do
Action: the action to take, should be one of [%s]
Action Input: the input to the action
Observation: the result of the action
... (this Thought/Action/Action Input/Observation can repeat N times)
Thought: I now know the final answer
Final Answer: the final answer to the original input question

Begin!

Question: %s
Thought:`

const finalAnswerMarker = "Final Answer:"

var (
	actionRe     = regexp.MustCompile(`(?s)Action\s*\d*\s*:[\s]*(.*?)[\s]*Action\s*\d*\s*Input\s*\d*\s*:[\s]*(.*)`)
	actionOnlyRe = regexp.MustCompile(`Action\s*\d*\s*:`)
)

// reAct drives the conversation with the plain-text
// Thought/Action/Action Input/Observation protocol. It needs only Chat.
type reAct struct {
	chat llm.Provider
	deps Deps
}

func newReAct(d Deps) (Strategy, error) {
	d = d.withDefaults()
	if err := requireCommon("react", d); err != nil {
		return nil, err
	}
	return &reAct{chat: d.Provider, deps: d}, nil
}

func (r *reAct) Name() string { return "react" }

func (r *reAct) prompt(text string) string {
	var descs strings.Builder
	for i, t := range r.deps.Tools {
		if i > 0 {
			descs.WriteString("\n")
		}
		fmt.Fprintf(&descs, "%s: %s", t.Name, t.Description)
	}
	return fmt.Sprintf(reactTemplate, r.deps.SystemPrompt, descs.String(),
		strings.Join(r.deps.toolNames(), ", "), userInput(text))
}

func (r *reAct) Run(ctx context.Context, text string) (string, error) {
	base := r.prompt(text)
	var scratchpad strings.Builder

	failures := 0
	for turn := 1; turn <= r.deps.MaxTurns; turn++ {
		resp, err := r.chat.Chat(ctx, llm.ChatRequest{
			Model:       r.deps.Model,
			Messages:    []llm.Message{{Role: "user", Content: base + scratchpad.String()}},
			Temperature: r.deps.Temperature,
			Stop:        []string{"\nObservation:"},
		})
		if err != nil {
			return "", fmt.Errorf("agent turn %d: %w", turn, err)
		}

		step, perr := parseReActStep(resp.Content)
		if perr != nil {
			failures++
			slog.Warn("agent: unparseable turn", "strategy", r.Name(), "turn", turn,
				"consecutive", failures, "error", perr)
			if failures >= r.deps.MaxParseFailures {
				return "", ErrParseFailures
			}
			appendStep(&scratchpad, resp.Content, "Invalid Format: "+perr.Error())
			continue
		}

		if step.final {
			slog.Debug("agent: final answer", "strategy", r.Name(), "turn", turn)
			return step.answer, nil
		}

		tool, ok := r.deps.tool(step.action)
		if !ok {
			failures++
			if failures >= r.deps.MaxParseFailures {
				return "", ErrParseFailures
			}
			appendStep(&scratchpad, resp.Content, unknownToolObservation(step.action, r.deps))
			continue
		}
		failures = 0

		slog.Debug("agent: tool call", "tool", tool.Name, "input_chars", len(step.input))
		obs, terr := tool.Run(ctx, step.input)
		if terr != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			obs = fmt.Sprintf("Error: %v", terr)
		}
		appendStep(&scratchpad, resp.Content, obs)
	}
	return "", ErrTurnLimit
}

func appendStep(b *strings.Builder, output, observation string) {
	b.WriteString(strings.TrimRight(output, " \n"))
	b.WriteString("\nObservation: ")
	b.WriteString(observation)
	b.WriteString("\nThought:")
}

type reactStep struct {
	final  bool
	answer string
	action string
	input  string
}

// parseReActStep interprets one model turn. A turn must carry either an
// action with its input or a final answer, not both.
func parseReActStep(out string) (reactStep, error) {
	m := actionRe.FindStringSubmatch(out)
	finalAt := strings.Index(out, finalAnswerMarker)

	switch {
	case m != nil && finalAt >= 0:
		return reactStep{}, fmt.Errorf("both a final answer and a parse-able action were returned")
	case finalAt >= 0:
		return reactStep{final: true, answer: strings.TrimSpace(out[finalAt+len(finalAnswerMarker):])}, nil
	case m != nil:
		input := strings.TrimSpace(m[2])
		input = strings.Trim(input, "\"")
		return reactStep{action: strings.TrimSpace(m[1]), input: input}, nil
	}

	if !actionOnlyRe.MatchString(out) {
		return reactStep{}, fmt.Errorf("missing 'Action:' after 'Thought:'")
	}
	return reactStep{}, fmt.Errorf("missing 'Action Input:' after 'Action:'")
}
