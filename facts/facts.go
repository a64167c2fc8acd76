// Package facts extracts processes, data flows, rules and entities from
// BRD text with a single templated LLM call.
package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/brunobiangulo/brdiagram/llm"
)

// extractionPrompt asks for the four fact categories as JSON. The only
// parameter is the BRD text.
const extractionPrompt = `You are a requirements analyst. Extract key elements from this BRD text for diagrams:
- PROCESSES: Main steps or actions (e.g., "Submit Issue").
- DATA_FLOWS: How data moves (e.g., "User -> System").
- RULES: Business logic/decisions (e.g., "If external, allocate to admin").
- ENTITIES: Data objects/tables (e.g., "User", "Issue").

BRD: %s

Respond in JSON only, like:
{
  "processes": ["Process1", "Process2"],
  "data_flows": ["Flow1: A -> B", "Flow2: C -> D"],
  "rules": ["Rule1: If X then Y", "Rule2: Else Z"],
  "entities": ["Entity1", "Entity2"]
}
`

const repairPrompt = `Your previous reply could not be used: %s.
Respond again with a single JSON object only, with the keys "processes", "data_flows", "rules" and "entities", each a list of strings. No prose and no code fences.`

// Record is the typed view of an extraction response.
type Record struct {
	Processes []string `json:"processes"`
	DataFlows []string `json:"data_flows"`
	Rules     []string `json:"rules"`
	Entities  []string `json:"entities"`
}

// Empty reports whether every category is empty.
func (r Record) Empty() bool {
	return len(r.Processes) == 0 && len(r.DataFlows) == 0 && len(r.Rules) == 0 && len(r.Entities) == 0
}

// Facts is the outcome of one extraction. Raw is the model response and is
// what synthesizers receive, whether or not it validated.
type Facts struct {
	Raw          string `json:"raw"`
	Record       Record `json:"record"`
	Unstructured bool   `json:"unstructured"` // validation failed after the repair attempt
	ParseError   string `json:"parse_error,omitempty"`
	Attempts     int    `json:"attempts"`
}

// Config controls the extraction call.
type Config struct {
	Model       string
	Temperature float64
	Validate    bool
}

// Extractor runs the fact extraction call.
type Extractor struct {
	chat llm.Provider
	cfg  Config
}

// New creates an Extractor.
func New(chat llm.Provider, cfg Config) *Extractor {
	return &Extractor{chat: chat, cfg: cfg}
}

// Prompt returns the extraction instruction for text.
func Prompt(text string) string {
	return fmt.Sprintf(extractionPrompt, text)
}

// Extract sends text to the model and returns the response. With validation
// enabled, an unparseable response is re-prompted once with the parse error;
// if that also fails the facts are marked Unstructured and the last response
// is kept as Raw.
func (e *Extractor) Extract(ctx context.Context, text string) (*Facts, error) {
	messages := []llm.Message{{Role: "user", Content: Prompt(text)}}

	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Model:       e.cfg.Model,
		Messages:    messages,
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction llm chat: %w", err)
	}

	f := &Facts{Raw: resp.Content, Attempts: 1}
	if !e.cfg.Validate {
		if rec, err := Parse(resp.Content); err == nil {
			f.Record = rec
		}
		return f, nil
	}

	rec, perr := Parse(resp.Content)
	if perr == nil {
		f.Record = rec
		return f, nil
	}

	slog.Warn("facts: response failed validation, retrying", "error", perr)

	messages = append(messages,
		llm.Message{Role: "assistant", Content: resp.Content},
		llm.Message{Role: "user", Content: fmt.Sprintf(repairPrompt, perr)},
	)
	retry, err := e.chat.Chat(ctx, llm.ChatRequest{
		Model:       e.cfg.Model,
		Messages:    messages,
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("facts: repair call failed", "error", err)
		f.Unstructured = true
		f.ParseError = perr.Error()
		return f, nil
	}

	f.Attempts = 2
	f.Raw = retry.Content
	rec, perr = Parse(retry.Content)
	if perr != nil {
		slog.Warn("facts: continuing with unstructured facts", "error", perr)
		f.Unstructured = true
		f.ParseError = perr.Error()
		return f, nil
	}

	f.Record = rec
	return f, nil
}

// Parse validates an extraction response. It tolerates code fences and
// surrounding prose, and stringifies non-string list items. At least one
// category must be non-empty.
func Parse(raw string) (Record, error) {
	jsonStr, err := extractJSON(raw)
	if err != nil {
		return Record{}, err
	}

	var wire struct {
		Processes flexList `json:"processes"`
		DataFlows flexList `json:"data_flows"`
		Rules     flexList `json:"rules"`
		Entities  flexList `json:"entities"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &wire); err != nil {
		return Record{}, fmt.Errorf("invalid JSON: %v", err)
	}

	rec := Record{
		Processes: wire.Processes,
		DataFlows: wire.DataFlows,
		Rules:     wire.Rules,
		Entities:  wire.Entities,
	}
	if rec.Empty() {
		return Record{}, fmt.Errorf("no processes, data_flows, rules or entities found")
	}
	return rec, nil
}

var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON pulls the JSON object out of a model response.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}

	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}

	return "", fmt.Errorf("no JSON object found in response")
}

// flexList decodes a JSON list whose items may be strings or any other
// JSON value. Non-string items are kept as raw JSON text.
type flexList []string

func (l *flexList) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		out = append(out, string(item))
	}
	*l = out
	return nil
}
