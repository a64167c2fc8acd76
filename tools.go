package brdiagram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/brunobiangulo/brdiagram/agent"
	"github.com/brunobiangulo/brdiagram/diagram"
	"github.com/brunobiangulo/brdiagram/facts"
)

const parseToolDescription = "Extract processes, flows, rules, entities from BRD text. Input: BRD text string."

var genToolDescriptions = map[diagram.Kind]string{
	diagram.KindDFD:   "Create DFD Mermaid code. Input: Extracted JSON from ParseBRD.",
	diagram.KindLogic: "Create Logic Flowchart Mermaid code. Input: Extracted JSON from ParseBRD.",
	diagram.KindERD:   "Create DB ERD Mermaid code. Input: Extracted JSON from ParseBRD.",
}

// buildTools wraps the extractor and synthesizers as agent tools. When a
// run collector is present in the context, tool outputs are captured so the
// run can persist them.
func (p *pipeline) buildTools() []agent.Tool {
	tools := []agent.Tool{{
		Name:        "ParseBRD",
		Description: parseToolDescription,
		Run: func(ctx context.Context, input string) (string, error) {
			if strings.TrimSpace(input) == "" {
				return "", fmt.Errorf("BRD text is empty")
			}
			f, err := p.extractor.Extract(ctx, input)
			if err != nil {
				return "", err
			}
			if col := collectorFrom(ctx); col != nil {
				col.setFacts(f)
			}
			return f.Raw, nil
		},
	}}

	for _, kind := range diagram.Kinds {
		tools = append(tools, agent.Tool{
			Name:        kind.ToolName(),
			Description: genToolDescriptions[kind],
			Run: func(ctx context.Context, input string) (string, error) {
				markup, err := p.synth.Synthesize(ctx, kind, input)
				if err == nil && strings.TrimSpace(markup) == "" {
					err = fmt.Errorf("%s synthesis returned an empty response", kind)
				}
				col := collectorFrom(ctx)
				if err != nil {
					if col != nil {
						col.setError(kind, fmt.Errorf("%w: %v", ErrGenerationFailed, err))
					}
					return "", err
				}
				if col != nil {
					col.setMarkup(kind, markup)
				}
				return markup, nil
			},
		})
	}
	return tools
}

type collectorKey struct{}

// collector records what one agent run's tool calls produced. The latest
// successful output per kind wins; an error is kept only while no output
// exists.
type collector struct {
	mu     sync.Mutex
	f      *facts.Facts
	markup map[diagram.Kind]string
	errs   map[diagram.Kind]string
}

func newCollector() *collector {
	return &collector{
		markup: make(map[diagram.Kind]string),
		errs:   make(map[diagram.Kind]string),
	}
}

func withCollector(ctx context.Context, c *collector) context.Context {
	return context.WithValue(ctx, collectorKey{}, c)
}

func collectorFrom(ctx context.Context) *collector {
	c, _ := ctx.Value(collectorKey{}).(*collector)
	return c
}

func (c *collector) setFacts(f *facts.Facts) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.f = f
}

func (c *collector) setMarkup(kind diagram.Kind, markup string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markup[kind] = markup
	delete(c.errs, kind)
}

func (c *collector) setError(kind diagram.Kind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.markup[kind]; !ok {
		c.errs[kind] = err.Error()
	}
}

func (c *collector) facts() *facts.Facts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.f
}

// artifacts returns one artifact per kind in output order. Kinds the agent
// never generated carry an error.
func (c *collector) artifacts() []Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Artifact, len(diagram.Kinds))
	for i, k := range diagram.Kinds {
		out[i] = Artifact{Kind: k}
		switch {
		case c.markup[k] != "":
			out[i].Markup = c.markup[k]
		case c.errs[k] != "":
			out[i].Err = c.errs[k]
		default:
			out[i].Err = fmt.Sprintf("%s: agent did not call %s", ErrGenerationFailed, k.ToolName())
		}
	}
	return out
}
