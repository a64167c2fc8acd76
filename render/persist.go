package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/brunobiangulo/brdiagram/diagram"
)

// Persister writes each artifact's markup to <kind>.mmd and then attempts
// <kind>.svg and <kind>.pdf. Files are overwritten on every run.
type Persister struct {
	renderer  Renderer
	converter Converter
}

// NewPersister creates a Persister. A nil renderer records every image step
// as unavailable; a nil converter skips PDF conversion.
func NewPersister(renderer Renderer, converter Converter) *Persister {
	return &Persister{renderer: renderer, converter: converter}
}

// PersistAndRender processes the artifacts in order and returns updated
// copies. Failures are recorded on the artifact and never stop the next
// one. Files of kinds that produced no markup are removed so that a
// directory never mixes outputs from different runs. The error is non-nil
// only when dir cannot be created.
func (p *Persister) PersistAndRender(ctx context.Context, artifacts []diagram.Artifact, dir string) ([]diagram.Artifact, error) {
	out := make([]diagram.Artifact, len(artifacts))
	copy(out, artifacts)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return out, fmt.Errorf("creating output directory: %w", err)
	}

	for i := range out {
		a := &out[i]
		paths := outputPaths(dir, a.Kind)

		if !a.OK() {
			removeStale(paths.markup, paths.image, paths.document)
			continue
		}

		if err := os.WriteFile(paths.markup, []byte(a.Markup), 0o644); err != nil {
			a.WriteErr = err.Error()
			slog.Warn("render: writing markup failed", "kind", a.Kind, "error", err)
			removeStale(paths.image, paths.document)
			continue
		}
		a.MarkupPath = paths.markup

		if err := ctx.Err(); err != nil {
			a.RenderErr = err.Error()
			removeStale(paths.image, paths.document)
			continue
		}

		svg, err := p.render(ctx, a.Markup)
		if err != nil {
			a.RenderErr = err.Error()
			slog.Warn("render: svg failed", "kind", a.Kind, "error", err)
			removeStale(paths.image, paths.document)
			continue
		}
		if err := os.WriteFile(paths.image, svg, 0o644); err != nil {
			a.RenderErr = err.Error()
			removeStale(paths.image, paths.document)
			continue
		}
		a.ImagePath = paths.image

		if p.converter == nil {
			removeStale(paths.document)
			continue
		}

		pdf, err := p.converter.Convert(ctx, svg)
		if err != nil {
			a.ConvertErr = err.Error()
			slog.Warn("render: pdf conversion failed", "kind", a.Kind, "error", err)
			removeStale(paths.document)
			continue
		}
		if err := os.WriteFile(paths.document, pdf, 0o644); err != nil {
			a.ConvertErr = err.Error()
			removeStale(paths.document)
			continue
		}
		a.DocumentPath = paths.document

		slog.Debug("render: artifact complete", "kind", a.Kind, "dir", dir)
	}

	return out, nil
}

func (p *Persister) render(ctx context.Context, markup string) ([]byte, error) {
	if p.renderer == nil {
		return nil, ErrUnavailable
	}
	return p.renderer.Render(ctx, MermaidSource(markup))
}

type artifactPaths struct {
	markup, image, document string
}

func outputPaths(dir string, kind diagram.Kind) artifactPaths {
	base := filepath.Join(dir, string(kind))
	return artifactPaths{markup: base + ".mmd", image: base + ".svg", document: base + ".pdf"}
}

// FileNames lists every file name the persister may produce.
func FileNames() []string {
	var names []string
	for _, k := range diagram.Kinds {
		p := outputPaths("", k)
		names = append(names, p.markup, p.image, p.document)
	}
	return names
}

func removeStale(paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Debug("render: removing stale file failed", "path", path, "error", err)
		}
	}
}
