package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brunobiangulo/brdiagram/diagram"
)

type fakeRenderer struct {
	fail    map[string]bool
	sources []string
}

func (f *fakeRenderer) Render(_ context.Context, markup string) ([]byte, error) {
	f.sources = append(f.sources, markup)
	if f.fail[markup] {
		return nil, errors.New("parse error on line 1")
	}
	return []byte("<svg>" + markup + "</svg>"), nil
}

type fakeConverter struct{ err error }

func (f *fakeConverter) Convert(_ context.Context, svg []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("%PDF-"), svg...), nil
}

func sampleArtifacts() []diagram.Artifact {
	return []diagram.Artifact{
		{Kind: diagram.KindDFD, Markup: "flowchart TD\n  A --> B"},
		{Kind: diagram.KindLogic, Markup: "graph TD\n  Start --> IsExternal{External?}"},
		{Kind: diagram.KindERD, Markup: "erDiagram\n  USER ||--o{ ISSUE : raises"},
	}
}

func TestMermaidSource(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"flowchart TD\n A-->B\n", "flowchart TD\n A-->B"},
		{"Here it is:\n```mermaid\nflowchart TD\n A-->B\n```\nEnjoy", "flowchart TD\n A-->B"},
		{"```\nerDiagram\n```", "erDiagram"},
	}
	for _, tt := range tests {
		if got := MermaidSource(tt.in); got != tt.want {
			t.Errorf("MermaidSource(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPersistAndRenderAllSteps(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	p := NewPersister(&fakeRenderer{}, &fakeConverter{})

	out, err := p.PersistAndRender(context.Background(), sampleArtifacts(), dir)
	if err != nil {
		t.Fatalf("PersistAndRender: %v", err)
	}

	for _, a := range out {
		for _, path := range []string{a.MarkupPath, a.ImagePath, a.DocumentPath} {
			if path == "" {
				t.Errorf("%s: missing path in %+v", a.Kind, a)
				continue
			}
			if _, err := os.Stat(path); err != nil {
				t.Errorf("%s: %v", a.Kind, err)
			}
		}
		if filepath.Base(a.MarkupPath) != string(a.Kind)+".mmd" {
			t.Errorf("unexpected markup file name %s", a.MarkupPath)
		}
	}
}

func TestPersistIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	p := NewPersister(nil, nil)

	read := func() map[string][]byte {
		m := make(map[string][]byte)
		for _, k := range diagram.Kinds {
			b, err := os.ReadFile(filepath.Join(dir, string(k)+".mmd"))
			if err != nil {
				t.Fatalf("reading %s: %v", k, err)
			}
			m[string(k)] = b
		}
		return m
	}

	if _, err := p.PersistAndRender(context.Background(), sampleArtifacts(), dir); err != nil {
		t.Fatal(err)
	}
	first := read()
	if _, err := p.PersistAndRender(context.Background(), sampleArtifacts(), dir); err != nil {
		t.Fatal(err)
	}
	second := read()

	for k := range first {
		if !bytes.Equal(first[k], second[k]) {
			t.Errorf("%s.mmd differs between runs", k)
		}
	}
}

func TestPersistRenderFailureContinues(t *testing.T) {
	dir := t.TempDir()
	arts := sampleArtifacts()
	r := &fakeRenderer{fail: map[string]bool{arts[1].Markup: true}}
	p := NewPersister(r, &fakeConverter{})

	out, err := p.PersistAndRender(context.Background(), arts, dir)
	if err != nil {
		t.Fatal(err)
	}

	logic := out[1]
	if logic.MarkupPath == "" || logic.ImagePath != "" || logic.DocumentPath != "" {
		t.Errorf("logic artifact should keep only markup: %+v", logic)
	}
	if !strings.Contains(logic.RenderErr, "parse error") {
		t.Errorf("RenderErr = %q", logic.RenderErr)
	}
	if out[2].ImagePath == "" {
		t.Error("erd should still be rendered after logic failed")
	}
	if len(r.sources) != 3 {
		t.Errorf("renderer calls = %d, want 3", len(r.sources))
	}
}

func TestPersistVerbatimProseMarkup(t *testing.T) {
	dir := t.TempDir()
	markup := "Sure! Here is the diagram:\n```mermaid\nflowchart TD\n  A --> B\n```"
	r := &fakeRenderer{}
	p := NewPersister(r, nil)

	out, err := p.PersistAndRender(context.Background(),
		[]diagram.Artifact{{Kind: diagram.KindDFD, Markup: markup}}, dir)
	if err != nil {
		t.Fatal(err)
	}

	got, _ := os.ReadFile(out[0].MarkupPath)
	if string(got) != markup {
		t.Errorf(".mmd should hold the reply verbatim, got %q", got)
	}
	if r.sources[0] != "flowchart TD\n  A --> B" {
		t.Errorf("renderer received %q", r.sources[0])
	}
	if out[0].DocumentPath != "" || out[0].ConvertErr != "" {
		t.Errorf("conversion should be skipped without a converter: %+v", out[0])
	}
}

func TestPersistNoRenderer(t *testing.T) {
	out, err := NewPersister(nil, &fakeConverter{}).PersistAndRender(context.Background(), sampleArtifacts(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range out {
		if a.MarkupPath == "" || a.RenderErr != ErrUnavailable.Error() {
			t.Errorf("%s: %+v", a.Kind, a)
		}
	}
}

func TestPersistConvertFailure(t *testing.T) {
	out, err := NewPersister(&fakeRenderer{}, &fakeConverter{err: errors.New("no chrome")}).
		PersistAndRender(context.Background(), sampleArtifacts()[:1], t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if out[0].ImagePath == "" || out[0].DocumentPath != "" || out[0].ConvertErr != "no chrome" {
		t.Errorf("unexpected artifact: %+v", out[0])
	}
}

func TestPersistRemovesStaleFiles(t *testing.T) {
	dir := t.TempDir()
	p := NewPersister(&fakeRenderer{}, &fakeConverter{})

	if _, err := p.PersistAndRender(context.Background(), sampleArtifacts(), dir); err != nil {
		t.Fatal(err)
	}

	arts := sampleArtifacts()
	arts[1] = diagram.Artifact{Kind: diagram.KindLogic, Err: "generation failed"}
	out, err := p.PersistAndRender(context.Background(), arts, dir)
	if err != nil {
		t.Fatal(err)
	}

	for _, ext := range []string{".mmd", ".svg", ".pdf"} {
		if _, err := os.Stat(filepath.Join(dir, "logic"+ext)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("stale logic%s should be removed", ext)
		}
	}
	if out[1].MarkupPath != "" {
		t.Errorf("failed artifact should have no paths: %+v", out[1])
	}
	if out[0].DocumentPath == "" || out[2].DocumentPath == "" {
		t.Error("other artifacts should be complete")
	}
}

func TestFileNames(t *testing.T) {
	names := FileNames()
	if len(names) != 9 || names[0] != "dfd.mmd" || names[8] != "erd.pdf" {
		t.Errorf("FileNames() = %v", names)
	}
}

func TestInkRenderer(t *testing.T) {
	markup := "flowchart TD\n  A --> B"
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if strings.HasSuffix(r.URL.Path, base64.URLEncoding.EncodeToString([]byte("bad"))) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("syntax error"))
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write([]byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`))
	}))
	defer srv.Close()

	r := NewInkRenderer(srv.URL+"/", time.Second)

	svg, err := r.Render(context.Background(), markup)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !bytes.HasPrefix(svg, []byte("<svg")) {
		t.Errorf("unexpected body %q", svg)
	}
	if want := "/svg/" + base64.URLEncoding.EncodeToString([]byte(markup)); gotPath != want {
		t.Errorf("path = %q, want %q", gotPath, want)
	}

	if _, err := r.Render(context.Background(), "bad"); err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Errorf("expected status error, got %v", err)
	}
	if _, err := r.Render(context.Background(), "  "); err == nil {
		t.Error("expected error for empty markup")
	}
}
