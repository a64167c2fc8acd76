package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/brdiagram"
	"github.com/brunobiangulo/brdiagram/agent"
	"github.com/brunobiangulo/brdiagram/diagram"
	"github.com/brunobiangulo/brdiagram/store"
)

type fakePipeline struct {
	outputDir string
	history   *store.Store
	inputs    []brdiagram.Input
	panics    bool
}

func (f *fakePipeline) Run(_ context.Context, in brdiagram.Input) (*brdiagram.Result, error) {
	if f.panics {
		panic("boom")
	}
	f.inputs = append(f.inputs, in)
	if strings.TrimSpace(in.Text) == "" && in.Data == nil {
		return &brdiagram.Result{Status: brdiagram.StatusFailed}, brdiagram.ErrInputAbsent
	}
	return &brdiagram.Result{
		RunID:    "01TEST",
		Strategy: "direct",
		Status:   brdiagram.StatusComplete,
		Artifacts: []brdiagram.Artifact{
			{Kind: diagram.KindDFD, Markup: "graph TD"},
			{Kind: diagram.KindLogic, Markup: "flowchart TD"},
			{Kind: diagram.KindERD, Markup: "erDiagram"},
		},
	}, nil
}

func (f *fakePipeline) Strategy() string { return "direct" }
func (f *fakePipeline) Tools() []agent.Tool { return nil }
func (f *fakePipeline) History() *store.Store { return f.history }
func (f *fakePipeline) OutputDir() string { return f.outputDir }
func (f *fakePipeline) Close() error { return nil }

func TestHandleRunJSON(t *testing.T) {
	p := &fakePipeline{}
	srv := httptest.NewServer(buildHandler(p, "", ""))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/runs", "application/json", strings.NewReader(`{"text": "Users submit issues."}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var res brdiagram.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.RunID != "01TEST" || len(res.Artifacts) != 3 {
		t.Errorf("result = %+v", res)
	}
	if len(p.inputs) != 1 || p.inputs[0].Text != "Users submit issues." {
		t.Errorf("inputs = %+v", p.inputs)
	}
}

func TestHandleRunMultipart(t *testing.T) {
	p := &fakePipeline{}
	srv := httptest.NewServer(buildHandler(p, "", ""))
	defer srv.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "../../etc/brd.txt")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, "Users submit issues.")
	mw.Close()

	resp, err := http.Post(srv.URL+"/runs", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(p.inputs) != 1 {
		t.Fatalf("inputs = %+v", p.inputs)
	}
	if p.inputs[0].Filename != "brd.txt" || string(p.inputs[0].Data) != "Users submit issues." {
		t.Errorf("input = %+v, want sanitized name and file data", p.inputs[0])
	}
}

func TestHandleRunErrors(t *testing.T) {
	srv := httptest.NewServer(buildHandler(&fakePipeline{}, "", ""))
	defer srv.Close()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{text`, http.StatusBadRequest},
		{"empty text", `{"text": "  "}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/runs", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHandleFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "dfd.mmd"), []byte("graph TD"), 0o644)
	os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("nope"), 0o644)

	srv := httptest.NewServer(buildHandler(&fakePipeline{outputDir: dir}, "", ""))
	defer srv.Close()

	tests := []struct {
		path string
		want int
		body string
	}{
		{"/files/dfd.mmd", http.StatusOK, "graph TD"},
		{"/files/erd.svg", http.StatusNotFound, ""},
		{"/files/secret.txt", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
		if tt.body != "" && string(data) != tt.body {
			t.Errorf("GET %s body = %q", tt.path, data)
		}
	}
}

func TestHandleRunsHistoryDisabled(t *testing.T) {
	srv := httptest.NewServer(buildHandler(&fakePipeline{}, "", ""))
	defer srv.Close()

	for _, path := range []string{"/runs", "/runs/01TEST"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestHealthAndAuth(t *testing.T) {
	srv := httptest.NewServer(buildHandler(&fakePipeline{}, "secret", ""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]string
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health["strategy"] != "direct" {
		t.Errorf("health = %d %v", resp.StatusCode, health)
	}

	resp, err = http.Post(srv.URL+"/runs", "application/json", strings.NewReader(`{"text": "x"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/runs", strings.NewReader(`{"text": "x"}`))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := httptest.NewServer(buildHandler(&fakePipeline{panics: true}, "", ""))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/runs", "application/json", strings.NewReader(`{"text": "x"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := httptest.NewServer(buildHandler(&fakePipeline{}, "", "https://app.example.com"))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/runs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestRunBodyLimit(t *testing.T) {
	p := &fakePipeline{}
	srv := httptest.NewServer(limitRunBody(16, newHandler(p).routes()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/runs", "application/json",
		strings.NewReader(`{"text": "Users submit issues via the portal."}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
	if len(p.inputs) != 0 {
		t.Errorf("pipeline ran on an oversized body: %+v", p.inputs)
	}
}

func TestRequestLogIncludesRunID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	srv := httptest.NewServer(buildHandler(&fakePipeline{}, "", ""))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/runs", "application/json", strings.NewReader(`{"text": "Users submit issues."}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(runIDHeader); got != "01TEST" {
		t.Errorf("%s = %q, want 01TEST", runIDHeader, got)
	}

	var entry map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var e map[string]any
		if json.Unmarshal([]byte(line), &e) == nil && e["msg"] == "http: request" {
			entry = e
		}
	}
	if entry == nil {
		t.Fatalf("no request log line in %q", buf.String())
	}
	if entry["run_id"] != "01TEST" || entry["path"] != "/runs" {
		t.Errorf("request log = %v", entry)
	}
}

func TestCORSMultipleOrigins(t *testing.T) {
	srv := httptest.NewServer(buildHandler(&fakePipeline{}, "", "https://a.example.com, https://b.example.com"))
	defer srv.Close()

	tests := []struct {
		origin string
		want   string
	}{
		{"https://b.example.com", "https://b.example.com"},
		{"https://evil.example.com", ""},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/runs", nil)
		req.Header.Set("Origin", tt.origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: allow origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}
