package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/brunobiangulo/brdiagram"
	"github.com/brunobiangulo/brdiagram/render"
	"github.com/brunobiangulo/brdiagram/store"
)

const maxUploadBytes = 32 << 20

type handler struct {
	pipeline brdiagram.Pipeline

	// Runs share one output directory, so they are serialized.
	runMu sync.Mutex
}

func newHandler(p brdiagram.Pipeline) *handler {
	return &handler{pipeline: p}
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /runs", h.handleRun)
	mux.HandleFunc("GET /runs", h.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", h.handleGetRun)
	mux.HandleFunc("GET /files/{name}", h.handleFile)
	mux.HandleFunc("GET /health", h.handleHealth)
	return mux
}

// POST /runs
// Accepts a multipart upload in field "file" or JSON {"text": "..."}.
// The response carries the run ID in X-Run-ID.
func (h *handler) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	in, status, msg := readRunInput(r)
	if status != 0 {
		writeError(w, status, msg)
		return
	}

	res, err := h.run(ctx, in)
	if res != nil && res.RunID != "" {
		w.Header().Set(runIDHeader, res.RunID)
	}

	switch {
	case errors.Is(err, brdiagram.ErrInputAbsent):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  err.Error(),
			"result": res,
		})
		return
	case err != nil:
		slog.Error("run error", "error", err)
		writeError(w, http.StatusInternalServerError, "run failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// readRunInput decodes the request body. A non-zero status means the
// request is rejected with msg.
func readRunInput(r *http.Request) (brdiagram.Input, int, string) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return brdiagram.Input{}, bodyErrorStatus(err), "invalid multipart upload"
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return brdiagram.Input{}, http.StatusBadRequest, "multipart request needs a 'file' field"
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return brdiagram.Input{}, http.StatusBadRequest, "failed to read upload"
		}
		// Sanitise filename to prevent path traversal.
		return brdiagram.Input{Filename: filepath.Base(header.Filename), Data: data}, 0, ""
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return brdiagram.Input{}, bodyErrorStatus(err), "invalid request: expected multipart file or JSON with 'text'"
	}
	return brdiagram.Input{Text: req.Text}, 0, ""
}

func bodyErrorStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (h *handler) run(ctx context.Context, in brdiagram.Input) (*brdiagram.Result, error) {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	return h.pipeline.Run(ctx, in)
}

// GET /runs?limit=N
func (h *handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	hist := h.pipeline.History()
	if hist == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := hist.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("list runs error", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GET /runs/{id}
func (h *handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	hist := h.pipeline.History()
	if hist == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	run, err := hist.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		slog.Error("get run error", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GET /files/{name}
// Serves only the files a run writes, such as dfd.svg.
func (h *handler) handleFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !slices.Contains(render.FileNames(), name) {
		writeError(w, http.StatusNotFound, "unknown file")
		return
	}
	http.ServeFile(w, r, filepath.Join(h.pipeline.OutputDir(), name))
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"strategy": h.pipeline.Strategy(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
