package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/brdiagram"
	"github.com/brunobiangulo/brdiagram/logging"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP",
	Long: `Starts an HTTP server:

  POST /runs          multipart field "file" or JSON {"text": "..."}
  GET  /runs          recent runs (needs history enabled)
  GET  /runs/{id}     one run from history
  GET  /files/{name}  a generated file such as dfd.svg
  GET  /health

BRDIAGRAM_SERVER_API_KEY enables bearer authentication and
BRDIAGRAM_CORS_ORIGINS sets the allowed CORS origins.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
}

// buildHandler wraps the routes, outermost first:
// recover -> request log -> cors -> auth -> body limit -> mux.
func buildHandler(p brdiagram.Pipeline, apiKey, corsOrigins string) http.Handler {
	var handler http.Handler = newHandler(p).routes()
	handler = limitRunBody(maxUploadBytes, handler)
	handler = requireBearer(apiKey, handler)
	handler = allowOrigins(corsOrigins, handler)
	handler = requestLog(handler)
	handler = recoverRun(handler)
	return handler
}

func runServe(cmd *cobra.Command, _ []string) error {
	// The server logs JSON at info unless told otherwise.
	level, format := parsedLevel, logFormat
	if !cmd.Flag("log-level").Changed {
		level = slog.LevelInfo
	}
	if !cmd.Flag("log-format").Changed {
		format = "json"
	}
	logging.Init(level, format)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := brdiagram.New(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	srv := &http.Server{
		Addr:         serveAddr,
		Handler:      buildHandler(p, os.Getenv("BRDIAGRAM_SERVER_API_KEY"), os.Getenv("BRDIAGRAM_CORS_ORIGINS")),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // runs can take minutes
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", serveAddr, "strategy", p.Strategy())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
