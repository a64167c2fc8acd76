package brdiagram

import "errors"

var (
	// ErrInputAbsent is returned when there is no BRD text to process. No
	// LLM call is made.
	ErrInputAbsent = errors.New("brdiagram: no input text")

	// ErrIngestionFailed is recorded when an uploaded or referenced document
	// cannot be decoded. The input is then treated as absent.
	ErrIngestionFailed = errors.New("brdiagram: document ingestion failed")

	// ErrGenerationFailed is recorded when fact extraction or a diagram
	// synthesis call fails.
	ErrGenerationFailed = errors.New("brdiagram: generation failed")

	// ErrRenderFailed is recorded when an image or document step fails. The
	// markup file is still written.
	ErrRenderFailed = errors.New("brdiagram: render failed")

	// ErrMissingCredential is returned by New when the configured provider
	// needs an API key and none is set.
	ErrMissingCredential = errors.New("brdiagram: missing LLM credential")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("brdiagram: invalid configuration")

	// ErrClosed is returned when running a closed pipeline.
	ErrClosed = errors.New("brdiagram: pipeline is closed")
)
