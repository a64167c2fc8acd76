package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultInkBaseURL is the public mermaid.ink service.
const DefaultInkBaseURL = "https://mermaid.ink"

const maxSVGBytes = 10 << 20

// InkRenderer renders markup through a mermaid.ink compatible HTTP service.
type InkRenderer struct {
	baseURL string
	client  *http.Client
}

// NewInkRenderer creates an InkRenderer. An empty baseURL selects the
// public service.
func NewInkRenderer(baseURL string, timeout time.Duration) *InkRenderer {
	if baseURL == "" {
		baseURL = DefaultInkBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &InkRenderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *InkRenderer) Render(ctx context.Context, markup string) ([]byte, error) {
	if strings.TrimSpace(markup) == "" {
		return nil, fmt.Errorf("empty markup")
	}

	encoded := base64.URLEncoding.EncodeToString([]byte(markup))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/svg/"+encoded, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rendering request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSVGBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("renderer returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if !bytes.Contains(body, []byte("<svg")) {
		return nil, fmt.Errorf("renderer response is not an SVG image")
	}
	return body, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
