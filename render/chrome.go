package render

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// DefaultMermaidScriptURL is the mermaid.js build loaded into the headless
// browser.
const DefaultMermaidScriptURL = "https://cdn.jsdelivr.net/npm/mermaid@11/dist/mermaid.min.js"

const renderPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><script src="%s"></script></head>
<body><div id="diagram"></div></body></html>`

const renderScript = `(async () => {
  mermaid.initialize({startOnLoad: false, securityLevel: "strict"});
  const {svg} = await mermaid.render("brdiagram", %s);
  return svg;
})()`

const printPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><style>body{margin:0} svg{max-width:100%%;height:auto}</style></head>
<body>%s</body></html>`

// Chrome renders markup with mermaid.js and prints SVG to PDF in a
// headless Chrome. The browser starts on first use and is shared by
// all calls until Close. Each Render or Convert call is bounded by the
// configured timeout.
type Chrome struct {
	scriptURL string
	timeout   time.Duration

	mu            sync.Mutex
	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
}

// NewChrome creates a Chrome renderer. An empty scriptURL selects
// DefaultMermaidScriptURL and a non-positive timeout selects 30s.
func NewChrome(scriptURL string, timeout time.Duration) *Chrome {
	if scriptURL == "" {
		scriptURL = DefaultMermaidScriptURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Chrome{scriptURL: scriptURL, timeout: timeout}
}

func (c *Chrome) browser() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browserCtx != nil {
		return c.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Start the browser now so a missing binary fails here.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("starting headless chrome: %w", err)
	}

	slog.Debug("render: headless chrome started")
	c.browserCtx = browserCtx
	c.cancelAlloc = cancelAlloc
	c.cancelBrowser = cancelBrowser
	return browserCtx, nil
}

// tab opens a new tab that is closed when ctx is done or the returned
// cancel is called.
func (c *Chrome) tab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	browserCtx, err := c.browser()
	if err != nil {
		return nil, nil, err
	}
	tabCtx, cancel := chromedp.NewContext(browserCtx)
	stop := context.AfterFunc(ctx, cancel)
	return tabCtx, func() {
		stop()
		cancel()
	}, nil
}

// callErr maps a failed chromedp run to the caller's error. Running out of
// the per-call timeout is reported as such rather than as a bare
// "context canceled" from the tab.
func (c *Chrome) callErr(parent, ctx context.Context, op string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: timed out after %s: %w", op, c.timeout, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Render implements Renderer.
func (c *Chrome) Render(parent context.Context, markup string) ([]byte, error) {
	if strings.TrimSpace(markup) == "" {
		return nil, fmt.Errorf("empty markup")
	}

	ctx, cancelTimeout := context.WithTimeout(parent, c.timeout)
	defer cancelTimeout()

	tabCtx, cancel, err := c.tab(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	source, err := json.Marshal(markup)
	if err != nil {
		return nil, err
	}

	var svg string
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(dataURL(fmt.Sprintf(renderPage, c.scriptURL))),
		chromedp.WaitReady("#diagram", chromedp.ByID),
		chromedp.Evaluate(fmt.Sprintf(renderScript, source), &svg,
			func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
				return p.WithAwaitPromise(true)
			}),
	)
	if err != nil {
		return nil, c.callErr(parent, ctx, "mermaid render", err)
	}
	if !strings.Contains(svg, "<svg") {
		return nil, fmt.Errorf("mermaid render returned no SVG")
	}
	return []byte(svg), nil
}

// Convert implements Converter.
func (c *Chrome) Convert(parent context.Context, svg []byte) ([]byte, error) {
	if len(svg) == 0 {
		return nil, fmt.Errorf("empty SVG")
	}

	ctx, cancelTimeout := context.WithTimeout(parent, c.timeout)
	defer cancelTimeout()

	tabCtx, cancel, err := c.tab(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var pdf []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(dataURL(fmt.Sprintf(printPage, svg))),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, c.callErr(parent, ctx, "print to PDF", err)
	}
	return pdf, nil
}

// Close shuts the browser down if it was started.
func (c *Chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browserCtx == nil {
		return nil
	}
	c.cancelBrowser()
	c.cancelAlloc()
	c.browserCtx = nil
	return nil
}

func dataURL(html string) string {
	return "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(html))
}
