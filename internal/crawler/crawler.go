package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

const userAgent = "GeneralBots/1.0 (Knowledge Base Crawler)"

// Renderer is the narrow surface the crawler needs from a headless
// browser, for pages whose content is only reachable after JavaScript
// execution.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (html string, err error)
}

// RodRenderer renders a page in a headless Chromium instance via go-rod.
type RodRenderer struct {
	browser *rod.Browser
}

func NewRodRenderer(browser *rod.Browser) *RodRenderer {
	return &RodRenderer{browser: browser}
}

func (r *RodRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	page, err := r.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return "", fmt.Errorf("open rendered page: %w", err)
	}
	defer page.Close()
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait for load: %w", err)
	}
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read rendered html: %w", err)
	}
	return html, nil
}

// Crawler walks a single site per Config, collecting Page results up to
// MaxDepth/MaxPages while staying on-domain.
type Crawler struct {
	cfg      Config
	client   *http.Client
	renderer Renderer // optional: used when a fetched page looks JS-only
	logger   *slog.Logger

	visited map[string]bool
	pages   []Page
}

// New builds a Crawler. renderer may be nil to disable the JS fallback.
func New(cfg Config, renderer Renderer, logger *slog.Logger) *Crawler {
	return &Crawler{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		renderer: renderer,
		logger:   logger,
		visited:  make(map[string]bool),
	}
}

// Crawl runs the recursive crawl starting from cfg.URL and returns the
// collected pages.
func (c *Crawler) Crawl(ctx context.Context) ([]Page, error) {
	c.logInfo("starting crawl", "url", c.cfg.URL)
	if err := c.crawlRecursive(ctx, c.cfg.URL, 0); err != nil {
		return nil, err
	}
	c.logInfo("crawl complete", "url", c.cfg.URL, "pages", len(c.pages))
	return c.pages, nil
}

func (c *Crawler) crawlRecursive(ctx context.Context, pageURL string, depth int) error {
	if depth > c.cfg.MaxDepth {
		return nil
	}
	if len(c.pages) >= c.cfg.MaxPages {
		return nil
	}
	if c.visited[pageURL] {
		return nil
	}
	c.visited[pageURL] = true

	if len(c.visited) > 1 {
		select {
		case <-time.After(c.cfg.CrawlDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	html, contentType, err := c.fetch(ctx, pageURL)
	if err != nil {
		c.logWarn("failed to fetch page, continuing", "url", pageURL, "error", err)
		return nil
	}
	if !strings.Contains(contentType, "text/html") {
		c.logTrace("skipping non-HTML content", "url", pageURL, "content_type", contentType)
		return nil
	}

	page := ExtractPageContent(html, pageURL, time.Now())
	c.pages = append(c.pages, page)

	if depth < c.cfg.MaxDepth {
		for _, link := range ExtractLinks(html, pageURL) {
			if IsSameDomain(pageURL, link) {
				if err := c.crawlRecursive(ctx, link, depth+1); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *Crawler) fetch(ctx context.Context, pageURL string) (html, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	contentType = resp.Header.Get("Content-Type")
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	html = string(body)

	if c.renderer != nil && looksJSOnly(html) {
		if rendered, rerr := c.renderer.Render(ctx, pageURL); rerr == nil {
			html = rendered
			contentType = "text/html"
		} else {
			c.logWarn("js render fallback failed, using static html", "url", pageURL, "error", rerr)
		}
	}
	return html, contentType, nil
}

// looksJSOnly is a cheap heuristic: a body under 2KB with fewer than 80
// characters of text outside tags usually means a client-rendered SPA shell.
func looksJSOnly(html string) bool {
	stripped := strings.TrimSpace(stripAllTags(html))
	return len(html) < 2048 && len(stripped) < 80
}

func (c *Crawler) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Crawler) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func (c *Crawler) logTrace(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
