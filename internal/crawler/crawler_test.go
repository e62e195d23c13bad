package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseExpiresPolicyFixedTable(t *testing.T) {
	cases := map[string]time.Duration{
		"1h":    time.Hour,
		"6h":    6 * time.Hour,
		"1d":    24 * time.Hour,
		"24h":   24 * time.Hour,
		"1w":    7 * 24 * time.Hour,
		"7d":    7 * 24 * time.Hour,
		"1m":    30 * 24 * time.Hour,
		"1y":    365 * 24 * time.Hour,
		"365d":  365 * 24 * time.Hour,
		"2h":    2 * time.Hour,
		"5d":    5 * 24 * time.Hour,
		"junk":  24 * time.Hour,
		"":      24 * time.Hour,
	}
	for policy, want := range cases {
		if got := ParseExpiresPolicy(policy); got != want {
			t.Errorf("ParseExpiresPolicy(%q) = %v, want %v", policy, got, want)
		}
	}
}

func TestNeedsCrawl(t *testing.T) {
	now := time.Now()
	var cfg Config
	if !cfg.NeedsCrawl(now) {
		t.Fatal("never-crawled config should need crawl")
	}
	future := now.Add(time.Hour)
	cfg.NextCrawl = &future
	if cfg.NeedsCrawl(now) {
		t.Fatal("future next_crawl should not need crawl yet")
	}
	past := now.Add(-time.Hour)
	cfg.NextCrawl = &past
	if !cfg.NeedsCrawl(now) {
		t.Fatal("past next_crawl should need crawl")
	}
}

func TestCalculateNextCrawl(t *testing.T) {
	cfg := Config{ExpiresPolicy: "1d"}
	now := time.Now()
	cfg.CalculateNextCrawl(now)
	if cfg.LastCrawled == nil || !cfg.LastCrawled.Equal(now) {
		t.Fatal("LastCrawled should be stamped to now")
	}
	if cfg.NextCrawl == nil || !cfg.NextCrawl.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("NextCrawl = %v, want now+24h", cfg.NextCrawl)
	}
}

func TestExtractPageContentStripsScriptsAndStyles(t *testing.T) {
	html := `<html><head><title>Hello World</title><style>body{color:red}</style></head>
	<body><script>alert(1)</script><p>Some  real   content</p></body></html>`
	page := ExtractPageContent(html, "https://example.com", time.Now())
	if page.Title != "Hello World" {
		t.Fatalf("got title %q", page.Title)
	}
	if strings.Contains(page.Content, "alert") || strings.Contains(page.Content, "color:red") {
		t.Fatalf("script/style content leaked into extracted content: %q", page.Content)
	}
	if !strings.Contains(page.Content, "Some real content") {
		t.Fatalf("expected collapsed whitespace content, got %q", page.Content)
	}
}

func TestExtractLinksSkipsNonNavigable(t *testing.T) {
	html := `<a href="#top">top</a><a href="javascript:void(0)">js</a>
	<a href="mailto:a@b.com">mail</a><a href="tel:123">tel</a>
	<a href="/about">about</a><a href="https://other.com/x">abs</a>`
	links := ExtractLinks(html, "https://example.com/page")
	if len(links) != 2 {
		t.Fatalf("expected 2 navigable links, got %d: %v", len(links), links)
	}
}

func TestIsSameDomain(t *testing.T) {
	if !IsSameDomain("https://example.com/a", "http://example.com/b") {
		t.Fatal("same host across schemes should match")
	}
	if IsSameDomain("https://example.com/a", "https://other.com/b") {
		t.Fatal("different hosts should not match")
	}
}

func TestCrawlerRespectsMaxPagesAndDomain(t *testing.T) {
	var hits int
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/page2">next</a><a href="https://external.example/x">ext</a></body></html>`))
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>leaf page</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := Config{
		URL:        srv.URL + "/",
		MaxDepth:   3,
		MaxPages:   10,
		CrawlDelay: time.Millisecond,
	}
	c := New(cfg, nil, nil)
	pages, err := c.Crawl(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages (external domain excluded), got %d", len(pages))
	}

	c = New(Config{URL: srv.URL + "/", MaxDepth: 3, MaxPages: 1, CrawlDelay: time.Millisecond}, nil, nil)
	pages, err = c.Crawl(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected MaxPages=1 to stop after the root page, got %d", len(pages))
	}
}

func TestCrawlerRespectsMaxDepth(t *testing.T) {
	var hits int
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/deep">deep</a></body></html>`))
	})
	mux.HandleFunc("/deep", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>should not be reached</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := Config{URL: srv.URL + "/", MaxDepth: 0, MaxPages: 10, CrawlDelay: time.Millisecond}
	c := New(cfg, nil, nil)
	pages, err := c.Crawl(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected only the root page at max_depth=0, got %d", len(pages))
	}
}

func TestCrawlerSkipsNonHTMLContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"not":"html"}`))
	}))
	defer srv.Close()

	cfg := Config{URL: srv.URL, MaxDepth: 1, MaxPages: 10, CrawlDelay: time.Millisecond}
	c := New(cfg, nil, nil)
	pages, err := c.Crawl(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 0 {
		t.Fatalf("expected 0 pages for non-HTML content, got %d", len(pages))
	}
}
