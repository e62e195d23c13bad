package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botserver/internal/crawler"
)

// crawlConfigFile is the JSON shape `crawl run` reads: a standalone way to
// exercise the crawler against one site without the scheduler
// or a website_crawls row, useful for testing a crawl policy before
// registering it as a recurring automation.
type crawlConfigFile struct {
	URL           string `json:"url"`
	MaxDepth      int    `json:"max_depth"`
	MaxPages      int    `json:"max_pages"`
	CrawlDelayMs  int    `json:"crawl_delay_ms"`
	ExpiresPolicy string `json:"expires_policy"`
}

func crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Website crawler diagnostics",
	}
	cmd.AddCommand(crawlRunCmd())
	return cmd
}

func crawlRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <config.json>",
		Short: "Run one crawl from a JSON config file and print the extracted pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read crawl config: %w", err)
			}
			var raw crawlConfigFile
			if err := json.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("parse crawl config: %w", err)
			}
			if raw.URL == "" {
				return fmt.Errorf("crawl config: url is required")
			}

			cfg := crawler.Config{
				URL:           raw.URL,
				MaxDepth:      raw.MaxDepth,
				MaxPages:      raw.MaxPages,
				CrawlDelay:    time.Duration(raw.CrawlDelayMs) * time.Millisecond,
				ExpiresPolicy: raw.ExpiresPolicy,
			}

			browser := rod.New()
			var renderer crawler.Renderer
			if err := browser.Connect(); err == nil {
				renderer = crawler.NewRodRenderer(browser)
				defer browser.Close()
			} else {
				slog.Warn("crawl run: headless browser unavailable, falling back to static fetch", "error", err)
			}

			c := crawler.New(cfg, renderer, slog.Default())
			pages, err := c.Crawl(context.Background())
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}

			for _, p := range pages {
				fmt.Printf("%s\t%s\t%d bytes\n", p.URL, p.Title, len(p.Content))
			}
			fmt.Printf("crawled %d page(s)\n", len(pages))
			return nil
		},
	}
}
