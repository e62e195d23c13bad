// Package crawler implements the web crawl indexer: politeness-aware
// same-domain crawling, HTML text/title/link extraction, and the
// expiration-policy-driven recrawl schedule.
package crawler

import (
	"strconv"
	"strings"
	"time"
)

// Config is a WebsiteCrawlConfig.
type Config struct {
	URL           string
	MaxDepth      int
	MaxPages      int
	CrawlDelay    time.Duration
	ExpiresPolicy string
	LastCrawled   *time.Time
	NextCrawl     *time.Time
}

// CalculateNextCrawl stamps LastCrawled to now and derives NextCrawl from
// ExpiresPolicy via the fixed expiration-policy -> duration map.
func (c *Config) CalculateNextCrawl(now time.Time) {
	c.LastCrawled = &now
	d := ParseExpiresPolicy(c.ExpiresPolicy)
	next := now.Add(d)
	c.NextCrawl = &next
}

// NeedsCrawl reports whether the site is due: never crawled, or NextCrawl
// has already passed.
func (c *Config) NeedsCrawl(now time.Time) bool {
	return c.NextCrawl == nil || !c.NextCrawl.After(now)
}

// ParseExpiresPolicy maps a policy token to a duration, falling back to
// custom "<n>h|d|w|m|y" tokens and finally to 1 day for anything
// unparseable.
func ParseExpiresPolicy(policy string) time.Duration {
	switch policy {
	case "1h":
		return time.Hour
	case "6h":
		return 6 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d", "24h":
		return 24 * time.Hour
	case "3d":
		return 3 * 24 * time.Hour
	case "1w", "7d":
		return 7 * 24 * time.Hour
	case "2w":
		return 14 * 24 * time.Hour
	case "1m", "30d":
		return 30 * 24 * time.Hour
	case "3m":
		return 90 * 24 * time.Hour
	case "6m":
		return 180 * 24 * time.Hour
	case "1y", "365d":
		return 365 * 24 * time.Hour
	default:
		return parseCustomPolicy(policy)
	}
}

func parseCustomPolicy(policy string) time.Duration {
	if policy == "" {
		return 24 * time.Hour
	}
	unit := policy[len(policy)-1:]
	numStr := policy[:len(policy)-1]
	n, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 24 * time.Hour
	}
	switch strings.ToLower(unit) {
	case "h":
		return time.Duration(n) * time.Hour
	case "d":
		return time.Duration(n) * 24 * time.Hour
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour
	case "m":
		return time.Duration(n) * 30 * 24 * time.Hour
	case "y":
		return time.Duration(n) * 365 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
