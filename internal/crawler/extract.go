package crawler

import (
	"net/url"
	"strings"
	"time"
)

// Page is a WebPage.
type Page struct {
	URL             string
	Title           string
	Content         string
	MetaDescription string
	CrawledAt       time.Time
}

// ExtractPageContent strips <script>/<style> blocks (with their content),
// pulls the <title> if present, removes all remaining tags, and collapses
// whitespace. String scanning, not a DOM parser: the extraction rules are
// deliberately simple substring operations.
func ExtractPageContent(html, pageURL string, now time.Time) Page {
	text := stripTagBlock(html, "<script", "</script>")
	text = stripTagBlock(text, "<style", "</style>")

	title := extractTitle(text)
	text = stripAllTags(text)
	content := strings.Join(strings.Fields(text), " ")

	return Page{
		URL:       pageURL,
		Title:     title,
		Content:   content,
		CrawledAt: now,
	}
}

func stripTagBlock(text, openTag, closeTag string) string {
	for {
		start := strings.Index(text, openTag)
		if start == -1 {
			return text
		}
		rel := strings.Index(text[start:], closeTag)
		if rel == -1 {
			return text
		}
		end := start + rel + len(closeTag)
		text = text[:start] + " " + text[end:]
	}
}

func extractTitle(text string) string {
	start := strings.Index(text, "<title>")
	if start == -1 {
		return ""
	}
	start += len("<title>")
	end := strings.Index(text[start:], "</title>")
	if end == -1 {
		return ""
	}
	return text[start : start+end]
}

func stripAllTags(text string) string {
	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ExtractLinks scans href="..." occurrences and resolves each against
// baseURL, skipping anchors/javascript:/mailto:/tel: links.
func ExtractLinks(html, baseURL string) []string {
	var links []string
	searchPos := 0
	for {
		idx := strings.Index(html[searchPos:], `href="`)
		if idx == -1 {
			break
		}
		hrefStart := searchPos + idx + len(`href="`)
		rel := strings.Index(html[hrefStart:], `"`)
		if rel == -1 {
			break
		}
		href := html[hrefStart : hrefStart+rel]
		searchPos = hrefStart + rel

		if shouldSkipLink(href) {
			continue
		}
		if abs := resolveURL(href, baseURL); abs != "" {
			links = append(links, abs)
		}
	}
	return links
}

func shouldSkipLink(href string) bool {
	return strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:")
}

// resolveURL resolves protocol-absolute, root-relative, and path-relative
// hrefs against base.
func resolveURL(href, base string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	baseParsed, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return baseParsed.ResolveReference(ref).String()
}

// IsSameDomain compares the host component (protocol and path stripped)
// of two URLs.
func IsSameDomain(u1, u2 string) bool {
	return extractDomain(u1) == extractDomain(u2)
}

func extractDomain(raw string) string {
	withoutProto := raw
	switch {
	case strings.HasPrefix(raw, "https://"):
		withoutProto = raw[len("https://"):]
	case strings.HasPrefix(raw, "http://"):
		withoutProto = raw[len("http://"):]
	}
	if idx := strings.Index(withoutProto, "/"); idx != -1 {
		return withoutProto[:idx]
	}
	return withoutProto
}
