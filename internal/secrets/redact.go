package secrets

import "regexp"

// patterns match "key=value" and "key: value" (stopping at the first
// whitespace/quote/ampersand) and "Bearer <token>" / "Basic <token>" auth
// headers (stopping at the first whitespace), case-insensitively, so we
// don't over-consume adjacent text.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password)\s*[=:]\s*['"]?([^\s&'"]+)`),
	regexp.MustCompile(`(?i)(api_key)\s*[=:]\s*['"]?([^\s&'"]+)`),
	regexp.MustCompile(`(?i)(token)\s*[=:]\s*['"]?([^\s&'"]+)`),
	regexp.MustCompile(`(?i)(secret)\s*[=:]\s*['"]?([^\s&'"]+)`),
	regexp.MustCompile(`(?i)(Bearer)\s+([^\s]+)`),
	regexp.MustCompile(`(?i)(Basic)\s+([^\s]+)`),
}

// RedactText replaces credential-shaped substrings ("password=...",
// "api_key=...", "token=...", "secret=...", "Bearer ...", "Basic ...") with
// a "<name>=[REDACTED]" form, for safe inclusion of arbitrary text (error
// messages, request bodies) in logs.
func RedactText(text string) string {
	out := text
	for _, re := range redactPatterns {
		out = re.ReplaceAllString(out, "$1=[REDACTED]")
	}
	return out
}
