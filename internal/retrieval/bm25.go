// Package retrieval implements the hybrid BM25 + dense-vector retrieval
// pipeline: per-bot BM25 tuning loaded from configuration, a thin
// Qdrant-class dense retriever client, and reciprocal-rank-fusion merging.
package retrieval

import (
	"log/slog"
	"strconv"
	"strings"
)

// Bm25Config mirrors the Rust Bm25Config: per-bot sparse-retrieval tuning
// loaded from `bm25-*` configuration keys.
type Bm25Config struct {
	Enabled  bool
	K1       float32
	B        float32
	Stemming bool
	Stopwords bool
}

// DefaultBm25Config is k1=1.2, b=0.75, all boolean knobs on.
func DefaultBm25Config() Bm25Config {
	return Bm25Config{Enabled: true, K1: 1.2, B: 0.75, Stemming: true, Stopwords: true}
}

// DisabledBm25Config returns a config with BM25 off (dense-only search).
func DisabledBm25Config() Bm25Config {
	c := DefaultBm25Config()
	c.Enabled = false
	return c
}

// NewBm25Config builds a config from custom k1/b, clamped to sane ranges.
func NewBm25Config(k1, b float32) Bm25Config {
	c := DefaultBm25Config()
	c.K1, c.B = k1, b
	c.Validate(nil)
	return c
}

// Validate clamps out-of-range values to sane bounds, logging a warning via
// logger (if non-nil) rather than rejecting the configuration - tenant
// misconfiguration must not break retrieval.
func (c *Bm25Config) Validate(logger *slog.Logger) {
	switch {
	case c.K1 < 0:
		warn(logger, "bm25 k1 cannot be negative, resetting to default", "k1", c.K1)
		c.K1 = 1.2
	case c.K1 > 10:
		warn(logger, "bm25 k1 unusually high, capping", "k1", c.K1)
		c.K1 = 10
	}
	switch {
	case c.B < 0:
		warn(logger, "bm25 b cannot be negative, clamping to 0", "b", c.B)
		c.B = 0
	case c.B > 1:
		warn(logger, "bm25 b cannot exceed 1, clamping to 1", "b", c.B)
		c.B = 1
	}
}

func warn(logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.Warn(msg, args...)
	}
}

// FromBotConfig builds a Bm25Config from a flat key/value map of the
// `bot_configuration` rows whose keys start with "bm25-".
func FromBotConfig(rows map[string]string, logger *slog.Logger) Bm25Config {
	cfg := DefaultBm25Config()
	for key, value := range rows {
		switch key {
		case "bm25-enabled":
			cfg.Enabled = strings.EqualFold(value, "true")
		case "bm25-k1":
			if v, err := strconv.ParseFloat(value, 32); err == nil {
				cfg.K1 = float32(v)
			}
		case "bm25-b":
			if v, err := strconv.ParseFloat(value, 32); err == nil {
				cfg.B = float32(v)
			}
		case "bm25-stemming":
			cfg.Stemming = strings.EqualFold(value, "true")
		case "bm25-stopwords":
			cfg.Stopwords = strings.EqualFold(value, "true")
		}
	}
	cfg.Validate(logger)
	return cfg
}

// HasPreprocessing reports whether stemming or stopword-filtering is on.
func (c Bm25Config) HasPreprocessing() bool { return c.Stemming || c.Stopwords }

// Describe renders a one-line human-readable summary, e.g. for the
// `quota show`-style diagnostics commands.
func (c Bm25Config) Describe() string {
	if !c.Enabled {
		return "BM25(disabled)"
	}
	return "BM25(k1=" + strconv.FormatFloat(float64(c.K1), 'g', -1, 32) +
		", b=" + strconv.FormatFloat(float64(c.B), 'g', -1, 32) +
		", stemming=" + strconv.FormatBool(c.Stemming) +
		", stopwords=" + strconv.FormatBool(c.Stopwords) + ")"
}

// DefaultStopwords is the fixed English stopword list applied when the
// stopwords knob is on.
var DefaultStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {}, "have": {}, "had": {},
	"what": {}, "when": {}, "where": {}, "who": {}, "which": {}, "why": {}, "how": {},
	"all": {}, "each": {}, "every": {}, "both": {}, "few": {}, "more": {}, "most": {},
	"other": {}, "some": {}, "such": {}, "no": {}, "nor": {}, "not": {}, "only": {},
	"own": {}, "same": {}, "so": {}, "than": {}, "too": {}, "very": {}, "just": {},
	"can": {}, "should": {}, "now": {}, "do": {}, "does": {}, "did": {}, "done": {},
	"been": {}, "being": {}, "would": {}, "could": {}, "might": {}, "must": {},
	"shall": {}, "may": {}, "am": {}, "your": {}, "our": {}, "their": {}, "his": {},
	"her": {}, "my": {}, "me": {}, "him": {}, "them": {}, "us": {}, "you": {}, "i": {},
	"we": {}, "she": {}, "if": {}, "then": {}, "else": {}, "about": {}, "into": {},
	"over": {}, "after": {}, "before": {}, "between": {}, "under": {}, "again": {},
	"further": {}, "once": {},
}

// IsStopword reports whether word (case-insensitive) is in DefaultStopwords.
func IsStopword(word string) bool {
	_, ok := DefaultStopwords[strings.ToLower(word)]
	return ok
}

// Tokenize splits text on non-letter/digit runes, lowercases, and - if
// stopwords filtering is on - drops stopwords. A minimal suffix stripper
// (trailing "s"/"ing"/"ed") stands in for a full Porter/Snowball stemmer
// when stemming is on.
func Tokenize(text string, cfg Bm25Config) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := strings.ToLower(cur.String())
		cur.Reset()
		if cfg.Stopwords && IsStopword(tok) {
			return
		}
		if cfg.Stemming {
			tok = stem(tok)
		}
		tokens = append(tokens, tok)
	}
	for _, r := range text {
		if isWordRune(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func stem(tok string) string {
	switch {
	case strings.HasSuffix(tok, "ing") && len(tok) > 5:
		return tok[:len(tok)-3]
	case strings.HasSuffix(tok, "ed") && len(tok) > 4:
		return tok[:len(tok)-2]
	case strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") && len(tok) > 3:
		return tok[:len(tok)-1]
	default:
		return tok
	}
}
