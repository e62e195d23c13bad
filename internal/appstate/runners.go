package appstate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botserver/internal/botdb"
	"github.com/nextlevelbuilder/botserver/internal/crawler"
	"github.com/nextlevelbuilder/botserver/internal/retrieval"
	"github.com/nextlevelbuilder/botserver/internal/scheduler"
	"github.com/nextlevelbuilder/botserver/internal/scriptbridge"
)

// BridgeRunner implements scheduler.ScriptRunner over the
// script-evaluation bridge: it resolves the bot's display name, reads
// the script body from the drive-key path it's stored at, and evaluates it
// on a fresh Bridge per call, closed before the call returns.
type BridgeRunner struct {
	Main      botdb.MainDB
	Store     scriptbridge.ObjectStore
	Registrar *AutomationStore
}

func (r *BridgeRunner) RunScript(ctx context.Context, botID, scriptPath string) error {
	_, botName, err := r.Main.DatabaseNameFor(ctx, botID)
	if err != nil {
		return fmt.Errorf("appstate: resolve bot name for %s: %w", botID, err)
	}

	key := scriptbridge.DriveKey(botName, scriptPath)
	data, err := r.Store.Read(ctx, key)
	if err != nil {
		return fmt.Errorf("appstate: read script %s: %w", key, err)
	}

	bridge := scriptbridge.New(r.Store, botName)
	defer bridge.Close()
	if r.Registrar != nil {
		bridge.WithRegistrar(r.Registrar.ForBot(botID))
	}

	if err := bridge.Eval(string(data)); err != nil {
		return fmt.Errorf("appstate: evaluate script %s: %w", key, err)
	}
	return nil
}

// AutomationStore mints per-bot scriptbridge.AutomationRegistrar values
// over the automations + email_monitors tables.
type AutomationStore struct {
	DB       *sql.DB
	Postgres bool
}

// ForBot binds the store to one bot id for the duration of a script run.
func (s *AutomationStore) ForBot(botID string) scriptbridge.AutomationRegistrar {
	return &sqlAutomationRegistrar{store: s, botID: botID}
}

type sqlAutomationRegistrar struct {
	store *AutomationStore
	botID string
}

func (s *AutomationStore) ph(n int) string {
	if s.Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// RegisterEmailTrigger upserts the Automation row (kind=email_received,
// target=address) and the EmailMonitor row keyed (bot_id, email_address),
// so re-running the same ON EMAIL statement changes nothing. Row ids are
// generated here rather than by a column default, since the SQLite schema
// has no uuid-generating function; a conflicting insert keeps the existing
// row's id.
func (r *sqlAutomationRegistrar) RegisterEmailTrigger(ctx context.Context, botName string, trigger scriptbridge.EmailTrigger, scriptPath string) error {
	s := r.store

	// The unique index on (bot_id, kind, target) is partial (WHERE
	// is_active), so the conflict target names it in both dialects.
	autoQuery := fmt.Sprintf(`
		INSERT INTO automations (id, bot_id, kind, target, param, is_active)
		VALUES (%s, %s, 'email_received', %s, %s, true)
		ON CONFLICT (bot_id, kind, target) WHERE is_active
		DO UPDATE SET param = EXCLUDED.param`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	if _, err := s.DB.ExecContext(ctx, autoQuery, uuid.NewString(), r.botID, trigger.Address, scriptPath); err != nil {
		return fmt.Errorf("appstate: upsert email automation: %w", err)
	}

	monQuery := fmt.Sprintf(`
		INSERT INTO email_monitors (id, bot_id, email_address, script_path, is_active, filter_from, filter_subject)
		VALUES (%s, %s, %s, %s, true, %s, %s)
		ON CONFLICT (bot_id, email_address)
		DO UPDATE SET script_path = EXCLUDED.script_path,
		              filter_from = EXCLUDED.filter_from,
		              filter_subject = EXCLUDED.filter_subject,
		              is_active = true`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	if _, err := s.DB.ExecContext(ctx, monQuery, uuid.NewString(), r.botID, trigger.Address, scriptPath,
		nullable(trigger.FromFilter), nullable(trigger.SubjectFilter)); err != nil {
		return fmt.Errorf("appstate: upsert email monitor: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// TableWatcher implements scheduler.TableChangePoller over each bot's own
// database: inserts and deletes are detected by row-count movement,
// updates by max(updated_at) advancing or the row count changing. The first observation of a table
// only records the baseline, it never fires.
type TableWatcher struct {
	Registry *botdb.Registry

	mu    sync.Mutex
	marks map[string]tableMark // keyed by automation id
}

type tableMark struct {
	count      int64
	maxUpdated string
	seen       bool
}

func NewTableWatcher(registry *botdb.Registry) *TableWatcher {
	return &TableWatcher{Registry: registry, marks: make(map[string]tableMark)}
}

func (t *TableWatcher) Changed(ctx context.Context, a scheduler.Automation) (bool, error) {
	// Target is interpolated as an identifier; hold it to the same rule as
	// database names so it can't smuggle SQL.
	if err := botdb.SanitizeName(a.Target); err != nil {
		return false, err
	}
	pool, err := t.Registry.GetPool(ctx, a.BotID)
	if err != nil {
		return false, err
	}

	var cur tableMark
	if err := pool.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+a.Target).Scan(&cur.count); err != nil {
		return false, fmt.Errorf("count %s: %w", a.Target, err)
	}
	if a.Kind == scheduler.TriggerTableUpdate {
		var max sql.NullString
		if err := pool.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM "+a.Target).Scan(&max); err != nil {
			return false, fmt.Errorf("max updated_at on %s: %w", a.Target, err)
		}
		cur.maxUpdated = max.String
	}
	cur.seen = true

	t.mu.Lock()
	prev := t.marks[a.ID]
	t.marks[a.ID] = cur
	t.mu.Unlock()

	if !prev.seen {
		return false, nil
	}
	switch a.Kind {
	case scheduler.TriggerTableInsert:
		return cur.count > prev.count, nil
	case scheduler.TriggerTableDelete:
		return cur.count < prev.count, nil
	case scheduler.TriggerTableUpdate:
		return cur.maxUpdated > prev.maxUpdated || cur.count != prev.count, nil
	default:
		return false, nil
	}
}

// WebsiteScanner walks each bot's script directory under Root (one
// subdirectory per bot id), extracts USE WEBSITE directives, and inserts
// website_crawls rows that don't exist yet. The coordinator tick runs it
// ahead of the crawl dispatch so a freshly-declared site is crawled on the
// same tick.
type WebsiteScanner struct {
	DB       *sql.DB
	Postgres bool
	Root     string
	Logger   *slog.Logger
}

func (w *WebsiteScanner) ph(n int) string {
	if w.Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (w *WebsiteScanner) Scan(ctx context.Context) {
	entries, err := os.ReadDir(w.Root)
	if err != nil {
		return
	}

	existing, err := w.knownURLs(ctx)
	if err != nil {
		if w.Logger != nil {
			w.Logger.Warn("appstate: website scan skipped", "error", err)
		}
		return
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		botID := e.Name()
		found, err := scheduler.ScanForWebsiteDirectives(filepath.Join(w.Root, botID), botID, existing)
		if err != nil {
			if w.Logger != nil {
				w.Logger.Warn("appstate: website scan failed", "bot_id", botID, "error", err)
			}
			continue
		}
		for _, site := range found {
			query := fmt.Sprintf(`
				INSERT INTO website_crawls (url, bot_id, expires_policy)
				VALUES (%s, %s, %s)
				ON CONFLICT (url) DO NOTHING`,
				w.ph(1), w.ph(2), w.ph(3))
			if _, err := w.DB.ExecContext(ctx, query, site.URL, site.BotID, site.ExpiresPolicy); err != nil {
				if w.Logger != nil {
					w.Logger.Warn("appstate: insert website crawl", "url", site.URL, "error", err)
				}
			}
		}
	}
}

func (w *WebsiteScanner) knownURLs(ctx context.Context) (map[string]bool, error) {
	rows, err := w.DB.QueryContext(ctx, `SELECT url FROM website_crawls`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	known := make(map[string]bool)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		known[u] = true
	}
	return known, rows.Err()
}

// IndexRegistry is the in-memory home for each bot's sparse retrieval
// index, populated as a side effect of crawl ingestion so a
// crawled site's pages become searchable without a separate ingestion
// step. One SparseIndex per bot, built lazily.
type IndexRegistry struct {
	mu      sync.Mutex
	indexes map[string]*retrieval.SparseIndex
	cfg     retrieval.Bm25Config
}

func NewIndexRegistry(cfg retrieval.Bm25Config) *IndexRegistry {
	return &IndexRegistry{indexes: make(map[string]*retrieval.SparseIndex), cfg: cfg}
}

func (ir *IndexRegistry) For(botID string) *retrieval.SparseIndex {
	ir.mu.Lock()
	defer ir.mu.Unlock()
	idx, ok := ir.indexes[botID]
	if !ok {
		idx = retrieval.NewSparseIndex(ir.cfg)
		ir.indexes[botID] = idx
	}
	return idx
}

// CrawlRunner implements scheduler.CrawlDispatcher over the crawl
// indexer: it loads due rows from website_crawls, crawls each, feeds
// extracted pages into that bot's sparse index, and persists the next
// scheduled crawl time.
type CrawlRunner struct {
	DB       *sql.DB
	Postgres bool
	Renderer crawler.Renderer
	Index    *IndexRegistry
	Logger   *slog.Logger
}

type dueCrawl struct {
	url      string
	botID    string
	maxDepth int
	maxPages int
	delayMs  int
	expires  string
}

func (r *CrawlRunner) ph(n int) string {
	if r.Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (r *CrawlRunner) DispatchDueCrawls(ctx context.Context, now time.Time) (int, error) {
	query := fmt.Sprintf(`
		SELECT url, bot_id, max_depth, max_pages, crawl_delay_ms, expires_policy
		FROM website_crawls
		WHERE (next_crawl IS NULL OR next_crawl <= %s) AND crawl_status <> 'processing'`, r.ph(1))
	rows, err := r.DB.QueryContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("appstate: query due crawls: %w", err)
	}

	var due []dueCrawl
	for rows.Next() {
		var d dueCrawl
		if err := rows.Scan(&d.url, &d.botID, &d.maxDepth, &d.maxPages, &d.delayMs, &d.expires); err != nil {
			rows.Close()
			return 0, fmt.Errorf("appstate: scan due crawl: %w", err)
		}
		due = append(due, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	n := 0
	for _, d := range due {
		if !r.claim(ctx, d.url) {
			continue
		}
		if err := r.runOne(ctx, d, now); err != nil {
			if r.Logger != nil {
				r.Logger.Warn("appstate: crawl failed", "url", d.url, "error", err)
			}
			r.markFailed(ctx, d.url, err)
			continue
		}
		n++
	}
	return n, nil
}

// claim flips the row to 'processing'; the status guard in the WHERE
// clause makes the flip atomic, so a concurrent dispatcher loses the race
// cleanly instead of crawling the same site twice.
func (r *CrawlRunner) claim(ctx context.Context, url string) bool {
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(
		`UPDATE website_crawls SET crawl_status = 'processing' WHERE url = %s AND crawl_status <> 'processing'`,
		r.ph(1),
	), url)
	if err != nil {
		return false
	}
	n, err := res.RowsAffected()
	return err == nil && n > 0
}

func (r *CrawlRunner) markFailed(ctx context.Context, url string, cause error) {
	_, err := r.DB.ExecContext(ctx, fmt.Sprintf(
		`UPDATE website_crawls SET crawl_status = 'failed', last_error = %s WHERE url = %s`,
		r.ph(1), r.ph(2),
	), cause.Error(), url)
	if err != nil && r.Logger != nil {
		r.Logger.Warn("appstate: could not record crawl failure", "url", url, "error", err)
	}
}

func (r *CrawlRunner) runOne(ctx context.Context, d dueCrawl, now time.Time) error {
	cfg := crawler.Config{
		URL:           d.url,
		MaxDepth:      d.maxDepth,
		MaxPages:      d.maxPages,
		CrawlDelay:    time.Duration(d.delayMs) * time.Millisecond,
		ExpiresPolicy: d.expires,
	}
	c := crawler.New(cfg, r.Renderer, r.Logger)

	pages, err := c.Crawl(ctx)
	if err != nil {
		return fmt.Errorf("crawl %s: %w", d.url, err)
	}

	idx := r.Index.For(d.botID)
	for _, p := range pages {
		idx.Index(retrieval.Document{ID: p.URL, Text: p.Title + "\n" + p.Content})
	}

	cfg.CalculateNextCrawl(now)
	_, err = r.DB.ExecContext(ctx, fmt.Sprintf(
		`UPDATE website_crawls SET crawl_status = 'ok', last_error = NULL, last_crawled = %s, next_crawl = %s WHERE url = %s`,
		r.ph(1), r.ph(2), r.ph(3),
	), now, cfg.NextCrawl, d.url)
	if err != nil {
		return fmt.Errorf("persist crawl schedule for %s: %w", d.url, err)
	}
	return nil
}
