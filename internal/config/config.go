package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/botserver/internal/quota"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the gateway runtime.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	TLS       TLSConfig       `json:"tls,omitempty"`
	Channels  ChannelsConfig  `json:"channels"`
	Quota     QuotaConfig     `json:"quota,omitempty"`
	Sessions  SessionsConfig  `json:"sessions,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Retrieval RetrievalConfig `json:"retrieval,omitempty"`
	Crawler   CrawlerConfig   `json:"crawler,omitempty"`
	Render    RenderConfig    `json:"render,omitempty"`
	Memory    MemoryMonitorConfig `json:"memory,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// SessionsConfig governs anonymous-session lifecycle limits.
type SessionsConfig struct {
	RequireFingerprint    bool   `json:"require_fingerprint,omitempty"`
	MaxSessionsPerIP      int    `json:"max_sessions_per_ip,omitempty"`      // default 5
	TTL                   string `json:"ttl,omitempty"`                      // Go duration string, default "30m"
	MaxMessagesPerSession int    `json:"max_messages_per_session,omitempty"` // user-role messages, default 50
	UpgradeEnabled        *bool  `json:"upgrade_enabled,omitempty"`          // default true
	CleanupInterval       string `json:"cleanup_interval,omitempty"`         // default "5m"
}

// DatabaseConfig configures the control-plane Postgres connection and the
// per-bot database registry.
type DatabaseConfig struct {
	PostgresDSN   string `json:"-"`                       // from env BOTSERVER_POSTGRES_DSN only, never persisted
	Mode          string `json:"mode,omitempty"`          // "standalone" (sqlite, default) or "managed" (postgres)
	MaxPoolsCache int    `json:"max_pools_cache,omitempty"` // cap on cached per-bot pools (default 256)
	PoolMaxConns  int32  `json:"pool_max_conns,omitempty"`  // per-bot pgxpool max conns (default 10)
}

// IsManagedMode returns true if the registry is running against Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// TLSConfig configures the TLS/mTLS configurator.
type TLSConfig struct {
	Enabled    bool             `json:"enabled,omitempty"`
	CertFile   string           `json:"cert_file,omitempty"`
	KeyFile    string           `json:"key_file,omitempty"`
	ClientCA   string           `json:"client_ca_file,omitempty"`
	MinVersion string           `json:"min_version,omitempty"` // "1.2" (default), "1.3"
	Services   []ServiceTLSSpec `json:"services,omitempty"`
}

// ServiceTLSSpec configures mTLS requirements for one downstream service.
type ServiceTLSSpec struct {
	Name       string `json:"name"`        // "postgres", "minio", "qdrant", etc.
	Mode       string `json:"mode"`        // "disabled", "tls", "mtls"
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	CAFile     string `json:"ca_file,omitempty"`
	ServerName string `json:"server_name,omitempty"`
}

// GatewayConfig controls the HTTP/websocket ingress surface.
type GatewayConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	Token           string   `json:"token,omitempty"`             // bearer token for internal/admin routes
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`   // websocket CORS whitelist (empty = allow all)
	MaxMessageChars int      `json:"max_message_chars,omitempty"` // max inbound message characters (default 32000)
	S3Endpoint      string   `json:"s3_endpoint,omitempty"`       // MinIO/S3-compatible endpoint for render/crawl artifacts
	S3Bucket        string   `json:"s3_bucket,omitempty"`
	S3Region        string   `json:"s3_region,omitempty"`
	S3AccessKey     string   `json:"-"` // env BOTSERVER_S3_ACCESS_KEY only
	S3SecretKey     string   `json:"-"` // env BOTSERVER_S3_SECRET_KEY only
}

// QuotaConfig configures the quota manager / rate limiter.
type QuotaConfig struct {
	GracePeriodHours int                    `json:"grace_period_hours,omitempty"` // default 72
	Plans            map[string]PlanLimits  `json:"plans,omitempty"`
	RateLimitRPS     float64                `json:"rate_limit_rps,omitempty"`    // token-bucket refill rate per org (default 5)
	RateLimitBurst   int                    `json:"rate_limit_burst,omitempty"`  // token-bucket burst size (default 20)
}

// PlanLimits holds one plan tier's usage thresholds. Every field is a
// daily/cumulative cap; 0 means Unlimited. MessagesPerMonth/RenderMinutes
// keep their established field names for compatibility with existing
// config files even though the messages metric is checked on a daily
// period.
type PlanLimits struct {
	MessagesPerMonth  int64 `json:"messages_per_month"`
	StorageBytes      int64 `json:"storage_bytes"`
	RenderMinutes     int64 `json:"render_minutes"`
	ApiCallsPerDay    int64 `json:"api_calls_per_day"`
	Bots              int64 `json:"bots"`
	Users             int64 `json:"users"`
	KbDocuments       int64 `json:"kb_documents"`
	Apps              int64 `json:"apps"`
	MonthlyPriceCents int64 `json:"monthly_price_cents"`
	Order             int   `json:"order"` // free=0, personal=1, business=2, enterprise=3
	Features          []string `json:"features,omitempty"`
}

// Limit implements quota.PlanLimitsLike so the quota manager can read a
// cap for a given metric without importing this package's concrete struct.
func (p PlanLimits) Limit(metric quota.Metric) int64 {
	switch metric {
	case quota.MetricMessages:
		return p.MessagesPerMonth
	case quota.MetricStorageBytes:
		return p.StorageBytes
	case quota.MetricApiCalls:
		return p.ApiCallsPerDay
	case quota.MetricBots:
		return p.Bots
	case quota.MetricUsers:
		return p.Users
	case quota.MetricKbDocuments:
		return p.KbDocuments
	case quota.MetricApps:
		return p.Apps
	default:
		return 0
	}
}

// SchedulerConfig configures the automation scheduler.
type SchedulerConfig struct {
	TickInterval   string `json:"tick_interval,omitempty"`    // Go duration string, default "30s"
	FolderWatchDir string `json:"folder_watch_dir,omitempty"` // root directory fsnotify watches for drop-in automations
	MaxConcurrent  int    `json:"max_concurrent,omitempty"`   // max automations executing at once (default 16)
}

// RetrievalConfig configures hybrid retrieval.
type RetrievalConfig struct {
	QdrantURL   string  `json:"qdrant_url,omitempty"`
	QdrantAPIKey string `json:"-"` // env BOTSERVER_QDRANT_API_KEY only
	BM25K1      float64 `json:"bm25_k1,omitempty"` // default 1.2, clamped to [0,10]
	BM25B       float64 `json:"bm25_b,omitempty"`  // default 0.75, clamped to [0,1]
	RRFConstant int     `json:"rrf_constant,omitempty"` // default 60
	TopK        int     `json:"top_k,omitempty"`        // default 10
}

// CrawlerConfig configures the web crawl indexer.
type CrawlerConfig struct {
	UserAgent      string `json:"user_agent,omitempty"`
	MaxDepth       int    `json:"max_depth,omitempty"`       // default 3
	MaxPages       int    `json:"max_pages,omitempty"`       // default 200
	RequestTimeout string `json:"request_timeout,omitempty"` // default "15s"
	PolitenessMs   int    `json:"politeness_ms,omitempty"`   // delay between requests to same host (default 500ms)
	JSRenderFallback bool `json:"js_render_fallback,omitempty"` // default true
}

// RenderConfig configures the render worker.
type RenderConfig struct {
	RedisAddr    string `json:"redis_addr,omitempty"`
	QueueName    string `json:"queue_name,omitempty"` // default "botserver:render:jobs"
	FFmpegPath   string `json:"ffmpeg_path,omitempty"` // default "ffmpeg"
	WorkDir      string `json:"work_dir,omitempty"`
	MaxConcurrent int   `json:"max_concurrent,omitempty"` // default 2
}

// MemoryMonitorConfig configures the memory & thread monitor.
type MemoryMonitorConfig struct {
	SampleInterval string `json:"sample_interval,omitempty"` // default "15s"
	RSSWarnBytes   int64  `json:"rss_warn_bytes,omitempty"`
	RSSCritBytes   int64  `json:"rss_crit_bytes,omitempty"`
	LeakWindow     int    `json:"leak_window,omitempty"` // samples the component tracker keeps per component; the leak detector's consecutive-growth count is fixed at 5
}

// TelemetryConfig configures OpenTelemetry export for traces and metrics.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Database = src.Database
	c.TLS = src.TLS
	c.Channels = src.Channels
	c.Quota = src.Quota
	c.Sessions = src.Sessions
	c.Scheduler = src.Scheduler
	c.Retrieval = src.Retrieval
	c.Crawler = src.Crawler
	c.Render = src.Render
	c.Memory = src.Memory
	c.Telemetry = src.Telemetry
}
