package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18790,
			MaxMessageChars: 32000,
		},
		Database: DatabaseConfig{
			Mode:          "standalone",
			MaxPoolsCache: 256,
			PoolMaxConns:  10,
		},
		TLS: TLSConfig{
			MinVersion: "1.2",
		},
		Quota: QuotaConfig{
			GracePeriodHours: 72,
			RateLimitRPS:     5,
			RateLimitBurst:   20,
			Plans: map[string]PlanLimits{
				"free": {
					MessagesPerMonth: 1000, StorageBytes: 1 << 30, RenderMinutes: 10,
					ApiCallsPerDay: 5000, Bots: 1, Users: 3, KbDocuments: 50, Apps: 1,
					MonthlyPriceCents: 0, Order: 0,
				},
				"personal": {
					MessagesPerMonth: 20000, StorageBytes: 10 << 30, RenderMinutes: 120,
					ApiCallsPerDay: 50000, Bots: 3, Users: 10, KbDocuments: 500, Apps: 5,
					MonthlyPriceCents: 1900, Order: 1, Features: []string{"custom_branding"},
				},
				"business": {
					MessagesPerMonth: 200000, StorageBytes: 100 << 30, RenderMinutes: 600,
					ApiCallsPerDay: 500000, Bots: 20, Users: 100, KbDocuments: 5000, Apps: 25,
					MonthlyPriceCents: 9900, Order: 2, Features: []string{"custom_branding", "sso", "priority_support"},
				},
				"enterprise": {
					MessagesPerMonth: 0, StorageBytes: 0, RenderMinutes: 0,
					ApiCallsPerDay: 0, Bots: 0, Users: 0, KbDocuments: 0, Apps: 0,
					MonthlyPriceCents: 0, Order: 3, Features: []string{"custom_branding", "sso", "priority_support", "dedicated_support", "sla"},
				}, // 0 = unlimited
			},
		},
		Sessions: SessionsConfig{
			MaxSessionsPerIP:      5,
			TTL:                   "30m",
			MaxMessagesPerSession: 50,
			CleanupInterval:       "5m",
		},
		Scheduler: SchedulerConfig{
			TickInterval:  "30s",
			MaxConcurrent: 16,
		},
		Retrieval: RetrievalConfig{
			BM25K1:      1.2,
			BM25B:       0.75,
			RRFConstant: 60,
			TopK:        10,
		},
		Crawler: CrawlerConfig{
			UserAgent:        "BotServer/1.0",
			MaxDepth:         3,
			MaxPages:         200,
			RequestTimeout:   "15s",
			PolitenessMs:     500,
			JSRenderFallback: true,
		},
		Render: RenderConfig{
			QueueName:     "botserver:render:jobs",
			FFmpegPath:    "ffmpeg",
			MaxConcurrent: 2,
		},
		Memory: MemoryMonitorConfig{
			SampleInterval: "15s",
			LeakWindow:     5,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values, and are the only place secrets
// (tokens, DSNs, API keys) are ever read from.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("BOTSERVER_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("BOTSERVER_S3_ACCESS_KEY", &c.Gateway.S3AccessKey)
	envStr("BOTSERVER_S3_SECRET_KEY", &c.Gateway.S3SecretKey)
	envStr("BOTSERVER_S3_ENDPOINT", &c.Gateway.S3Endpoint)
	envStr("BOTSERVER_S3_BUCKET", &c.Gateway.S3Bucket)
	envStr("BOTSERVER_S3_REGION", &c.Gateway.S3Region)

	envStr("BOTSERVER_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("BOTSERVER_MODE", &c.Database.Mode)

	envStr("BOTSERVER_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}

	envStr("BOTSERVER_WHATSAPP_ACCESS_TOKEN", &c.Channels.WhatsApp.AccessToken)
	envStr("BOTSERVER_WHATSAPP_VERIFY_TOKEN", &c.Channels.WhatsApp.VerifyToken)
	envStr("BOTSERVER_WHATSAPP_APP_SECRET", &c.Channels.WhatsApp.AppSecret)
	if c.Channels.WhatsApp.AccessToken != "" && c.Channels.WhatsApp.PhoneNumberID != "" {
		c.Channels.WhatsApp.Enabled = true
	}

	envStr("BOTSERVER_QDRANT_URL", &c.Retrieval.QdrantURL)
	envStr("BOTSERVER_QDRANT_API_KEY", &c.Retrieval.QdrantAPIKey)

	envStr("BOTSERVER_REDIS_ADDR", &c.Render.RedisAddr)

	envStr("BOTSERVER_HOST", &c.Gateway.Host)
	if v := os.Getenv("BOTSERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("BOTSERVER_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("BOTSERVER_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("BOTSERVER_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("BOTSERVER_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("BOTSERVER_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	if v := os.Getenv("BOTSERVER_ALLOWED_ORIGINS"); v != "" {
		c.Gateway.AllowedOrigins = strings.Split(v, ",")
	}

	envStr("BOTSERVER_TLS_CERT_FILE", &c.TLS.CertFile)
	envStr("BOTSERVER_TLS_KEY_FILE", &c.TLS.KeyFile)
	envStr("BOTSERVER_TLS_CLIENT_CA_FILE", &c.TLS.ClientCA)
	if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
		c.TLS.Enabled = true
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
// Call this after modifying config to restore runtime secrets from env vars.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file. Secrets (struct fields tagged
// json:"-") are never marshaled, so this is safe to write to disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
