package config

// ChannelsConfig contains per-channel ingress configuration.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

type TelegramConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"-"` // env BOTSERVER_TELEGRAM_TOKEN only
	Proxy          string              `json:"proxy,omitempty"`
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`       // "open" (default), "allowlist", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	RequireMention *bool               `json:"require_mention,omitempty"` // require @bot mention in groups (default true)
	HistoryLimit   int                 `json:"history_limit,omitempty"`   // max pending group messages for context (default 50, 0=disabled)
	MediaMaxBytes  int64               `json:"media_max_bytes,omitempty"` // max media download size in bytes (default 20MB)
}

// WhatsAppConfig configures the Meta Cloud API webhook ingress.
type WhatsAppConfig struct {
	Enabled           bool                `json:"enabled"`
	PhoneNumberID     string              `json:"phone_number_id"`
	BusinessAccountID string              `json:"business_account_id,omitempty"`
	AccessToken       string              `json:"-"` // env BOTSERVER_WHATSAPP_ACCESS_TOKEN only
	VerifyToken       string              `json:"-"` // env BOTSERVER_WHATSAPP_VERIFY_TOKEN only, answers hub.verify_token
	AppSecret         string              `json:"-"` // env BOTSERVER_WHATSAPP_APP_SECRET only, validates X-Hub-Signature-256
	AllowFrom         FlexibleStringSlice `json:"allow_from"`
	DMPolicy          string              `json:"dm_policy,omitempty"`
	GroupPolicy       string              `json:"group_policy,omitempty"`
}
