// Package scheduler implements the automation scheduler: a single
// coordinator loop dispatching cron, email, folder, table, and webhook
// triggered scripts through the script-evaluation bridge, plus the
// USE WEBSITE auto-registration scan and the website-crawl-row dispatch
// that hands work to the crawler.
package scheduler

import (
	"time"
)

// TriggerKind is an Automation's trigger source.
type TriggerKind string

const (
	TriggerScheduled     TriggerKind = "scheduled"
	TriggerTableInsert   TriggerKind = "table_insert"
	TriggerTableUpdate   TriggerKind = "table_update"
	TriggerTableDelete   TriggerKind = "table_delete"
	TriggerWebhook       TriggerKind = "webhook"
	TriggerEmailReceived TriggerKind = "email_received"
	TriggerFolderChange  TriggerKind = "folder_change"
)

// Automation is one scheduled unit of work.
type Automation struct {
	ID            string
	BotID         string
	Kind          TriggerKind
	Schedule      string // cron expression, only for TriggerScheduled
	Target        string // e.g. table name, webhook path suffix, folder prefix
	Param         string // script path to run
	LastTriggered *time.Time
	NextFireAt    *time.Time
	Running       bool
	LastError     string
	Failures      int // consecutive failures, drives retry backoff
}

// EmailMonitor is an (bot_id, email_address) upsert target for ON EMAIL
// registrations.
type EmailMonitor struct {
	BotID         string
	EmailAddress  string
	LastUID       int64
	FilterFrom    string
	FilterSubject string
}

// ReadyToFire reports whether the automation is due: not currently
// running, and next_fire_at <= now.
func (a *Automation) ReadyToFire(now time.Time) bool {
	if a.Running {
		return false
	}
	return a.NextFireAt == nil || !a.NextFireAt.After(now)
}
