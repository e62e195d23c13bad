package scheduler

import (
	"context"
	"sort"
	"strings"
)

// EmailMessage is one fetched message above a monitor's last_uid.
type EmailMessage struct {
	UID     int64
	From    string
	Subject string
	Body    string
}

// EmailPoller fetches messages with UID > lastUID for one monitor.
// Callers wire a real IMAP/Exchange implementation in production; this
// package ships only the mock used by tests and standalone-mode
// deployments without a configured mailbox.
type EmailPoller interface {
	Poll(ctx context.Context, monitor EmailMonitor) ([]EmailMessage, error)
}

// MockEmailPoller returns a fixed, test-controlled message set.
type MockEmailPoller struct {
	Messages map[string][]EmailMessage // keyed by bot_id+"|"+email_address
}

func NewMockEmailPoller() *MockEmailPoller {
	return &MockEmailPoller{Messages: make(map[string][]EmailMessage)}
}

func (m *MockEmailPoller) Poll(ctx context.Context, monitor EmailMonitor) ([]EmailMessage, error) {
	var out []EmailMessage
	for _, msg := range m.Messages[monitorKey(monitor.BotID, monitor.EmailAddress)] {
		if msg.UID > monitor.LastUID {
			out = append(out, msg)
		}
	}
	return out, nil
}

// matchesFilters applies filter_from (substring) and filter_subject
// (case-insensitive substring).
func matchesFilters(msg EmailMessage, monitor EmailMonitor) bool {
	if monitor.FilterFrom != "" && !strings.Contains(msg.From, monitor.FilterFrom) {
		return false
	}
	if monitor.FilterSubject != "" && !strings.Contains(strings.ToLower(msg.Subject), strings.ToLower(monitor.FilterSubject)) {
		return false
	}
	return true
}

// PollEmailMonitors polls every registered monitor and dispatches surviving
// events, in UID order, to the script runner through EmailReceived
// automations. Dispatch stops at the first failed UID and last_uid advances
// only over the fully processed prefix, so the failed UID and every later
// one are fetched again on the next poll.
func (c *Coordinator) PollEmailMonitors(ctx context.Context) {
	c.mu.Lock()
	monitors := make([]*EmailMonitor, 0, len(c.monitors))
	for _, m := range c.monitors {
		monitors = append(monitors, m)
	}
	c.mu.Unlock()

	for _, monitor := range monitors {
		c.pollOneMonitor(ctx, monitor)
	}
}

func (c *Coordinator) pollOneMonitor(ctx context.Context, monitor *EmailMonitor) {
	messages, err := c.poller.Poll(ctx, *monitor)
	if err != nil {
		c.logWarn("email poll failed", "bot_id", monitor.BotID, "address", monitor.EmailAddress, "error", err)
		return
	}

	c.mu.Lock()
	scriptPath := ""
	for _, a := range c.automations {
		if a.Kind == TriggerEmailReceived && a.BotID == monitor.BotID && a.Target == monitor.EmailAddress {
			scriptPath = a.Param
			break
		}
	}
	c.mu.Unlock()
	if scriptPath == "" {
		return
	}

	// Dispatch in UID order and stop at the first failure: the watermark
	// only ever covers a fully-processed prefix, so the next poll retries
	// the failed UID (and everything after it) without re-dispatching
	// anything already covered.
	sort.Slice(messages, func(i, j int) bool { return messages[i].UID < messages[j].UID })

	maxProcessed := monitor.LastUID
	for _, msg := range messages {
		if !matchesFilters(msg, *monitor) {
			if msg.UID > maxProcessed {
				maxProcessed = msg.UID
			}
			continue
		}
		if err := c.runner.RunScript(ctx, monitor.BotID, scriptPath); err != nil {
			c.logWarn("email-triggered script failed", "bot_id", monitor.BotID, "uid", msg.UID, "error", err)
			break
		}
		if msg.UID > maxProcessed {
			maxProcessed = msg.UID
		}
	}

	c.mu.Lock()
	if m, ok := c.monitors[monitorKey(monitor.BotID, monitor.EmailAddress)]; ok && maxProcessed > m.LastUID {
		m.LastUID = maxProcessed
	}
	c.mu.Unlock()
}
