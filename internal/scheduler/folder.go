package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FolderTarget is one script to run when its watched folder changes.
type FolderTarget struct {
	BotID      string
	FolderPath string
	ScriptPath string
}

// FolderWatcher drives the Folder trigger kind with fsnotify events on
// local directories. It does not poll mtimes, and object-storage prefixes
// are not watched.
type FolderWatcher struct {
	watcher *fsnotify.Watcher
	targets map[string]FolderTarget // keyed by folder path
	runner  ScriptRunner
	logger  *slog.Logger
}

// NewFolderWatcher opens the underlying inotify/kqueue handle.
func NewFolderWatcher(runner ScriptRunner, logger *slog.Logger) (*FolderWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FolderWatcher{
		watcher: w,
		targets: make(map[string]FolderTarget),
		runner:  runner,
		logger:  logger,
	}, nil
}

// Watch registers a folder/script pair and starts watching the folder.
func (f *FolderWatcher) Watch(target FolderTarget) error {
	if err := f.watcher.Add(target.FolderPath); err != nil {
		return err
	}
	f.targets[target.FolderPath] = target
	return nil
}

// Close releases the underlying watcher handle.
func (f *FolderWatcher) Close() error {
	return f.watcher.Close()
}

// Run drains fsnotify events until ctx is cancelled, firing the
// associated script on any create/write/rename event.
func (f *FolderWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			f.handleEvent(ctx, ev)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			if f.logger != nil {
				f.logger.Warn("folder watch error", "error", err)
			}
		}
	}
}

func (f *FolderWatcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	dir := filepath.Dir(ev.Name)
	target, ok := f.targets[dir]
	if !ok {
		return
	}
	if err := f.runner.RunScript(ctx, target.BotID, target.ScriptPath); err != nil && f.logger != nil {
		f.logger.Warn("folder-triggered script failed", "bot_id", target.BotID, "folder", dir, "error", err)
	}
}

// useWebsitePattern matches a BASIC-style `USE WEBSITE "<url>" REFRESH "<policy>"`
// line, with the REFRESH clause optional.
var useWebsitePattern = regexp.MustCompile(`(?i)USE\s+WEBSITE\s+"([^"]+)"(?:\s+REFRESH\s+"([^"]+)")?`)

// DiscoveredWebsite is one USE WEBSITE occurrence found in a bot's scripts.
type DiscoveredWebsite struct {
	BotID         string
	URL           string
	ExpiresPolicy string
}

// ScanForWebsiteDirectives walks every *.bas file under root and extracts
// USE WEBSITE directives for botID, returning those not already present
// in existing (matched by URL).
func ScanForWebsiteDirectives(root, botID string, existing map[string]bool) ([]DiscoveredWebsite, error) {
	var found []DiscoveredWebsite
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".bas") {
			return nil
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil // unreadable script file does not abort the whole scan
		}
		for _, m := range useWebsitePattern.FindAllStringSubmatch(string(content), -1) {
			url := m[1]
			if existing[url] {
				continue
			}
			policy := m[2]
			if policy == "" {
				policy = "1d"
			}
			found = append(found, DiscoveredWebsite{BotID: botID, URL: url, ExpiresPolicy: policy})
			existing[url] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
