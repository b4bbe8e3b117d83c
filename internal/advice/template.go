package advice

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Template placeholders.
const (
	PlaceholderIssue   = "{{ISSUE_DESCRIPTION}}"
	PlaceholderContext = "{{CONTEXT}}"
	PlaceholderURL     = "{{REDMINE_URL}}"
)

//go:embed prompts/advice.txt
var defaultTemplate string

// DefaultTemplate returns the built-in advice prompt.
func DefaultTemplate() string { return defaultTemplate }

// Render substitutes the placeholders of tmpl.
func Render(tmpl, issue, context, trackerURL string) string {
	return strings.NewReplacer(
		PlaceholderIssue, issue,
		PlaceholderContext, context,
		PlaceholderURL, strings.TrimRight(trackerURL, "/"),
	).Replace(tmpl)
}

// Templates serves the current advice prompt. With a file path set, the
// file overrides the built-in prompt and Watch reloads it on change.
type Templates struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	text    string
	watcher *fsnotify.Watcher
}

// NewTemplates loads the prompt from path, or the built-in prompt when
// path is empty. An unreadable file falls back to the built-in prompt.
func NewTemplates(path string, logger *zap.Logger) *Templates {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Templates{path: path, logger: logger, text: defaultTemplate}
	if path != "" {
		if err := t.reload(); err != nil {
			logger.Warn("advice template unreadable, using built-in", zap.String("path", path), zap.Error(err))
		}
	}
	return t
}

// Current returns the active prompt.
func (t *Templates) Current() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.text
}

func (t *Templates) reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return err
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return errors.New("template is empty")
	}
	t.mu.Lock()
	t.text = text
	t.mu.Unlock()
	return nil
}

// Watch reloads the template file whenever it changes, until ctx is done
// or Close is called. It is a no-op without a file path.
func (t *Templates) Watch(ctx context.Context) error {
	if t.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating template watcher: %w", err)
	}
	// Watch the directory: editors replace files by rename.
	if err := w.Add(filepath.Dir(t.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(t.path), err)
	}

	t.mu.Lock()
	t.watcher = w
	t.mu.Unlock()

	go t.loop(ctx, w)
	return nil
}

func (t *Templates) loop(ctx context.Context, w *fsnotify.Watcher) {
	target := filepath.Clean(t.path)
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := t.reload(); err != nil {
				t.logger.Warn("advice template reload failed, keeping previous", zap.Error(err))
				continue
			}
			t.logger.Info("advice template reloaded", zap.String("path", t.path))
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			t.logger.Warn("advice template watcher error", zap.Error(err))
		}
	}
}

// Close stops watching.
func (t *Templates) Close() error {
	t.mu.Lock()
	w := t.watcher
	t.watcher = nil
	t.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}
