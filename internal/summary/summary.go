// Package summary condenses an issue and its comments into a short
// current-state summary, cached until the issue content changes.
package summary

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/llm"
	"github.com/kkzk/remindmine/internal/tracker"
)

// ErrNothingToSummarize is returned for items without subject, description or comments.
var ErrNothingToSummarize = errors.New("nothing to summarize")

//go:embed prompts/summary.txt
var promptTemplate string

const placeholder = "{{ISSUE_AND_JOURNALS}}"

// Summarizer produces cached issue summaries.
type Summarizer struct {
	completer llm.Completer
	cache     *Cache
	signature string
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Summarizer. Comments containing signature (generated
// advice) are left out of both the prompt and the fingerprint.
func New(completer llm.Completer, cache *Cache, signature string, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{
		completer: completer,
		cache:     cache,
		signature: signature,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Summarizer) userNotes(item tracker.Item) []tracker.Journal {
	var out []tracker.Journal
	for _, j := range item.Journals {
		notes := strings.TrimSpace(j.Notes)
		if notes == "" {
			continue
		}
		if s.signature != "" && strings.Contains(notes, s.signature) {
			continue
		}
		out = append(out, tracker.Journal{Author: j.Author, Notes: notes, CreatedOn: j.CreatedOn})
	}
	return out
}

// Fingerprint hashes the parts of item the summary depends on.
func (s *Summarizer) Fingerprint(item tracker.Item) string {
	parts := []string{item.Subject, item.Description}
	for _, j := range s.userNotes(item) {
		parts = append(parts, j.Notes)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Input renders the text the model is asked to summarize.
func (s *Summarizer) Input(item tracker.Item) string {
	var parts []string
	if v := strings.TrimSpace(item.Subject); v != "" {
		parts = append(parts, "[Subject]\n"+v)
	}
	if v := strings.TrimSpace(item.Description); v != "" {
		parts = append(parts, "[Description]\n"+v)
	}
	if notes := s.userNotes(item); len(notes) > 0 {
		lines := make([]string, len(notes))
		for i, j := range notes {
			author := j.Author
			if author == "" {
				author = "Unknown"
			}
			lines[i] = "[" + author + "] " + j.Notes
		}
		parts = append(parts, "[Comments]\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// Summarize returns the summary of item, generating it when the cache
// holds none for the current content.
func (s *Summarizer) Summarize(ctx context.Context, item tracker.Item) (Entry, error) {
	hash := s.Fingerprint(item)
	if s.cache != nil {
		if e, ok := s.cache.Get(item.ID, hash); ok {
			s.logger.Debug("summary cache hit", zap.Int("issue_id", item.ID))
			return e, nil
		}
	}

	input := s.Input(item)
	if input == "" {
		return Entry{}, ErrNothingToSummarize
	}
	text, err := s.completer.Complete(ctx, strings.ReplaceAll(promptTemplate, placeholder, input))
	if err != nil {
		return Entry{}, fmt.Errorf("summarizing issue %d: %w", item.ID, err)
	}

	e := Entry{
		IssueID:      item.ID,
		ContentHash:  hash,
		Summary:      strings.TrimSpace(text),
		HasJournals:  len(item.Journals) > 0,
		JournalCount: len(item.Journals),
		CachedAt:     s.now().UTC(),
	}
	if s.cache != nil {
		if err := s.cache.Put(e); err != nil {
			s.logger.Warn("caching summary failed", zap.Int("issue_id", item.ID), zap.Error(err))
		}
	}
	return e, nil
}
