// Package ledger keeps generated advice that is waiting for a human to
// approve or reject it.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/jsonfile"
	"github.com/kkzk/remindmine/internal/tracker"
)

// ErrNotFound is returned when no entry has the requested id.
var ErrNotFound = errors.New("pending advice not found")

const unknown = "Unknown"

// Entry is one pending advice record.
type Entry struct {
	ID               string    `json:"id"`
	IssueID          int       `json:"issue_id"`
	IssueSubject     string    `json:"issue_subject"`
	IssueDescription string    `json:"issue_description"`
	AdviceContent    string    `json:"advice_content"`
	CreatedAt        time.Time `json:"created_at"`
	IssueURL         string    `json:"issue_url"`
	ProjectName      string    `json:"project_name"`
	TrackerName      string    `json:"tracker_name"`
	PriorityName     string    `json:"priority_name"`
	StatusName       string    `json:"status_name"`
}

// EntryID is the ledger id of an item.
func EntryID(itemID int) string {
	return strconv.Itoa(itemID)
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

// Ledger is a JSON-backed map of pending advice keyed by item id.
// Every mutation is written through before it returns.
type Ledger struct {
	path    string
	itemURL func(int) string
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

// Open loads the ledger at path. An unreadable document is logged and
// replaced by an empty ledger on the next write. itemURL may be nil.
func Open(path string, itemURL func(int) string, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		path:    path,
		itemURL: itemURL,
		logger:  logger,
		now:     time.Now,
		entries: map[string]Entry{},
	}

	var stored map[string]Entry
	if err := jsonfile.Load(path, &stored); err != nil {
		if !errors.Is(err, jsonfile.ErrNotFound) {
			logger.Warn("pending advice unreadable, starting empty", zap.String("path", path), zap.Error(err))
		}
		return l
	}
	for id, e := range stored {
		l.entries[id] = e
	}
	logger.Info("loaded pending advice", zap.Int("count", len(l.entries)))
	return l
}

// Add stores text as the pending advice for item, replacing any previous
// entry for the same item. Returns the entry id.
func (l *Ledger) Add(item tracker.Item, text string) (string, error) {
	if err := item.Validate(); err != nil {
		return "", err
	}

	e := Entry{
		ID:               EntryID(item.ID),
		IssueID:          item.ID,
		IssueSubject:     item.Subject,
		IssueDescription: item.Description,
		AdviceContent:    text,
		CreatedAt:        l.now().UTC(),
		ProjectName:      orUnknown(item.Project),
		TrackerName:      orUnknown(item.Tracker),
		PriorityName:     orUnknown(item.Priority),
		StatusName:       orUnknown(item.Status),
	}
	if e.IssueSubject == "" {
		e.IssueSubject = "No subject"
	}
	if e.IssueDescription == "" {
		e.IssueDescription = "No description"
	}
	if l.itemURL != nil {
		e.IssueURL = l.itemURL(item.ID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev, replaced := l.entries[e.ID]
	l.entries[e.ID] = e
	if err := l.flush(); err != nil {
		if replaced {
			l.entries[e.ID] = prev
		} else {
			delete(l.entries, e.ID)
		}
		return "", err
	}

	if replaced {
		l.logger.Info("replaced pending advice", zap.Int("issue_id", item.ID))
	} else {
		l.logger.Info("added pending advice", zap.Int("issue_id", item.ID))
	}
	return e.ID, nil
}

// Get returns the entry with id.
func (l *Ledger) Get(id string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// GetAll returns every entry, newest first.
func (l *Ledger) GetAll() []Entry {
	l.mu.RLock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].IssueID > out[j].IssueID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of pending entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Approve removes and returns the entry with id. The caller is
// responsible for publishing it.
func (l *Ledger) Approve(id string) (Entry, error) {
	e, err := l.remove(id)
	if err == nil {
		l.logger.Info("approved pending advice", zap.Int("issue_id", e.IssueID))
	}
	return e, err
}

// Reject removes and returns the entry with id.
func (l *Ledger) Reject(id string) (Entry, error) {
	e, err := l.remove(id)
	if err == nil {
		l.logger.Info("rejected pending advice", zap.Int("issue_id", e.IssueID))
	}
	return e, err
}

func (l *Ledger) remove(id string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(l.entries, id)
	if err := l.flush(); err != nil {
		l.entries[id] = e
		return Entry{}, err
	}
	return e, nil
}

// ClearAll removes every entry and returns how many there were.
func (l *Ledger) ClearAll() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.entries
	n := len(prev)
	l.entries = map[string]Entry{}
	if err := l.flush(); err != nil {
		l.entries = prev
		return 0, err
	}
	l.logger.Info("cleared pending advice", zap.Int("count", n))
	return n, nil
}

// flush must be called with mu held.
func (l *Ledger) flush() error {
	if err := jsonfile.Save(l.path, l.entries); err != nil {
		return fmt.Errorf("saving pending advice: %w", err)
	}
	return nil
}
