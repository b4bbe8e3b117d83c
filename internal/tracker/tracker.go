// Package tracker defines the issue-tracker boundary: the typed item record
// mirrored into the index and the Source interface that produces it.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Sentinel errors for tracker operations.
var (
	// ErrInvalidItem indicates a record failed validation at the boundary.
	ErrInvalidItem = errors.New("invalid item")

	// ErrItemNotFound is returned when the tracker has no item with the requested id.
	ErrItemNotFound = errors.New("item not found")

	// ErrInvalidConfig indicates invalid client configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrRequestFailed indicates a non-success response from the tracker.
	ErrRequestFailed = errors.New("tracker request failed")
)

// Journal is one comment entry on an item.
type Journal struct {
	ID        int       `json:"id"`
	Author    string    `json:"author"`
	Notes     string    `json:"notes"`
	CreatedOn time.Time `json:"created_on"`
}

// Item is a tracker record with the fields the indexer and advice
// pipeline consume. Name fields are empty when the tracker omits them.
type Item struct {
	ID          int       `json:"id"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	Tracker     string    `json:"tracker"`
	Project     string    `json:"project"`
	Author      string    `json:"author"`
	CreatedOn   time.Time `json:"created_on"`
	UpdatedOn   time.Time `json:"updated_on"`
	Journals    []Journal `json:"journals"`
}

// Validate checks the invariants the indexer relies on.
func (i Item) Validate() error {
	if i.ID <= 0 {
		return fmt.Errorf("%w: id must be positive, got %d", ErrInvalidItem, i.ID)
	}
	return nil
}

// HasMarker reports whether any journal note contains marker.
func (i Item) HasMarker(marker string) bool {
	if marker == "" {
		return false
	}
	for _, j := range i.Journals {
		if strings.Contains(j.Notes, marker) {
			return true
		}
	}
	return false
}

// Source is the source-of-truth client.
type Source interface {
	// ListAllItems returns every item regardless of status.
	ListAllItems(ctx context.Context) ([]Item, error)

	// ListItemsSince returns items created at or after since.
	ListItemsSince(ctx context.Context, since time.Time) ([]Item, error)

	// GetItem returns a single item including its journals.
	GetItem(ctx context.Context, id int) (*Item, error)

	// PostComment appends a comment to an item.
	PostComment(ctx context.Context, id int, text string) error

	// HasMarkerComment reports whether the item already carries a comment containing marker.
	HasMarkerComment(ctx context.Context, id int, marker string) (bool, error)

	// ItemURL returns the browser URL of an item.
	ItemURL(id int) string
}

// SortByCreated orders items by creation time, oldest first, with id as tie breaker.
func SortByCreated(items []Item) {
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].CreatedOn.Equal(items[b].CreatedOn) {
			return items[a].ID < items[b].ID
		}
		return items[a].CreatedOn.Before(items[b].CreatedOn)
	})
}

// validItems drops records that fail validation and reports how many were dropped.
func validItems(items []Item) ([]Item, int) {
	out := items[:0]
	dropped := 0
	for _, it := range items {
		if err := it.Validate(); err != nil {
			dropped++
			continue
		}
		out = append(out, it)
	}
	return out, dropped
}
