package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Fake is an in-memory Source.
type Fake struct {
	BaseURL string

	mu       sync.Mutex
	items    map[int]Item
	listErr  error
	postErr  error
	comments map[int][]string
}

// NewFake returns a Fake holding items.
func NewFake(items ...Item) *Fake {
	f := &Fake{
		BaseURL:  "http://redmine.test",
		items:    map[int]Item{},
		comments: map[int][]string{},
	}
	for _, it := range items {
		f.items[it.ID] = it
	}
	return f
}

// Put adds or replaces an item.
func (f *Fake) Put(it Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[it.ID] = it
}

// Remove deletes an item.
func (f *Fake) Remove(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, id)
}

// FailList makes listing calls return err.
func (f *Fake) FailList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// FailPost makes PostComment return err.
func (f *Fake) FailPost(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postErr = err
}

// Comments returns the comments posted to id.
func (f *Fake) Comments(id int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.comments[id]...)
}

func (f *Fake) sorted() []Item {
	out := make([]Item, 0, len(f.items))
	for _, it := range f.items {
		out = append(out, it)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (f *Fake) ListAllItems(context.Context) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.sorted(), nil
}

func (f *Fake) ListItemsSince(_ context.Context, since time.Time) ([]Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Item
	for _, it := range f.sorted() {
		if !it.CreatedOn.Before(since) {
			out = append(out, it)
		}
	}
	SortByCreated(out)
	return out, nil
}

func (f *Fake) GetItem(_ context.Context, id int) (*Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	return &it, nil
}

func (f *Fake) PostComment(_ context.Context, id int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	it, ok := f.items[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrItemNotFound, id)
	}
	it.Journals = append(it.Journals, Journal{Notes: text, CreatedOn: time.Now().UTC()})
	f.items[id] = it
	f.comments[id] = append(f.comments[id], text)
	return nil
}

func (f *Fake) HasMarkerComment(ctx context.Context, id int, marker string) (bool, error) {
	it, err := f.GetItem(ctx, id)
	if err != nil {
		return false, err
	}
	return it.HasMarker(marker), nil
}

func (f *Fake) ItemURL(id int) string {
	return fmt.Sprintf("%s/issues/%d", strings.TrimRight(f.BaseURL, "/"), id)
}
