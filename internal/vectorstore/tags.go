package vectorstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kkzk/remindmine/internal/jsonfile"
)

// TagRegistry records collection tags beside the store. Neither chromem
// nor Qdrant exposes collection metadata in a form we can read back, so
// tags live in a small JSON sidecar. An empty path keeps them in memory.
type TagRegistry struct {
	path string

	mu   sync.Mutex
	tags map[string]map[string]string
}

// OpenTagRegistry loads the registry at path.
func OpenTagRegistry(path string) (*TagRegistry, error) {
	r := &TagRegistry{path: path, tags: map[string]map[string]string{}}
	if path == "" {
		return r, nil
	}
	if err := jsonfile.Load(path, &r.tags); err != nil && !errors.Is(err, jsonfile.ErrNotFound) {
		return nil, fmt.Errorf("loading collection tags: %w", err)
	}
	if r.tags == nil {
		r.tags = map[string]map[string]string{}
	}
	return r, nil
}

// Get returns a copy of the tags of name.
func (r *TagRegistry) Get(name string) (map[string]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tags[name]
	if !ok {
		return nil, false
	}
	return copyTags(t), true
}

// SetIfAbsent records tags for name unless some are already recorded.
func (r *TagRegistry) SetIfAbsent(name string, tags map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tags[name]; ok {
		return nil
	}
	r.tags[name] = copyTags(tags)
	return r.flush()
}

// Delete forgets name.
func (r *TagRegistry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tags[name]; !ok {
		return nil
	}
	delete(r.tags, name)
	return r.flush()
}

func (r *TagRegistry) flush() error {
	if r.path == "" {
		return nil
	}
	if err := jsonfile.Save(r.path, r.tags); err != nil {
		return fmt.Errorf("saving collection tags: %w", err)
	}
	return nil
}

func copyTags(t map[string]string) map[string]string {
	out := make(map[string]string, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
