// Package indexstate persists what the indexer has already embedded: one
// fingerprint entry per item plus the embedding model that built the
// collection.
package indexstate

import (
	"errors"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/jsonfile"
)

// SchemaVersion is the current document version.
const SchemaVersion = 1

// ItemState is the per-item record.
type ItemState struct {
	Hash       string `json:"hash"`
	ChunkCount int    `json:"chunk_count"`
	UpdatedOn  string `json:"updated_on"`
}

// State is the whole index state document.
type State struct {
	Issues             map[string]ItemState `json:"issues"`
	EmbeddingModel     string               `json:"embedding_model"`
	EmbeddingDimension int                  `json:"embedding_dimension"`
	Version            int                  `json:"version"`
}

// New returns an empty state.
func New() *State {
	return &State{Issues: map[string]ItemState{}, Version: SchemaVersion}
}

func key(id int) string { return strconv.Itoa(id) }

// Get returns the entry of id.
func (s *State) Get(id int) (ItemState, bool) {
	e, ok := s.Issues[key(id)]
	return e, ok
}

// Put records id.
func (s *State) Put(id int, e ItemState) {
	if s.Issues == nil {
		s.Issues = map[string]ItemState{}
	}
	s.Issues[key(id)] = e
}

// Delete drops id.
func (s *State) Delete(id int) { delete(s.Issues, key(id)) }

// IDs returns the known item ids in ascending order. Keys that are not
// integers are ignored.
func (s *State) IDs() []int {
	ids := make([]int, 0, len(s.Issues))
	for k := range s.Issues {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Len is the number of indexed items.
func (s *State) Len() int { return len(s.Issues) }

// Reset clears every entry and records model and dim.
func (s *State) Reset(model string, dim int) {
	s.Issues = map[string]ItemState{}
	s.EmbeddingModel = model
	s.EmbeddingDimension = dim
	s.Version = SchemaVersion
}

// ModelMatches reports whether the collection was built with model and dim.
func (s *State) ModelMatches(model string, dim int) bool {
	return s.EmbeddingModel == model && s.EmbeddingDimension == dim
}

// Store reads and writes the state document at one path.
type Store struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewStore returns a Store for path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Path is the document location.
func (s *Store) Path() string { return s.path }

// Load reads the document. A missing or unreadable document yields an
// empty state.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := New()
	if err := jsonfile.Load(s.path, st); err != nil {
		if !errors.Is(err, jsonfile.ErrNotFound) {
			s.logger.Warn("index state unreadable, starting empty", zap.String("path", s.path), zap.Error(err))
		}
		return New(), nil
	}
	if st.Issues == nil {
		st.Issues = map[string]ItemState{}
	}
	return st, nil
}

// Save atomically replaces the document.
func (s *Store) Save(st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.Version == 0 {
		st.Version = SchemaVersion
	}
	return jsonfile.Save(s.path, st)
}
