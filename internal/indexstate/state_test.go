package indexstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/kkzk/remindmine/internal/logging"
)

func TestState_Helpers(t *testing.T) {
	st := New()
	assert.Equal(t, SchemaVersion, st.Version)
	assert.Empty(t, st.IDs())

	st.Put(20, ItemState{Hash: "b", ChunkCount: 2})
	st.Put(3, ItemState{Hash: "a", ChunkCount: 1})
	st.Issues["bogus"] = ItemState{}

	assert.Equal(t, []int{3, 20}, st.IDs())
	e, ok := st.Get(20)
	require.True(t, ok)
	assert.Equal(t, 2, e.ChunkCount)

	st.Delete(20)
	_, ok = st.Get(20)
	assert.False(t, ok)

	st.Reset("nomic-embed-text", 768)
	assert.Equal(t, 0, st.Len())
	assert.True(t, st.ModelMatches("nomic-embed-text", 768))
	assert.False(t, st.ModelMatches("nomic-embed-text", 1024))
	assert.False(t, st.ModelMatches("other", 768))
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "index_state.json"), nil)
	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Len())
	assert.Equal(t, "", st.EmbeddingModel)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "index_state.json")
	s := NewStore(path, nil)

	st := New()
	st.Reset("llama3.2", 3072)
	st.Put(10, ItemState{Hash: "h10", ChunkCount: 1, UpdatedOn: "2024-05-01T00:00:00Z"})
	require.NoError(t, s.Save(st))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"issues"`)
	assert.Contains(t, string(raw), `"10"`)
	assert.Contains(t, string(raw), `"embedding_dimension": 3072`)
	assert.Contains(t, string(raw), `"version": 1`)

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, st, loaded)
}

func TestStore_CorruptFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"issues": [`), 0o600))

	tl := logging.NewTestLogger()
	s := NewStore(path, tl.Underlying())
	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Len())
	tl.AssertLogged(t, zapcore.WarnLevel, "index state unreadable")
}
