package vectorstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkzk/remindmine/internal/config"
)

func TestNewStore(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Dir = t.TempDir()
	cfg.VectorStore.Path = filepath.Join(cfg.Data.Dir, "chromadb")

	s, err := NewStore(cfg, nil)
	require.NoError(t, err)
	_, ok := s.(*ChromemStore)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	cfg.VectorStore.Provider = "pinecone"
	_, err = NewStore(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
