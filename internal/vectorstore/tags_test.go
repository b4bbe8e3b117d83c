package vectorstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagRegistry_PersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.json")

	r, err := OpenTagRegistry(path)
	require.NoError(t, err)
	_, ok := r.Get("c")
	assert.False(t, ok)

	require.NoError(t, r.SetIfAbsent("c", map[string]string{"k": "v"}))
	require.NoError(t, r.SetIfAbsent("c", map[string]string{"k": "ignored"}))

	r2, err := OpenTagRegistry(path)
	require.NoError(t, err)
	tags, ok := r2.Get("c")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"k": "v"}, tags)

	// Returned maps are copies.
	tags["k"] = "mutated"
	again, _ := r2.Get("c")
	assert.Equal(t, "v", again["k"])

	require.NoError(t, r2.Delete("c"))
	require.NoError(t, r2.Delete("c"))
	r3, err := OpenTagRegistry(path)
	require.NoError(t, err)
	_, ok = r3.Get("c")
	assert.False(t, ok)
}

func TestTagRegistry_InMemory(t *testing.T) {
	r, err := OpenTagRegistry("")
	require.NoError(t, err)
	require.NoError(t, r.SetIfAbsent("c", map[string]string{"k": "v"}))
	tags, ok := r.Get("c")
	assert.True(t, ok)
	assert.Equal(t, "v", tags["k"])
}

func TestTagRegistry_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := OpenTagRegistry(path)
	assert.Error(t, err)
}
