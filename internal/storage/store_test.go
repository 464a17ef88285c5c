package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "chatbot-messages")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "chatbot-messages", `[{"user":"q","bot":"a"}]`))
	require.NoError(t, s.Set(ctx, "chatbot-welcome-shown", "true"))

	v, ok, err := s.Get(ctx, "chatbot-messages")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[{"user":"q","bot":"a"}]`, v)

	require.NoError(t, s.Delete(ctx, "chatbot-messages"))
	require.NoError(t, s.Delete(ctx, "never-set"))
	_, ok, err = s.Get(ctx, "chatbot-messages")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.msgpack")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	exerciseStore(t, s)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	v, ok, err := reopened.Get(context.Background(), "chatbot-welcome-shown")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.msgpack")
	require.NoError(t, os.WriteFile(path, []byte{0xc1, 0xff, 0x00}, 0o600))

	_, err := NewFileStore(path)
	assert.Error(t, err)
}

func TestOpenPicksBackend(t *testing.T) {
	s, err := Open(context.Background(), "", t.TempDir(), "alice")
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), "redis://%zz", t.TempDir(), "alice")
	assert.Error(t, err)
}

func TestRedisKeyPrefix(t *testing.T) {
	assert.Equal(t, "cafe:alice:", keyPrefix("alice"))
	assert.Equal(t, "cafe:anonymous:", keyPrefix(""))
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("CAFE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CAFE_TEST_REDIS_URL not set")
	}
	s, err := NewRedisStore(context.Background(), url, "cafe-test")
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}
