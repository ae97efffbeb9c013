package filestore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragpipe/internal/config"
	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)

	key := KeyFor("a.txt")
	require.NoError(t, SaveBytes(ctx, s, key, []byte("hello world")))
	data, err := ReadAll(ctx, s, key)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	require.NoError(t, SaveBytes(ctx, s, key, []byte("v2")))
	data, err = ReadAll(ctx, s, key)
	require.NoError(t, err)
	require.Equal(t, "v2", string(data))
}

func TestLocalStoreMissing(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	_, err := s.Open(context.Background(), KeyFor("nope"))
	require.True(t, errors.Is(err, appErr.ErrNotFound))
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	err := SaveBytes(context.Background(), s, "../x", []byte("x"))
	require.True(t, errors.Is(err, appErr.ErrInvalid))
}

func TestKeyFor(t *testing.T) {
	require.Equal(t, KeyFor("a.txt"), KeyFor("a.txt"))
	require.NotEqual(t, KeyFor("a.txt"), KeyFor("b.txt"))
	require.Len(t, KeyFor("a.txt"), 64)
}

func TestBuildEndpoint(t *testing.T) {
	require.Equal(t, "https://s3.local:9000", buildEndpoint("s3.local:9000", true))
	require.Equal(t, "http://s3.local", buildEndpoint("s3.local", false))
	require.Equal(t, "http://x", buildEndpoint("http://x", true))
}

func TestUnsupportedStore(t *testing.T) {
	_, err := New(config.FileStoreConfig{Type: "ftp"})
	require.Error(t, err)
}
