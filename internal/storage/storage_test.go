package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"testing"

	"github.com/ecosort/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBackend struct {
	objects      map[string][]byte
	contentTypes map[string]string
	putErr       error
	closed       bool
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (m *memoryBackend) EnsureBucket(context.Context) error { return nil }

func (m *memoryBackend) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	m.objects[key] = data
	m.contentTypes[key] = contentType
	return nil
}

func (m *memoryBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryBackend) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryBackend) Bucket() string { return "test-bucket" }

func (m *memoryBackend) Close() error {
	m.closed = true
	return nil
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func TestPutImageStoresUnderUserPrefix(t *testing.T) {
	backend := newMemoryBackend()
	s := NewStorage(backend)

	key, err := s.PutImage(context.Background(), 7, pngHeader)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^analyses/7/[0-9a-f-]{36}\.png$`), key)
	assert.Equal(t, "image/png", backend.contentTypes[key])

	rc, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)

	require.NoError(t, s.Delete(context.Background(), key))
	assert.Empty(t, backend.objects)
	assert.Equal(t, "test-bucket", s.Bucket())

	_, err = s.Get(context.Background(), key)
	require.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, s.Close())
	assert.True(t, backend.closed)
}

func TestPutImageWrapsBackendError(t *testing.T) {
	backend := newMemoryBackend()
	backend.putErr = errors.New("bucket offline")

	_, err := NewStorage(backend).PutImage(context.Background(), 1, []byte("raw"))
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.putErr)
}

func TestImageKeysAreUnique(t *testing.T) {
	a := ImageKey(1, "image/jpeg")
	b := ImageKey(1, "image/jpeg")
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `\.jpg$`, a)
	assert.Regexp(t, `\.bin$`, ImageKey(1, "application/octet-stream"))
}

func TestContentTypeForMatchesImageKey(t *testing.T) {
	for _, contentType := range []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp"} {
		assert.Equal(t, contentType, ContentTypeFor(ImageKey(3, contentType)))
	}
	assert.Equal(t, "application/octet-stream", ContentTypeFor("analyses/3/x.bin"))
}

func TestOpenDisabled(t *testing.T) {
	s, err := Open(context.Background(), config.StorageConfig{Driver: config.DriverNone})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestOpenValidatesMinioConfig(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Driver: config.DriverMinio})
	require.Error(t, err)

	_, err = Open(context.Background(), config.StorageConfig{Driver: "ftp"})
	require.Error(t, err)
}
