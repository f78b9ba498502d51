package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	payload := []byte("%PDF-1.7")
	uri, err := s.PutObject(context.Background(), "dce/24-1/abc.pdf", "application/pdf", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://dce/24-1/abc.pdf", uri)

	payload[0] = 'X'
	obj, ok := s.Get("dce/24-1/abc.pdf")
	require.True(t, ok)
	require.Equal(t, "%PDF-1.7", string(obj.Data))
	require.Equal(t, "application/pdf", obj.ContentType)
	require.Equal(t, []string{"dce/24-1/abc.pdf"}, s.Paths())

	_, ok = s.Get("missing")
	require.False(t, ok)
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
}
