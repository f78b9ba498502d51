package gcs

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type capturedUpload struct {
	mu    sync.Mutex
	path  string
	query string
	body  []byte
}

func newTestClient(t *testing.T, status int, capture *capturedUpload) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(
		context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{
			Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
				body, _ := io.ReadAll(r.Body)
				capture.mu.Lock()
				capture.path = r.URL.Path
				capture.query = r.URL.RawQuery
				capture.body = body
				capture.mu.Unlock()

				payload := `{"bucket":"dce-docs","name":"dce/24-1/abc.pdf"}`
				if status != http.StatusOK {
					payload = `{"error":{"code":412,"message":"conditionNotMet"}}`
				}
				return &http.Response{
					StatusCode: status,
					Body:       io.NopCloser(strings.NewReader(payload)),
					Header:     http.Header{"Content-Type": {"application/json"}},
					Request:    r,
				}, nil
			}),
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := newTestClient(t, http.StatusOK, &capturedUpload{})
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsToBucket(t *testing.T) {
	t.Parallel()

	capture := &capturedUpload{}
	s, err := New(newTestClient(t, http.StatusOK, capture), Config{Bucket: "dce-docs"})
	require.NoError(t, err)

	uri, err := s.PutObject(context.Background(), "dce/24-1/abc.pdf", "application/pdf", bytes.NewReader([]byte("%PDF-1.7 body")))
	require.NoError(t, err)
	require.Equal(t, "gs://dce-docs/dce/24-1/abc.pdf", uri)

	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Contains(t, capture.path, "/b/dce-docs/o")
	require.Contains(t, capture.query, "ifGenerationMatch=0")
	require.Contains(t, string(capture.body), "%PDF-1.7 body")
	require.Contains(t, string(capture.body), "application/pdf")
}

func TestPutObjectTreatsExistingObjectAsStored(t *testing.T) {
	t.Parallel()

	s, err := New(newTestClient(t, http.StatusPreconditionFailed, &capturedUpload{}), Config{Bucket: "dce-docs"})
	require.NoError(t, err)

	uri, err := s.PutObject(context.Background(), "dce/24-1/abc.pdf", "application/pdf", bytes.NewReader([]byte("%PDF")))
	require.NoError(t, err)
	require.Equal(t, "gs://dce-docs/dce/24-1/abc.pdf", uri)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	s, err := New(newTestClient(t, http.StatusOK, &capturedUpload{}), Config{Bucket: "dce-docs"})
	require.NoError(t, err)
	_, err = s.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
}
