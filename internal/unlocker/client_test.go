package unlocker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
	"github.com/olam-creations/lefilonao-sub001/internal/cache"
)

const renderedPage = `<html><body>
<a href="/cgu">CGU</a>
<a href="/docs/annexe.docx">Annexe</a>
<a href="/docs/dce.zip">Télécharger le DCE</a>
<a href="/docs/rc.pdf">Règlement</a>
</body></html>`

func newUnlockServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != unlockPath || r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		var req unlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch {
		case req.Format == "html" && req.Render:
			w.Header().Set("X-Final-Url", "https://platform.example.fr/consultation/9")
			_, _ = w.Write([]byte(renderedPage))
		case req.Format == "raw" && req.URL == "https://platform.example.fr/empty":
			w.WriteHeader(http.StatusOK)
		case req.Format == "raw":
			_, _ = w.Write([]byte("%PDF-1.5 unlocked"))
		default:
			http.Error(w, "bad format", http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchRawCachesResults(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newUnlockServer(t, &calls)
	c, err := New(Config{BaseURL: srv.URL, APIKey: "secret"}, srv.Client(), cache.NewLRU[[]byte](8, time.Minute), nil, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		body, err := c.FetchRaw(context.Background(), "https://platform.example.fr/dce.pdf")
		require.NoError(t, err)
		require.Equal(t, []byte("%PDF-1.5 unlocked"), body)
	}
	require.EqualValues(t, 1, calls.Load())
}

func TestFetchRawEmptyBodyIsNil(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newUnlockServer(t, &calls)
	c, err := New(Config{BaseURL: srv.URL, APIKey: "secret"}, srv.Client(), nil, nil, nil)
	require.NoError(t, err)

	body, err := c.FetchRaw(context.Background(), "https://platform.example.fr/empty")
	require.NoError(t, err)
	require.Nil(t, body)
}

func TestFetchRawReportsUpstreamStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newUnlockServer(t, &calls)
	c, err := New(Config{BaseURL: srv.URL, APIKey: "wrong"}, srv.Client(), nil, nil, nil)
	require.NoError(t, err)

	_, err = c.FetchRaw(context.Background(), "https://platform.example.fr/dce.pdf")
	require.ErrorContains(t, err, "status 403")
}

func TestDiscoverLinksRanksRenderedPage(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newUnlockServer(t, &calls)
	c, err := New(Config{BaseURL: srv.URL, APIKey: "secret", MaxLinks: 2}, srv.Client(),
		nil, cache.NewLRU[[]acquisition.NamedLink](8, time.Minute), nil)
	require.NoError(t, err)

	links, err := c.DiscoverLinks(context.Background(), "https://platform.example.fr/consultation/9")
	require.NoError(t, err)
	require.Equal(t, []acquisition.NamedLink{
		{Name: "Télécharger le DCE", URL: "https://platform.example.fr/docs/dce.zip"},
		{Name: "Règlement", URL: "https://platform.example.fr/docs/rc.pdf"},
	}, links)

	_, err = c.DiscoverLinks(context.Background(), "https://platform.example.fr/consultation/9")
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil, nil, nil)
	require.Error(t, err)
}
