package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Marches.Example.FR/avis", "marches.example.fr"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, tierAttemptsTotal)
	require.NotNil(t, acquisitionsTotal)
	require.NotNil(t, httpRequestsTotal)
}

func TestObserveTierAttempt(t *testing.T) {
	Init()
	before := testutil.ToFloat64(tierAttemptsTotal.WithLabelValues("test_tier", "fail"))
	ObserveTierAttempt("test_tier", "fail")
	ObserveTierAttempt("test_tier", "fail")
	require.InDelta(t, before+2, testutil.ToFloat64(tierAttemptsTotal.WithLabelValues("test_tier", "fail")), 0.001)
}

func TestObserveAcquisitionDefaultsMethod(t *testing.T) {
	Init()
	before := testutil.ToFloat64(acquisitionsTotal.WithLabelValues("failure", "none"))
	ObserveAcquisition("failure", "", 0, time.Second)
	require.InDelta(t, before+1, testutil.ToFloat64(acquisitionsTotal.WithLabelValues("failure", "none")), 0.001)
	require.Positive(t, testutil.CollectAndCount(acquisitionDurationSeconds))
}

func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://www.marches-publics.gouv.fr", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
