package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterPacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.achatpublic.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://WWW.achatpublic.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, 1, l.Hosts())
}

func TestLimiterSeparatesHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Wait(ctx, "https://a.example/x"))
	require.NoError(t, l.Wait(ctx, "https://b.example/x"))
	require.Equal(t, 2, l.Hosts())
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.01, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.example/x"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://a.example/y"))
}

func TestDisabledLimiterNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(ctx, "https://a.example/x"))
	}
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "marches.example.fr", hostOf("https://Marches.Example.fr:8443/x"))
	require.Equal(t, "unknown", hostOf("::bad"))
}
