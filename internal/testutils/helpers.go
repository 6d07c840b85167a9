// Package testutils holds helpers shared by the tests of several packages.
package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/onesided/pkg/ports"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// SetupRedis starts an in-process Redis server and a client connected to it.
// Both are shut down when the test ends.
func SetupRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// RankFunc is the program every rank of a test world runs.
type RankFunc func(ctx context.Context, tr ports.Transport) error

// RunRanks runs fn concurrently on every transport and returns the first error.
// The shared context is cancelled after timeout or as soon as a rank fails.
func RunRanks(timeout time.Duration, transports []ports.Transport, fn RankFunc) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, tr := range transports {
		g.Go(func() error {
			return fn(ctx, tr)
		})
	}
	return g.Wait()
}

// RequireRanks is RunRanks that fails the test immediately on error.
func RequireRanks(t *testing.T, timeout time.Duration, transports []ports.Transport, fn RankFunc) {
	t.Helper()
	require.NoError(t, RunRanks(timeout, transports, fn))
}
