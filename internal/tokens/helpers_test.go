package tokens

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/marcogenualdo/auth-proxy/internal/auth"
	"github.com/marcogenualdo/auth-proxy/internal/cache"
	"github.com/marcogenualdo/auth-proxy/internal/session"
)

var testNow = time.Unix(1_700_000_000, 0)

func fixedNow() time.Time { return testNow }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) (*session.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	store := session.NewStore(rc)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

type fakeRefresher struct {
	calls    atomic.Int32
	response *auth.TokenResponse
	err      error
	lastRT   atomic.Value
	// release, when set, blocks Refresh until closed.
	release chan struct{}
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (*auth.TokenResponse, error) {
	f.calls.Add(1)
	f.lastRT.Store(refreshToken)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.response
	return &resp, nil
}

// countingCache counts reads so tests can tell when callers have looked up
// their session.
type countingCache struct {
	cache.Cache
	gets atomic.Int32
}

func (c *countingCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets.Add(1)
	return c.Cache.Get(ctx, key)
}

func newCountingStore(t *testing.T) (*session.Store, *countingCache) {
	t.Helper()

	mr := miniredis.RunT(t)
	cc := &countingCache{Cache: cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")}
	store := session.NewStore(cc)
	t.Cleanup(func() { _ = store.Close() })
	return store, cc
}

type fakeExchanger struct {
	calls    atomic.Int32
	response *auth.TokenResponse
	err      error
	// release, when set, blocks Exchange until closed.
	release chan struct{}

	mu      sync.Mutex
	subject []string
}

func (f *fakeExchanger) Exchange(_ context.Context, _ string, subjectToken string) (*auth.TokenResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.subject = append(f.subject, subjectToken)
	f.mu.Unlock()

	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.response
	return &resp, nil
}

// brokenCache fails every operation, like an unreachable backend.
type brokenCache struct{}

var errBackendDown = errors.New("connection refused")

func (brokenCache) Get(context.Context, string) ([]byte, error) { return nil, errBackendDown }
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errBackendDown
}
func (brokenCache) Delete(context.Context, string) error { return errBackendDown }
func (brokenCache) Ping(context.Context) error           { return errBackendDown }
func (brokenCache) Close() error                         { return nil }
