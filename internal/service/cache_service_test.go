package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCache struct{}

func (failingCache) Get(context.Context, string, interface{}) error { return errors.New("redis down") }
func (failingCache) Set(context.Context, string, interface{}, time.Duration) error {
	return errors.New("redis down")
}
func (failingCache) DeleteByPattern(context.Context, string) error { return errors.New("redis down") }

func TestCacheServiceRoundTrip(t *testing.T) {
	repo := newMapCache()
	svc := NewCacheService(repo, NewMetricsService(), 0, nil, true)
	ctx := context.Background()
	require.True(t, svc.Enabled())

	var out []string
	assert.False(t, svc.Get(ctx, "labs:list", &out))

	svc.Set(ctx, "labs:list", []string{"CSE-1"}, 0)
	require.True(t, svc.Get(ctx, "labs:list", &out))
	assert.Equal(t, []string{"CSE-1"}, out)

	svc.Invalidate(ctx, "labs:*")
	assert.False(t, svc.Get(ctx, "labs:list", &out))
}

func TestCacheServiceDisabledAndFailing(t *testing.T) {
	ctx := context.Background()
	var dest map[string]string

	disabled := NewCacheService(newMapCache(), nil, time.Minute, nil, false)
	assert.False(t, disabled.Enabled())
	disabled.Set(ctx, "k", map[string]string{"a": "b"}, 0)
	assert.False(t, disabled.Get(ctx, "k", &dest))

	var nilSvc *CacheService
	assert.False(t, nilSvc.Get(ctx, "k", &dest))
	assert.NotPanics(t, func() { nilSvc.Invalidate(ctx, "k*") })

	failing := NewCacheService(failingCache{}, nil, time.Minute, nil, true)
	assert.False(t, failing.Get(ctx, "k", &dest))
	assert.NotPanics(t, func() {
		failing.Set(ctx, "k", "v", 0)
		failing.Invalidate(ctx, "k*")
	})
}
