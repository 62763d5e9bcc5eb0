package cache

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
		goleak.IgnoreTopFunction("github.com/golang/glog.(*fileSink).flushDaemon"),
		goleak.IgnoreTopFunction("github.com/golang/glog.(*loggingT).flushDaemon"),
	)
}

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("boom")
}
func (failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("boom")
}
func (failingBackend) Delete(context.Context, string) error { return errors.New("boom") }
func (failingBackend) Close() error                         { return nil }
func (failingBackend) Name() string                         { return "failing" }

func TestCache_NilBackendAlwaysMisses(t *testing.T) {
	c := New(nil, nil)
	c.Set(context.Background(), "k", []byte("v"), time.Minute)
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Equal(t, "none", c.Backend())
	assert.Equal(t, Stats{Misses: 1}, c.Stats())
}

func TestCache_SwallowsBackendErrors(t *testing.T) {
	c := New(failingBackend{}, nil)
	ctx := context.Background()
	assert.NotPanics(t, func() {
		c.Set(ctx, "k", []byte("v"), time.Minute)
		c.Delete(ctx, "k")
	})
	v, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, Stats{Misses: 1, Errors: 3}, c.Stats())
}

func TestBadger_RoundTrip(t *testing.T) {
	b, err := OpenBadger("")
	require.NoError(t, err)
	c := New(b, nil)
	defer c.Close()
	ctx := context.Background()

	payload := []byte(`{"table":{"columns":["a"],"records":[]}}`)
	c.Set(ctx, "forecastdesk:all_sheets_v2", payload, 5*time.Minute)
	got, ok := c.Get(ctx, "forecastdesk:all_sheets_v2")
	require.True(t, ok)
	assert.Equal(t, payload, got)

	c.Delete(ctx, "forecastdesk:all_sheets_v2")
	_, ok = c.Get(ctx, "forecastdesk:all_sheets_v2")
	assert.False(t, ok)
	assert.Equal(t, Stats{Hits: 1, Misses: 1}, c.Stats())
}

func TestBadger_MissingKey(t *testing.T) {
	b, err := OpenBadger("")
	require.NoError(t, err)
	defer b.Close()
	_, err = b.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	c := Open(ctx, "", nil)
	assert.Equal(t, "none", c.Backend())

	c = Open(ctx, "memory://", nil)
	assert.Equal(t, "badger", c.Backend())
	require.NoError(t, c.Close())

	c = Open(ctx, "ftp://example", nil)
	assert.Equal(t, "none", c.Backend())
}

func TestOpen_UnreachableRedisDegrades(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := Open(context.Background(), "redis://"+addr+"/0", nil)
	assert.Equal(t, "none", c.Backend())
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}
