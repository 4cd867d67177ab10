package redis

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventscore/codec"
	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
	"github.com/drblury/eventscore/stream/streamtest"
)

func newTestStream(t *testing.T, persist bool) (*Stream, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	s := New(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}), Options{PersistCursors: persist})
	t.Cleanup(func() { _ = s.Close() })
	return s, srv
}

func TestStreamBehaviour(t *testing.T) {
	streamtest.Run(t, func(t *testing.T) stream.Stream {
		s, _ := newTestStream(t, false)
		return s
	}, streamtest.Features{IndependentGroups: true})
}

func TestBuild(t *testing.T) {
	t.Run("requires address", func(t *testing.T) {
		_, err := Build(context.Background(), &streamtest.Config{}, stream.Dependencies{Logger: watermill.NopLogger{}})
		assert.ErrorIs(t, err, ErrAddrRequired)
	})

	t.Run("through registry", func(t *testing.T) {
		srv := miniredis.RunT(t)
		s, err := stream.Build(context.Background(), &streamtest.Config{Backend: BackendName, RedisAddr: srv.Addr()}, stream.Dependencies{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		assert.IsType(t, &Stream{}, s)
	})

	t.Run("ping failure", func(t *testing.T) {
		srv := miniredis.RunT(t)
		addr := srv.Addr()
		srv.Close()
		_, err := Build(context.Background(), &streamtest.Config{RedisAddr: addr}, stream.Dependencies{Logger: watermill.NopLogger{}})
		assert.Error(t, err)
	})
}

func TestEntriesUseTypeKeyAndValueField(t *testing.T) {
	s, srv := newTestStream(t, false)
	evt := event.MustNew("orders", map[string]any{"sku": "a-1"})
	require.NoError(t, s.Put(context.Background(), evt))

	entries, err := srv.Stream(StreamKey("orders"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Values, 2)
	assert.Equal(t, valueField, entries[0].Values[0])

	decoded, err := codec.Default.Decode([]byte(entries[0].Values[1]))
	require.NoError(t, err)
	assert.True(t, evt.Equal(decoded))
}

func TestPersistedCursorsSurviveRestart(t *testing.T) {
	s, srv := newTestStream(t, true)
	ctx := context.Background()
	first := event.MustNew("orders", map[string]any{"n": 1})
	second := event.MustNew("orders", map[string]any{"n": 2})
	require.NoError(t, s.Put(ctx, first))
	require.NoError(t, s.Put(ctx, second))

	got, err := s.Pop(ctx, "orders", "billing", stream.WithBlock(false))
	require.NoError(t, err)
	assert.True(t, first.Equal(got))
	assert.Equal(t, s.Cursor("orders", "billing"), srv.HGet(CursorsKey, stream.Key("orders", "billing")))
	assert.True(t, s.Capabilities().DurableCursor)

	restarted := New(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}), Options{PersistCursors: true})
	t.Cleanup(func() { _ = restarted.Close() })
	got, err = restarted.Pop(ctx, "orders", "billing", stream.WithBlock(false))
	require.NoError(t, err)
	assert.True(t, second.Equal(got))
}

func TestCursorsNotPersistedByDefault(t *testing.T) {
	s, srv := newTestStream(t, false)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, event.MustNew("orders", nil)))
	_, err := s.Pop(ctx, "orders", "billing", stream.WithBlock(false))
	require.NoError(t, err)
	assert.False(t, srv.Exists(CursorsKey))
	assert.False(t, s.Capabilities().DurableCursor)
}

func TestPopRejectsForeignEntries(t *testing.T) {
	s, srv := newTestStream(t, true)
	foreign, err := srv.XAdd(StreamKey("orders"), "*", []string{"other", "x"})
	require.NoError(t, err)
	evt := event.MustNew("orders", nil)
	require.NoError(t, s.Put(context.Background(), evt))

	_, err = s.Pop(context.Background(), "orders", "g", stream.WithBlock(false))
	assert.ErrorIs(t, err, codec.ErrMalformed)
	assert.Equal(t, foreign, srv.HGet(CursorsKey, stream.Key("orders", "g")), "undecodable entries are skipped, not redelivered")

	got, err := s.Pop(context.Background(), "orders", "g", stream.WithBlock(false))
	require.NoError(t, err)
	assert.True(t, evt.Equal(got))
}

func TestPutFailures(t *testing.T) {
	s, srv := newTestStream(t, false)
	srv.Close()
	evt := event.MustNew("orders", nil)

	err := s.Put(context.Background(), evt, stream.WithTimeout(100*time.Millisecond))
	assert.ErrorIs(t, err, stream.ErrEventNotSent)

	assert.NoError(t, s.Put(context.Background(), evt, stream.WithBlock(false), stream.WithTimeout(100*time.Millisecond)))
}

func TestClosedStream(t *testing.T) {
	s, _ := newTestStream(t, false)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Put(context.Background(), event.MustNew("x", nil)), stream.ErrStreamClosed)
	_, err := s.Pop(context.Background(), "x", "g", stream.WithBlock(false))
	assert.ErrorIs(t, err, stream.ErrStreamClosed)
}
