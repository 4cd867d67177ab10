package stream_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventscore/codec"
	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
	"github.com/drblury/eventscore/stream/streamtest"
)

func TestNewOptionsDefaults(t *testing.T) {
	o := stream.NewOptions()
	assert.True(t, o.Block)
	assert.Equal(t, stream.DefaultTimeout, o.Timeout)
	assert.Equal(t, stream.DefaultTimeout, o.Wait())

	o = stream.NewOptions(stream.WithBlock(false), stream.WithTimeout(time.Second), nil)
	assert.False(t, o.Block)
	assert.Equal(t, time.Second, o.Timeout)
	assert.Zero(t, o.Wait())

	o = stream.NewOptions(stream.WithTimeout(-1))
	assert.Equal(t, stream.DefaultTimeout, o.Timeout, "non-positive timeouts are ignored")
}

func TestKey(t *testing.T) {
	assert.Equal(t, "6:orders:billing", stream.Key("orders", "billing"))
	assert.NotEqual(t, stream.Key("a:b", "c"), stream.Key("a", "b:c"))
	assert.NotEqual(t, stream.Key("", "1:x:"), stream.Key("x", ""))
}

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	km := stream.NewKeyedMutex()
	ctx := context.Background()

	unlock, err := km.Lock(ctx, "a")
	require.NoError(t, err)

	otherUnlock, err := km.Lock(ctx, "b")
	require.NoError(t, err, "different keys must not contend")
	otherUnlock()

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(timeoutCtx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := km.Lock(ctx, "a")
	require.NoError(t, err)
	again()
	assert.Equal(t, 2, km.Len())
}

func TestKeyedMutexZeroValue(t *testing.T) {
	var km stream.KeyedMutex
	unlock, err := km.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
}

type nopStream struct{}

func (nopStream) Put(context.Context, event.Event, ...stream.Option) error { return nil }
func (nopStream) Pop(context.Context, event.Type, event.Group, ...stream.Option) (event.Event, error) {
	return event.Event{}, stream.ErrEmptyStream
}
func (nopStream) Close() error { return nil }

func TestRegistryBuild(t *testing.T) {
	reg := stream.NewRegistry()
	var calls atomic.Int32
	reg.RegisterWithCapabilities("fake", func(ctx context.Context, cfg stream.Config, deps stream.Dependencies) (stream.Stream, error) {
		calls.Add(1)
		assert.NotNil(t, deps.Logger, "logger defaults to a no-op adapter")
		assert.Equal(t, codec.Default, deps.Serializer)
		return nopStream{}, nil
	}, stream.Capabilities{Name: "fake", NativeBlockingPop: true})
	reg.Register("other", func(context.Context, stream.Config, stream.Dependencies) (stream.Stream, error) {
		return nil, errors.New("boom")
	})

	s, err := reg.Build(context.Background(), &streamtest.Config{Backend: "fake"}, stream.Dependencies{})
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, int32(1), calls.Load())

	_, err = reg.Build(context.Background(), &streamtest.Config{Backend: "other"}, stream.Dependencies{Logger: watermill.NopLogger{}})
	assert.EqualError(t, err, "boom")

	_, err = reg.Build(context.Background(), &streamtest.Config{Backend: "missing"}, stream.Dependencies{})
	assert.ErrorIs(t, err, stream.ErrUnknownBackend)

	_, err = reg.Build(context.Background(), nil, stream.Dependencies{})
	assert.ErrorIs(t, err, stream.ErrConfigRequired)

	assert.Equal(t, []string{"fake", "other"}, reg.Names())
	assert.True(t, reg.Has("fake"))
	assert.False(t, reg.Has("missing"))
	assert.True(t, reg.GetCapabilities("fake").NativeBlockingPop)
	assert.Equal(t, stream.Capabilities{Name: "other"}, reg.GetCapabilities("other"))
}

func TestCapabilityHelpers(t *testing.T) {
	assert.False(t, stream.MemoryCapabilities.RequiresPolling())
	assert.True(t, stream.SQLiteCapabilities.RequiresPolling())
}
