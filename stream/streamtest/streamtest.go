// Package streamtest holds a fake configuration and a behavioural suite that
// every stream backend runs in its own tests.
package streamtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
)

// Config is a plain struct implementing stream.Config.
type Config struct {
	Backend            string
	Serializer         string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisPersist       bool
	KafkaBrokers       []string
	NATSURL            string
	RabbitMQURL        string
	SQLiteFile         string
	PostgresURL        string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c *Config) GetStreamBackend() string      { return c.Backend }
func (c *Config) GetSerializer() string         { return c.Serializer }
func (c *Config) GetRedisAddr() string          { return c.RedisAddr }
func (c *Config) GetRedisPassword() string      { return c.RedisPassword }
func (c *Config) GetRedisDB() int               { return c.RedisDB }
func (c *Config) GetRedisPersistCursors() bool  { return c.RedisPersist }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetSQLiteFile() string         { return c.SQLiteFile }
func (c *Config) GetPostgresURL() string        { return c.PostgresURL }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// Features lets a backend opt out of checks it cannot satisfy.
type Features struct {
	// IndependentGroups is true when a new group replays the full log.
	IndependentGroups bool
	// ShortTimeout is the blocking timeout used for empty pops.
	ShortTimeout time.Duration
}

// Run exercises the behaviour shared by all backends. newStream must return a
// fresh, empty stream each call.
func Run(t *testing.T, newStream func(t *testing.T) stream.Stream, features Features) {
	t.Helper()
	if features.ShortTimeout == 0 {
		features.ShortTimeout = 50 * time.Millisecond
	}

	t.Run("PopOnEmptyStream", func(t *testing.T) {
		s := newStream(t)
		ctx := context.Background()

		_, err := s.Pop(ctx, "empty", "g", stream.WithBlock(false))
		assert.ErrorIs(t, err, stream.ErrEmptyStream)

		start := time.Now()
		_, err = s.Pop(ctx, "empty", "g", stream.WithTimeout(features.ShortTimeout))
		assert.ErrorIs(t, err, stream.ErrEmptyStream)
		assert.GreaterOrEqual(t, time.Since(start), features.ShortTimeout/2)
	})

	t.Run("PutThenPopInOrder", func(t *testing.T) {
		s := newStream(t)
		ctx := context.Background()
		sent := putN(t, s, "orders", 3)

		for i := 0; i < 3; i++ {
			got, err := s.Pop(ctx, "orders", "g", stream.WithTimeout(time.Second))
			require.NoError(t, err)
			assert.True(t, sent[i].Equal(got), "position %d", i)
		}
		_, err := s.Pop(ctx, "orders", "g", stream.WithTimeout(features.ShortTimeout))
		assert.ErrorIs(t, err, stream.ErrEmptyStream)
	})

	t.Run("TypesAreSeparateLogs", func(t *testing.T) {
		s := newStream(t)
		ctx := context.Background()
		putN(t, s, "a", 1)

		_, err := s.Pop(ctx, "b", "g", stream.WithTimeout(features.ShortTimeout))
		assert.ErrorIs(t, err, stream.ErrEmptyStream)

		got, err := s.Pop(ctx, "a", "g", stream.WithTimeout(time.Second))
		require.NoError(t, err)
		assert.Equal(t, event.Type("a"), got.Type)
	})

	t.Run("DistinctKeysDoNotShareCursor", func(t *testing.T) {
		s := newStream(t)
		ctx := context.Background()
		first := putN(t, s, "a:b", 1)
		second := putN(t, s, "a", 1)

		got, err := s.Pop(ctx, "a:b", "c", stream.WithTimeout(time.Second))
		require.NoError(t, err)
		assert.True(t, first[0].Equal(got))

		got, err = s.Pop(ctx, "a", "b:c", stream.WithTimeout(time.Second))
		require.NoError(t, err, "cursor of (a, b:c) was consumed by (a:b, c)")
		assert.True(t, second[0].Equal(got))

		_, err = s.Pop(ctx, "a:b", "c", stream.WithTimeout(features.ShortTimeout))
		assert.ErrorIs(t, err, stream.ErrEmptyStream)
	})

	if features.IndependentGroups {
		t.Run("GroupsHaveIndependentCursors", func(t *testing.T) {
			s := newStream(t)
			ctx := context.Background()
			sent := putN(t, s, "orders", 2)

			for _, group := range []event.Group{"g1", "g2"} {
				for i := 0; i < 2; i++ {
					got, err := s.Pop(ctx, "orders", group, stream.WithTimeout(time.Second))
					require.NoError(t, err)
					assert.True(t, sent[i].Equal(got))
				}
			}
		})
	}

	t.Run("BlockingPopWakesOnPut", func(t *testing.T) {
		s := newStream(t)
		ctx := context.Background()

		done := make(chan event.Event, 1)
		go func() {
			evt, err := s.Pop(ctx, "late", "g", stream.WithTimeout(3*time.Second))
			if err == nil {
				done <- evt
			}
			close(done)
		}()

		time.Sleep(20 * time.Millisecond)
		sent := putN(t, s, "late", 1)

		select {
		case got, ok := <-done:
			require.True(t, ok, "pop returned an error")
			assert.True(t, sent[0].Equal(got))
		case <-time.After(4 * time.Second):
			t.Fatal("blocking pop never returned")
		}
	})

	t.Run("ConcurrentPopsNeverDuplicate", func(t *testing.T) {
		s := newStream(t)
		ctx := context.Background()
		const total = 20
		sent := putN(t, s, "work", total)

		var (
			mu   sync.Mutex
			seen = map[string]int{}
			wg   sync.WaitGroup
		)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					evt, err := s.Pop(ctx, "work", "g", stream.WithTimeout(features.ShortTimeout*4))
					if errors.Is(err, stream.ErrEmptyStream) {
						return
					}
					if err != nil {
						t.Errorf("pop: %v", err)
						return
					}
					mu.Lock()
					seen[evt.ID.String()]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, total)
		for _, evt := range sent {
			assert.Equal(t, 1, seen[evt.ID.String()], "event %s", evt.ID)
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		s := newStream(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.Pop(ctx, "x", "g", stream.WithTimeout(time.Second))
		assert.Error(t, err)
	})
}

func putN(t *testing.T, s stream.Stream, eventType event.Type, n int) []event.Event {
	t.Helper()
	sent := make([]event.Event, 0, n)
	for i := 0; i < n; i++ {
		evt := event.MustNew(eventType, map[string]any{"seq": i, "label": fmt.Sprintf("e%d", i)})
		require.NoError(t, s.Put(context.Background(), evt, stream.WithTimeout(time.Second)))
		sent = append(sent, evt)
	}
	return sent
}
