package stream

import (
	"context"
	"sync"
)

// KeyedMutex hands out one lock per key. Lock waits respect the context so
// a pop blocked behind another pop on the same cursor still honours its
// deadline.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]chan struct{})}
}

func (k *KeyedMutex) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]chan struct{})
	}
	ch, ok := k.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.locks[key] = ch
	}
	return ch
}

// Lock acquires the lock for key and returns its release function.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	ch := k.slot(key)
	select {
	case ch <- struct{}{}:
		return release(ch), nil
	default:
	}
	select {
	case ch <- struct{}{}:
		return release(ch), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func release(ch chan struct{}) func() {
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }
}

// Len reports how many keys have been seen.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
