// Package session keeps per-browser interview state keyed by an opaque token.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/pavelanni/interviewer/internal/model"
)

// ErrLockTimeout is returned when a token's lock could not be acquired before
// the context expired.
var ErrLockTimeout = errors.New("session lock not acquired")

// ErrConflict is returned by Save when the stored state changed after the
// caller loaded it.
var ErrConflict = errors.New("session changed concurrently")

// Store holds interview state per session token. Each token's state is
// isolated; Lock serializes read-modify-write cycles for one token.
type Store interface {
	// Load returns the state for token, or nil if none is stored.
	Load(ctx context.Context, token string) (*model.InterviewState, error)
	// Save stores st when the stored version still equals st.Version and
	// records it as st.Version+1. Otherwise it returns ErrConflict.
	Save(ctx context.Context, token string, st model.InterviewState) error
	Clear(ctx context.Context, token string) error
	// Lock blocks until the caller holds the token's lock or ctx is done.
	Lock(ctx context.Context, token string) (unlock func(), err error)
}

// KeyedMutex is an in-process lock per key. Entries are dropped once no
// goroutine holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires key's lock, giving up with ErrLockTimeout when ctx is done.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}
