// Package lock provides keyed mutual exclusion with bounded acquisition time.
//
// Two backends exist: MemoryLocker for a single API instance and RedisLocker
// when several instances share one database. Both fail with ErrTimeout instead
// of blocking past the configured wait.
package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrTimeout is returned when a lock could not be acquired within the wait budget.
var ErrTimeout = errors.New("lock: acquire timeout")

// Release frees a held lock. Calling it more than once is a no-op.
type Release func()

// Locker acquires exclusive ownership of a key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// AcquireAll locks every distinct key in lexical order so two callers locking
// overlapping sets can never deadlock. On failure any locks already taken are
// released.
func AcquireAll(ctx context.Context, l Locker, keys ...string) (Release, error) {
	ordered := uniqueSorted(keys)
	releases := make([]Release, 0, len(ordered))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range ordered {
		release, err := l.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

func uniqueSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type memoryEntry struct {
	sem  chan struct{}
	refs int
}

// MemoryLocker is an in-process keyed lock. Entries are reference counted and
// dropped once nobody holds or waits on them.
type MemoryLocker struct {
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryLocker builds a MemoryLocker waiting at most timeout per key.
func NewMemoryLocker(timeout time.Duration) *MemoryLocker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &MemoryLocker{timeout: timeout, entries: make(map[string]*memoryEntry)}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(ctx context.Context, key string) (Release, error) {
	entry := l.ref(key)

	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	select {
	case entry.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.sem
				l.unref(key)
			})
		}, nil
	case <-waitCtx.Done():
		l.unref(key)
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, ErrTimeout
	}
}

func (l *MemoryLocker) ref(key string) *memoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &memoryEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *MemoryLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.entries, key)
	}
}

func (l *MemoryLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
