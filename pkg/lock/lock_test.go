package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerMutualExclusion(t *testing.T) {
	l := NewMemoryLocker(time.Second)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "group-1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
	assert.Equal(t, 0, l.size())
}

func TestMemoryLockerTimeout(t *testing.T) {
	l := NewMemoryLocker(20 * time.Millisecond)
	release, err := l.Acquire(context.Background(), "group-1")
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(context.Background(), "group-1")
	assert.ErrorIs(t, err, ErrTimeout)

	other, err := l.Acquire(context.Background(), "group-2")
	require.NoError(t, err)
	other()
}

func TestMemoryLockerReleaseIsIdempotent(t *testing.T) {
	l := NewMemoryLocker(20 * time.Millisecond)
	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()
	release()

	again, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	again()
}

func TestAcquireAllReleasesOnFailure(t *testing.T) {
	l := NewMemoryLocker(20 * time.Millisecond)
	held, err := l.Acquire(context.Background(), "b")
	require.NoError(t, err)

	_, err = AcquireAll(context.Background(), l, "b", "a")
	assert.ErrorIs(t, err, ErrTimeout)
	held()

	// "a" must have been released when "b" timed out.
	release, err := AcquireAll(context.Background(), l, "a", "b", "a", "")
	require.NoError(t, err)
	release()
	assert.Equal(t, 0, l.size())
}

func TestUniqueSorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, uniqueSorted([]string{"c", "a", "", "b", "a"}))
}

type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]string
	err  error
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	f.keys[key] = value.(string)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[keys[0]] == args[0].(string) {
		delete(f.keys, keys[0])
		cmd.SetVal(int64(1))
		return cmd
	}
	cmd.SetVal(int64(0))
	return cmd
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	client := &fakeRedis{keys: map[string]string{}}
	l := NewRedisLocker(client, 30*time.Millisecond, time.Second, nil)

	release, err := l.Acquire(context.Background(), "group-1")
	require.NoError(t, err)
	assert.Contains(t, client.keys, "lock:group-1")

	_, err = l.Acquire(context.Background(), "group-1")
	assert.ErrorIs(t, err, ErrTimeout)

	release()
	assert.NotContains(t, client.keys, "lock:group-1")
}

func TestRedisLockerDoesNotReleaseForeignToken(t *testing.T) {
	client := &fakeRedis{keys: map[string]string{}}
	l := NewRedisLocker(client, 30*time.Millisecond, time.Second, nil)

	release, err := l.Acquire(context.Background(), "g")
	require.NoError(t, err)
	client.keys["lock:g"] = "someone-else"
	release()
	assert.Equal(t, "someone-else", client.keys["lock:g"])
}

func TestRedisLockerPropagatesClientError(t *testing.T) {
	client := &fakeRedis{keys: map[string]string{}, err: errors.New("connection refused")}
	l := NewRedisLocker(client, 30*time.Millisecond, time.Second, nil)

	_, err := l.Acquire(context.Background(), "g")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}
