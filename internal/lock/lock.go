// Package lock enforces a single writer per destination table.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("lock: another run is in progress")

// Release gives the lock back.
type Release func(ctx context.Context) error

// Locker acquires the run lock without waiting.
type Locker interface {
	Acquire(ctx context.Context) (Release, error)
}

// FileLock is a lock file created with O_EXCL. A file older than ttl is
// considered abandoned and replaced.
type FileLock struct {
	path string
	ttl  time.Duration
}

// NewFileLock creates a FileLock at path.
func NewFileLock(path string, ttl time.Duration) *FileLock {
	return &FileLock{path: path, ttl: ttl}
}

type lockInfo struct {
	Token string `json:"token"`
	PID   int    `json:"pid"`
	Time  int64  `json:"time"`
}

func (l *FileLock) Acquire(ctx context.Context) (Release, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}

	token := uuid.NewString()
	for attempt := 0; attempt < 3; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			info, _ := json.Marshal(lockInfo{Token: token, PID: os.Getpid(), Time: time.Now().Unix()})
			_, werr := f.Write(append(info, '\n'))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(l.path)
				return nil, fmt.Errorf("lock: write %s: %w", l.path, errors.Join(werr, cerr))
			}
			return l.release(token), nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("lock: create %s: %w", l.path, err)
		}

		fi, err := os.Stat(l.path)
		if err != nil {
			// Removed between open and stat; try again.
			continue
		}
		if l.ttl > 0 && time.Since(fi.ModTime()) >= l.ttl {
			_ = os.Remove(l.path)
			continue
		}
		return nil, ErrLocked
	}
	return nil, ErrLocked
}

// release removes the lock file only while it still carries token.
func (l *FileLock) release(token string) Release {
	return func(context.Context) error {
		data, err := os.ReadFile(l.path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock: read %s: %w", l.path, err)
		}
		var info lockInfo
		if json.Unmarshal(data, &info) == nil && info.Token != token {
			return nil
		}
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("lock: remove %s: %w", l.path, err)
		}
		return nil
	}
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a SET NX PX lock shared by every instance using the same Redis.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisLock creates a RedisLock on key.
func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, key: key, ttl: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context) (Release, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: redis setnx %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("lock: redis release %s: %w", l.key, err)
		}
		return nil
	}, nil
}
