package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ai-workout-scheduler/agent/internal/errors"
)

// CycleLock is the process-wide advisory lock that keeps cycles
// single-flight. Keyed by the config path so two instances pointed at the
// same config cannot run concurrently, while separate configs can.
type CycleLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// New builds a lock for the given config path. The TTL should exceed the
// cycle deadline so a crashed holder cannot wedge the scheduler forever.
func New(client *redis.Client, configPath string, ttl time.Duration) *CycleLock {
	sum := sha256.Sum256([]byte(configPath))
	return &CycleLock{
		client: client,
		key:    fmt.Sprintf("scheduler:cycle_lock:%s", hex.EncodeToString(sum[:8])),
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Acquire takes the lock or fails immediately with ErrCycleAlreadyRunning.
// A second concurrent cycle exits rather than queueing.
func (l *CycleLock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return errors.Wrap(err, errors.ErrTransientExternal, "failed to acquire cycle lock")
	}
	if !ok {
		return errors.ErrCycleAlreadyRunning
	}
	return nil
}

// Release frees the lock if this instance still holds it. A lock that
// expired and was re-acquired by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (l *CycleLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
