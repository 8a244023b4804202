package redislock

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient(context.Background(), "")
	assert.Error(t, err)

	_, err = NewClient(context.Background(), "http://not-redis")
	assert.Error(t, err)
}

func TestTryLock_ReportsConnectionErrors(t *testing.T) {
	// Nothing listens on this port; SetNX must fail rather than report a held lock.
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	release, ok, err := New(rdb).TryLock(context.Background(), "sweep", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
	assert.NotNil(t, release)
	release()
}
