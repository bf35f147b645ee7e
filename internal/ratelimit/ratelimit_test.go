package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBucket_BurstThenDeny(t *testing.T) {
	req := require.New(t)
	b := NewBucket(0.0001, 3)

	for i := 0; i < 3; i++ {
		req.True(b.Allow(), "call %d", i)
	}
	req.False(b.Allow())
}

func TestBucket_Refills(t *testing.T) {
	req := require.New(t)
	b := NewBucket(100, 1)

	req.True(b.Allow())
	req.False(b.Allow())
	time.Sleep(30 * time.Millisecond)
	req.True(b.Allow())
}

func TestBucket_Wait(t *testing.T) {
	req := require.New(t)
	b := NewBucket(50, 1)
	req.True(b.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req.NoError(b.Wait(ctx))

	slow := NewBucket(0.0001, 1)
	req.True(slow.Allow())
	short, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	req.Error(slow.Wait(short))
}

func TestLocal_KeysAreIndependent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	l := NewLocal(2, time.Hour)

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "a")
		req.NoError(err)
		req.True(ok)
	}
	ok, _ := l.Allow(ctx, "a")
	req.False(ok)

	ok, _ = l.Allow(ctx, "b")
	req.True(ok)
}

func TestLocal_IdleKeysAreSwept(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	l := NewLocal(1, time.Minute)

	now := time.Now()
	l.now = func() time.Time { return now }
	l.lastSweep = now

	ok, _ := l.Allow(ctx, "a")
	req.True(ok)
	ok, _ = l.Allow(ctx, "a")
	req.False(ok)
	req.Equal(1, l.Len())

	now = now.Add(2 * time.Minute)
	ok, _ = l.Allow(ctx, "b")
	req.True(ok)
	req.Equal(1, l.Len(), "a should be gone")

	ok, _ = l.Allow(ctx, "a")
	req.True(ok)
}

func TestRedis_NilClientFailsOpen(t *testing.T) {
	req := require.New(t)
	var r *Redis

	ok, err := r.Allow(context.Background(), "k")
	req.NoError(err)
	req.True(ok)

	ok, err = NewRedis(nil, "", 5, time.Second).Allow(context.Background(), "k")
	req.NoError(err)
	req.True(ok)
}
