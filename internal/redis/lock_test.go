package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	return client, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestLocker_AcquireAndRelease(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	locker := NewLocker(client, zap.NewNop())
	ctx := context.Background()

	release, acquired, err := locker.Acquire(ctx, "sched:mail-check")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !acquired {
		t.Fatal("expected to acquire")
	}
	if !mr.Exists("lock:sched:mail-check") {
		t.Fatal("lock key missing")
	}

	release()
	if mr.Exists("lock:sched:mail-check") {
		t.Fatal("lock key must be deleted on release")
	}
}

func TestLocker_SecondAcquireFails(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	locker := NewLocker(client, zap.NewNop())
	ctx := context.Background()

	release, acquired, err := locker.Acquire(ctx, "sched:retry-check")
	if err != nil || !acquired {
		t.Fatalf("first acquire: acquired=%v err=%v", acquired, err)
	}
	defer release()

	_, acquired2, err := locker.Acquire(ctx, "sched:retry-check")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if acquired2 {
		t.Fatal("second acquire must fail while held")
	}
}

func TestLocker_ReacquireAfterRelease(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	locker := NewLocker(client, zap.NewNop())
	ctx := context.Background()

	release, acquired, _ := locker.Acquire(ctx, "sched:prune")
	if !acquired {
		t.Fatal("first acquire")
	}
	release()

	release2, acquired2, err := locker.Acquire(ctx, "sched:prune")
	if err != nil || !acquired2 {
		t.Fatalf("reacquire: acquired=%v err=%v", acquired2, err)
	}
	release2()
}

func TestLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	locker := NewLocker(client, zap.NewNop())
	ctx := context.Background()

	staleRelease, acquired, _ := locker.Acquire(ctx, "sched:announce")
	if !acquired {
		t.Fatal("first acquire")
	}

	// Simulate TTL expiry and another instance taking the lock.
	mr.FastForward(lockTTL + time.Second)
	release2, acquired2, _ := locker.Acquire(ctx, "sched:announce")
	if !acquired2 {
		t.Fatal("second holder should acquire after expiry")
	}
	defer release2()

	// The stale holder's release must not delete the new holder's lock.
	staleRelease()
	if !mr.Exists("lock:sched:announce") {
		t.Fatal("stale release deleted the new holder's lock")
	}
}

func TestLocker_DistinctKeysIndependent(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	locker := NewLocker(client, zap.NewNop())
	ctx := context.Background()

	r1, a1, _ := locker.Acquire(ctx, "sched:a")
	r2, a2, _ := locker.Acquire(ctx, "sched:b")
	if !a1 || !a2 {
		t.Fatal("locks for different keys must not conflict")
	}
	r1()
	r2()
}

func TestUsageRecorder_IncrementsMonthlyCounter(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	recorder := NewUsageRecorder(client, zap.NewNop())
	ctx := context.Background()
	tenant := uuid.New()

	recorder.RecordEmailProcessed(ctx, tenant)
	recorder.RecordEmailProcessed(ctx, tenant)
	recorder.RecordNotificationSent(ctx, tenant)

	month := time.Now().Format("200601")
	emailKey := fmt.Sprintf("usage:%s:%s:emails", tenant, month)
	notifKey := fmt.Sprintf("usage:%s:%s:notifications", tenant, month)

	v, err := mr.Get(emailKey)
	if err != nil || v != "2" {
		t.Fatalf("emails = %q err=%v", v, err)
	}
	v, err = mr.Get(notifKey)
	if err != nil || v != "1" {
		t.Fatalf("notifications = %q err=%v", v, err)
	}
	if mr.TTL(emailKey) <= 0 {
		t.Fatal("usage counter must carry a TTL")
	}
}

func TestUsageRecorder_FailureDoesNotPanic(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	mr.Close()

	recorder := NewUsageRecorder(client, zap.NewNop())
	recorder.RecordEmailProcessed(context.Background(), uuid.New())
}
