package lease

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []string // "taskID:reason"
}

func (f *fakePublisher) PublishRelease(ctx context.Context, l Lease, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, l.TaskID+":"+reason)
	return nil
}

func (f *fakePublisher) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	copy(out, f.published)
	return out
}

func TestZeroTTLLeaseIsScavengedInOneCycle(t *testing.T) {
	var nowNs int64 = 1_000_000_000
	clock := func() int64 { return nowNs }
	store := NewStore(clock)
	pub := &fakePublisher{}
	mon := NewMonitor(store, pub, time.Hour, nil)

	_, err := store.Open("lease-1", "task-1", "worker-1", 0, 0)
	require.NoError(t, err)

	nowNs += int64(time.Millisecond) // any elapsed time exceeds a ttl=0 lease
	mon.ScanOnce(context.Background())

	require.Equal(t, []string{"task-1:timeout"}, pub.snapshot())
	_, ok := store.Get("task-1")
	require.False(t, ok, "expired lease must be removed from the store")
}

func TestHeartbeatMissReleasesLease(t *testing.T) {
	var nowNs int64
	clock := func() int64 { return nowNs }
	store := NewStore(clock)
	pub := &fakePublisher{}
	mon := NewMonitor(store, pub, time.Hour, nil)

	_, err := store.Open("lease-1", "task-1", "worker-1", 3600, 10)
	require.NoError(t, err)

	nowNs += int64(11 * time.Second) // exceeds the 10s heartbeat interval, well within ttl
	mon.ScanOnce(context.Background())

	require.Equal(t, []string{"task-1:heartbeat_miss"}, pub.snapshot())
}

func TestHeartbeatKeepsLeaseAlive(t *testing.T) {
	var nowNs int64
	clock := func() int64 { return nowNs }
	store := NewStore(clock)
	pub := &fakePublisher{}
	mon := NewMonitor(store, pub, time.Hour, nil)

	_, err := store.Open("lease-1", "task-1", "worker-1", 3600, 10)
	require.NoError(t, err)

	nowNs += int64(8 * time.Second)
	store.Heartbeat("task-1")
	nowNs += int64(8 * time.Second)
	mon.ScanOnce(context.Background())

	require.Empty(t, pub.snapshot(), "a heartbeat within the interval must prevent expiry")
	_, ok := store.Get("task-1")
	require.True(t, ok)
}

func TestOpenRejectsSecondLeaseOnSameTask(t *testing.T) {
	store := NewStore(func() int64 { return 0 })
	_, err := store.Open("lease-1", "task-1", "worker-1", 300, 30)
	require.NoError(t, err)

	_, err = store.Open("lease-2", "task-1", "worker-2", 300, 30)
	require.Error(t, err)
	var alreadyOpen *ErrLeaseAlreadyOpen
	require.ErrorAs(t, err, &alreadyOpen)
}

func TestMissingLeaseReleaseIsNoOp(t *testing.T) {
	store := NewStore(func() int64 { return 0 })
	store.Delete("nonexistent") // must not panic
	_, ok := store.Get("nonexistent")
	require.False(t, ok)
}
