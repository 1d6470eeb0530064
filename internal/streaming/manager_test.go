package streaming

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestRingReplaySince(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 4; i++ {
		r.nextSeq++
		r.push(Event{Seq: r.nextSeq})
	}
	evs := r.since(0)
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(2), evs[0].Seq)
	assert.Equal(t, uint64(4), evs[2].Seq)

	evs = r.since(2)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(3), evs[0].Seq)
}

func TestPublishAssignsSequencePerJob(t *testing.T) {
	m := NewManager(Options{}, zaptest.NewLogger(t))
	ctx := context.Background()

	a1 := m.Publish(ctx, Event{JobID: "a", Message: "one"})
	b1 := m.Publish(ctx, Event{JobID: "b", Message: "one"})
	a2 := m.Publish(ctx, Event{JobID: "a", Message: "two"})

	assert.Equal(t, uint64(1), a1.Seq)
	assert.Equal(t, uint64(1), b1.Seq)
	assert.Equal(t, uint64(2), a2.Seq)
	assert.Equal(t, TypeStatus, a1.Type)
	assert.False(t, a1.Timestamp.IsZero())

	replay := m.ReplaySince("a", 1)
	require.Len(t, replay, 1)
	assert.Equal(t, "two", replay[0].Message)

	m.Forget("a")
	assert.Empty(t, m.ReplaySince("a", 0))
}

func TestRingGrowsOnDemand(t *testing.T) {
	r := newRing(256)
	r.nextSeq++
	r.push(Event{Seq: r.nextSeq})
	assert.Len(t, r.buf, 1)
}

func TestDoneEventReleasesRing(t *testing.T) {
	m := NewManager(Options{DoneRetention: 10 * time.Millisecond}, zaptest.NewLogger(t))
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		job := fmt.Sprintf("job-%d", i)
		for j := 0; j < 5; j++ {
			m.Publish(ctx, Event{JobID: job, Message: "step"})
		}
		m.Publish(ctx, Event{JobID: job, Type: TypeDone, Message: "completed"})
	}
	m.Publish(ctx, Event{JobID: "running", Message: "step"})

	require.Eventually(t, func() bool { return m.Retained() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, m.ReplaySince("running", 0), 1)
	assert.Empty(t, m.ReplaySince("job-0", 0))
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	m := NewManager(Options{}, zaptest.NewLogger(t))
	ch, cancel := m.Subscribe("job", 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			m.Publish(context.Background(), Event{JobID: "job"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
}

func TestLocalStreamReplaysThenFollowsUntilDone(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := NewManager(Options{}, zaptest.NewLogger(t))
	ctx := context.Background()
	m.Publish(ctx, Event{JobID: "job", Message: "starting"})
	m.Publish(ctx, Event{JobID: "job", Message: "searching"})

	stream := m.Stream(ctx, "job", 1)
	m.Publish(ctx, Event{JobID: "job", Message: "writing"})
	m.Publish(ctx, Event{JobID: "job", Type: TypeDone, Message: "completed"})

	evs := collect(t, stream, 3)
	require.Len(t, evs, 3)
	assert.Equal(t, "searching", evs[0].Message)
	assert.Equal(t, "writing", evs[1].Message)
	assert.Equal(t, TypeDone, evs[2].Type)

	_, open := <-stream
	assert.False(t, open)
}

func TestLocalStreamStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := NewManager(Options{}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	stream := m.Stream(ctx, "job", 0)
	cancel()

	select {
	case _, open := <-stream:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

func newRedisManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewManager(Options{Redis: rdb, BlockTimeout: 100 * time.Millisecond}, zaptest.NewLogger(t)), mr
}

func TestRedisMirrorAndStream(t *testing.T) {
	m, mr := newRedisManager(t)
	ctx := context.Background()

	m.Publish(ctx, Event{JobID: "job", Message: "starting"})
	m.Publish(ctx, Event{JobID: "job", Message: "searching"})
	assert.True(t, mr.Exists(StreamKey("job")))
	assert.Greater(t, mr.TTL(StreamKey("job")), time.Duration(0))

	// A reader in another process only sees Redis.
	reader := NewManager(Options{Redis: m.opts.Redis, BlockTimeout: 100 * time.Millisecond}, zaptest.NewLogger(t))
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream := reader.Stream(sctx, "job", 1)

	m.Publish(ctx, Event{JobID: "job", Type: TypeDone, Message: "completed"})

	evs := collect(t, stream, 2)
	require.Len(t, evs, 2)
	assert.Equal(t, "searching", evs[0].Message)
	assert.Equal(t, uint64(2), evs[0].Seq)
	assert.Equal(t, TypeDone, evs[1].Type)
	assert.Equal(t, "completed", evs[1].Message)
}

func TestDeleteRemovesRedisStream(t *testing.T) {
	m, mr := newRedisManager(t)
	ctx := context.Background()

	m.Publish(ctx, Event{JobID: "job", Message: "x"})
	require.NoError(t, m.Delete(ctx, "job"))
	assert.False(t, mr.Exists(StreamKey("job")))
	assert.Empty(t, m.ReplaySince("job", 0))
}
