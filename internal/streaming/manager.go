package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeStatus = "status"
	// TypeDone is the last event of a job; Message carries the final status.
	TypeDone = "done"
)

// Event is one status stream entry, used by SSE and WebSocket clients.
type Event struct {
	JobID     string    `json:"job_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Marshal returns JSON for event payloads in SSE or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Options configures a Manager.
type Options struct {
	// Capacity of the per-job replay ring.
	Capacity int
	// Redis mirror. When set, Stream reads from Redis so API servers see
	// events published by workers in other processes.
	Redis     redis.UniversalClient
	MaxLen    int64
	StreamTTL time.Duration
	// BlockTimeout bounds one XREAD call.
	BlockTimeout time.Duration
	// DoneRetention is how long a job's ring outlives its done event, for
	// subscribers that attach just as the job finishes. Later readers are
	// served from the persisted history.
	DoneRetention time.Duration
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = 256
	}
	if o.MaxLen <= 0 {
		o.MaxLen = 1000
	}
	if o.StreamTTL <= 0 {
		o.StreamTTL = 24 * time.Hour
	}
	if o.BlockTimeout <= 0 {
		o.BlockTimeout = 5 * time.Second
	}
	if o.DoneRetention <= 0 {
		o.DoneRetention = 30 * time.Second
	}
	return o
}

// Manager provides pub/sub for job status events: an in-memory ring per job
// for replay, plus an optional Redis Streams mirror.
type Manager struct {
	opts   Options
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
}

func NewManager(opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		opts:        opts.withDefaults(),
		logger:      logger,
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
	}
}

// StreamKey is the Redis stream holding a job's events.
func StreamKey(jobID string) string { return "research:stream:" + jobID }

// Publish assigns the next sequence number and fans evt out to local
// subscribers without blocking. Slow subscribers lose the event.
func (m *Manager) Publish(ctx context.Context, evt Event) Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if evt.Type == "" {
		evt.Type = TypeStatus
	}

	m.mu.Lock()
	rg := m.history[evt.JobID]
	if rg == nil {
		rg = newRing(m.opts.Capacity)
		m.history[evt.JobID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	for ch := range m.subscribers[evt.JobID] {
		select {
		case ch <- evt:
		default:
			metrics.StreamEventsDropped.Inc()
		}
	}
	m.mu.Unlock()
	if evt.Type == TypeDone {
		time.AfterFunc(m.opts.DoneRetention, func() { m.release(evt.JobID, rg) })
	}

	if m.opts.Redis != nil {
		if err := m.mirror(ctx, evt); err != nil {
			m.logger.Warn("Failed to mirror status event to Redis",
				zap.String("job_id", evt.JobID), zap.Uint64("seq", evt.Seq), zap.Error(err))
		}
	}
	return evt
}

func (m *Manager) mirror(ctx context.Context, evt Event) error {
	key := StreamKey(evt.JobID)
	pipe := m.opts.Redis.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: m.opts.MaxLen,
		Approx: true,
		Values: map[string]any{
			"type":    evt.Type,
			"message": evt.Message,
			"ts":      evt.Timestamp.Format(time.RFC3339Nano),
			"seq":     strconv.FormatUint(evt.Seq, 10),
		},
	})
	pipe.Expire(ctx, key, m.opts.StreamTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Subscribe adds a local subscriber channel; call the returned func to remove it.
func (m *Manager) Subscribe(jobID string, buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	subs := m.subscribers[jobID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[jobID] = subs
	}
	subs[ch] = struct{}{}
	m.mu.Unlock()
	metrics.StreamSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			if subs, ok := m.subscribers[jobID]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(m.subscribers, jobID)
				}
			}
			close(ch)
			m.mu.Unlock()
			metrics.StreamSubscribers.Dec()
		})
	}
}

// ReplaySince returns buffered events with Seq > since (best effort within
// ring capacity).
func (m *Manager) ReplaySince(jobID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[jobID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the replay buffer of a finished job.
func (m *Manager) Forget(jobID string) {
	m.mu.Lock()
	delete(m.history, jobID)
	m.mu.Unlock()
}

// release drops rg if it is still the job's ring.
func (m *Manager) release(jobID string, rg *ring) {
	m.mu.Lock()
	if m.history[jobID] == rg {
		delete(m.history, jobID)
	}
	m.mu.Unlock()
}

// Retained reports how many jobs currently hold a replay ring.
func (m *Manager) Retained() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}

// Delete forgets the job locally and removes its Redis stream.
func (m *Manager) Delete(ctx context.Context, jobID string) error {
	m.Forget(jobID)
	if m.opts.Redis == nil {
		return nil
	}
	return m.opts.Redis.Del(ctx, StreamKey(jobID)).Err()
}

// Stream delivers the events of jobID with Seq > since until a done event
// is delivered or ctx ends. The channel is closed when streaming stops.
func (m *Manager) Stream(ctx context.Context, jobID string, since uint64) <-chan Event {
	out := make(chan Event, 16)
	if m.opts.Redis != nil {
		go m.streamRedis(ctx, jobID, since, out)
	} else {
		go m.streamLocal(ctx, jobID, since, out)
	}
	return out
}

func send(ctx context.Context, out chan<- Event, evt Event) bool {
	select {
	case out <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) streamLocal(ctx context.Context, jobID string, since uint64, out chan<- Event) {
	defer close(out)
	// Subscribe before replaying so nothing published in between is lost.
	live, cancel := m.Subscribe(jobID, 64)
	defer cancel()

	last := since
	for _, evt := range m.ReplaySince(jobID, since) {
		if !send(ctx, out, evt) {
			return
		}
		last = evt.Seq
		if evt.Type == TypeDone {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-live:
			if !ok {
				return
			}
			if evt.Seq <= last {
				continue
			}
			if !send(ctx, out, evt) {
				return
			}
			last = evt.Seq
			if evt.Type == TypeDone {
				return
			}
		}
	}
}

func (m *Manager) streamRedis(ctx context.Context, jobID string, since uint64, out chan<- Event) {
	defer close(out)
	key := StreamKey(jobID)
	cursor := "0"
	for {
		res, err := m.opts.Redis.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, cursor},
			Count:   100,
			Block:   m.opts.BlockTimeout,
		}).Result()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			m.logger.Warn("Redis stream read failed", zap.String("job_id", jobID), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, s := range res {
			for _, msg := range s.Messages {
				cursor = msg.ID
				evt, err := decode(jobID, msg.Values)
				if err != nil {
					m.logger.Warn("Skipping malformed stream entry", zap.String("id", msg.ID), zap.Error(err))
					continue
				}
				if evt.Seq <= since {
					continue
				}
				if !send(ctx, out, evt) {
					return
				}
				if evt.Type == TypeDone {
					return
				}
			}
		}
	}
}

func decode(jobID string, values map[string]any) (Event, error) {
	str := func(k string) string {
		v, _ := values[k].(string)
		return v
	}
	seq, err := strconv.ParseUint(str("seq"), 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("bad seq: %w", err)
	}
	ts, _ := time.Parse(time.RFC3339Nano, str("ts"))
	return Event{JobID: jobID, Type: str("type"), Message: str("message"), Timestamp: ts, Seq: seq}, nil
}

// ring is a bounded ring buffer of events. It grows up to capacity as
// events arrive.
type ring struct {
	buf      []Event
	capacity int
	start    int
	count    int
	nextSeq  uint64
}

func newRing(capacity int) *ring { return &ring{capacity: capacity} }

func (r *ring) push(e Event) {
	if r.capacity <= 0 {
		return
	}
	if len(r.buf) < r.capacity {
		r.buf = append(r.buf, e)
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
