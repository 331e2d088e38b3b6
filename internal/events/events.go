package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mfenderov/dossier/pkg/models"
)

// ErrUnknownJob is returned when subscribing to a job the bus has no topic for.
var ErrUnknownJob = errors.New("unknown job")

// Config holds bus sizing.
type Config struct {
	Buffer  int // per-subscriber queue length
	History int // events kept per job for late subscribers
}

// Bus fans progress events out to per-job subscribers.
//
// Publishing never blocks and never fails: every subscriber owns a bounded
// queue, and when that queue is full the oldest queued event is discarded to
// make room. Delivery is best-effort; the report itself is the authoritative
// result of a job.
type Bus struct {
	config Config
	now    func() time.Time

	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	mu      sync.Mutex
	seq     uint64
	subs    map[*Subscription]struct{}
	backlog []models.ProgressEvent
	closed  bool
}

// New creates a bus.
func New(config Config) *Bus {
	if config.Buffer <= 0 {
		config.Buffer = 64
	}
	if config.History < 0 {
		config.History = 0
	}
	return &Bus{
		config: config,
		now:    time.Now,
		topics: make(map[string]*topic),
	}
}

// Open registers a job so that events can be published and subscribed to.
// Opening an already open job is a no-op.
func (b *Bus) Open(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[jobID]; !ok {
		b.topics[jobID] = &topic{subs: make(map[*Subscription]struct{})}
	}
}

func (b *Bus) topic(jobID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topics[jobID]
}

// Publish delivers ev to every current subscriber of ev.JobID. Events for
// jobs that are not open are dropped. Seq and Timestamp are assigned here.
func (b *Bus) Publish(ev models.ProgressEvent) {
	t := b.topic(ev.JobID)
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	t.seq++
	ev.Seq = t.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	if b.config.History > 0 {
		if len(t.backlog) == b.config.History {
			copy(t.backlog, t.backlog[1:])
			t.backlog = t.backlog[:len(t.backlog)-1]
		}
		t.backlog = append(t.backlog, ev)
	}

	for sub := range t.subs {
		sub.offer(ev)
	}
}

// Subscribe attaches a new subscriber to jobID. The subscriber first receives
// the retained backlog, then live events in publish order.
func (b *Bus) Subscribe(jobID string) (*Subscription, error) {
	t := b.topic(jobID)
	if t == nil {
		return nil, ErrUnknownJob
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrUnknownJob
	}

	sub := &Subscription{
		jobID: jobID,
		topic: t,
		ch:    make(chan models.ProgressEvent, b.config.Buffer),
	}
	for _, ev := range t.backlog {
		sub.offer(ev)
	}
	t.subs[sub] = struct{}{}
	return sub, nil
}

// CloseJob ends the job's stream: subscriber channels are closed after any
// queued events and the backlog is discarded.
func (b *Bus) CloseJob(jobID string) {
	b.mu.Lock()
	t, ok := b.topics[jobID]
	delete(b.topics, jobID)
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.backlog = nil
	for sub := range t.subs {
		sub.closeChannel()
		delete(t.subs, sub)
	}
}

// Subscribers returns the number of attached subscribers for jobID.
func (b *Bus) Subscribers(jobID string) int {
	t := b.topic(jobID)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Publisher returns an Emitter bound to one job.
func (b *Bus) Publisher(jobID string) *Publisher {
	return &Publisher{bus: b, jobID: jobID}
}

// Subscription is one consumer's view of a job's event stream.
type Subscription struct {
	jobID   string
	topic   *topic
	ch      chan models.ProgressEvent
	dropped atomic.Uint64
	once    sync.Once
}

// Events returns the channel of events. It is closed when the job's stream
// ends or the subscription is closed.
func (s *Subscription) Events() <-chan models.ProgressEvent {
	return s.ch
}

// JobID returns the job this subscription belongs to.
func (s *Subscription) JobID() string {
	return s.jobID
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscriber. It is safe to call more than once.
func (s *Subscription) Close() {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	delete(s.topic.subs, s)
	s.closeChannel()
}

// offer enqueues ev without blocking, evicting the oldest queued event when
// the queue is full. Callers hold the topic lock, so there is a single writer.
func (s *Subscription) offer(ev models.ProgressEvent) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *Subscription) closeChannel() {
	s.once.Do(func() { close(s.ch) })
}

// Emitter is what pipeline stages publish through.
type Emitter interface {
	Emit(stage models.Stage, status models.Status, message string, payload map[string]any)
}

// Publisher emits events for a single job.
type Publisher struct {
	bus   *Bus
	jobID string
}

// Emit publishes one event for the publisher's job.
func (p *Publisher) Emit(stage models.Stage, status models.Status, message string, payload map[string]any) {
	p.bus.Publish(models.ProgressEvent{
		JobID:   p.jobID,
		Stage:   stage,
		Status:  status,
		Message: message,
		Payload: payload,
	})
}

// Discard is an Emitter that drops everything.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(models.Stage, models.Status, string, map[string]any) {}
