// Package progress fans job progress events out to in-process subscribers
// such as SSE handlers.
package progress

import (
	"log/slog"
	"sync"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
)

const defaultSubscriberBuffer = 16

// BroadcasterOptions configures a Broadcaster.
type BroadcasterOptions struct {
	// SubscriberBuffer is the per-subscriber channel capacity.
	SubscriberBuffer int
	Logger           *slog.Logger
}

// Broadcaster delivers progress events to subscribers keyed by job ID.
// Publishing never blocks: a subscriber whose buffer is full loses the event.
// The durable snapshot in the job row is the recovery path, so a dropped
// event costs a consumer at most one refresh.
type Broadcaster struct {
	buffer int
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[chan *model.ProgressEvent]struct{}
}

// NewBroadcaster constructs a Broadcaster.
func NewBroadcaster(opts BroadcasterOptions) *Broadcaster {
	buffer := opts.SubscriberBuffer
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "progress_broadcaster")
	}

	return &Broadcaster{
		buffer: buffer,
		logger: logger,
		subs:   make(map[string]map[chan *model.ProgressEvent]struct{}),
	}
}

// Publish delivers an event to every subscriber of the event's job.
func (b *Broadcaster) Publish(event *model.ProgressEvent) {
	if event == nil || event.JobID == "" {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs[event.JobID] {
		select {
		case ch <- event:
		default:
			if b.logger != nil {
				b.logger.Debug("dropping progress event for slow subscriber",
					"job_id", event.JobID, "type", event.Type)
			}
		}
	}
}

// Subscribe registers for a job's progress events. The returned cancel
// function must be called to release the subscription; it closes the channel.
func (b *Broadcaster) Subscribe(jobID string) (<-chan *model.ProgressEvent, func()) {
	ch := make(chan *model.ProgressEvent, b.buffer)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan *model.ProgressEvent]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subscribers := b.subs[jobID]
			if subscribers == nil {
				return
			}
			delete(subscribers, ch)
			if len(subscribers) == 0 {
				delete(b.subs, jobID)
			}
			close(ch)
		})
	}

	return ch, cancel
}

// SubscriberCount reports the number of active subscribers for a job.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}
