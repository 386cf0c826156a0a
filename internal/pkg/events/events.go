// Package events is the fire-and-forget bus the core emits authoring
// events into. Delivery is best effort; subscribers must tolerate loss.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redisc "github.com/studiocore/authoring/internal/pkg/redis"
	"go.uber.org/zap"
)

// Event names emitted by block operations.
const (
	BlockDuplicated = "xblock.duplicated"
	BlockMoved      = "xblock.moved"
	BlockPublished  = "xblock.published"

	TranscriptsDownloaded = "transcripts.downloaded"
)

// Event is a single bus message.
type Event struct {
	Name string                 `json:"name"`
	Data map[string]interface{} `json:"data"`
	At   time.Time              `json:"at"`
}

// Publisher is what the core depends on; failures are logged, never
// surfaced to the caller.
type Publisher interface {
	Publish(ctx context.Context, name string, data map[string]interface{})
}

const channel = "studio:events"

// RedisBus publishes events onto a Redis pub/sub channel.
type RedisBus struct {
	rc     *redisc.Client
	logger *zap.Logger
}

func NewRedisBus(rc *redisc.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{rc: rc, logger: logger.Named("EventBus")}
}

func (b *RedisBus) Publish(ctx context.Context, name string, data map[string]interface{}) {
	payload, err := json.Marshal(Event{Name: name, Data: data, At: time.Now()})
	if err != nil {
		b.logger.Warn("marshal event", zap.String("event", name), zap.Error(err))
		return
	}
	if err := b.rc.Publish(ctx, channel, payload); err != nil {
		b.logger.Warn("publish event", zap.String("event", name), zap.Error(err))
	}
}

// NopBus drops every event.
type NopBus struct{}

func (NopBus) Publish(context.Context, string, map[string]interface{}) {}

// Recorder collects events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, name string, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{Name: name, Data: data, At: time.Now()})
}

// Named returns recorded events matching name.
func (r *Recorder) Named(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.Events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
