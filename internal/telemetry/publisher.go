// Package telemetry publishes action lifecycle events: a synchronous append
// to a bounded in-memory ring, best-effort fan-out to external sinks, and a
// subscriber hub for live streaming. Telemetry is observability, not a
// correctness dependency; nothing here may fail the primary request.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/unison-os/actuation/internal/action"
	"github.com/unison-os/actuation/internal/log"
)

// Lifecycle stages of an action.
const (
	LifecycleStarted              = "started"
	LifecycleInProgress           = "in_progress"
	LifecycleAwaitingConfirmation = "awaiting_confirmation"
	LifecycleCompleted            = "completed"
	LifecycleFailed               = "failed"
)

// DefaultCapacity is the ring buffer size; oldest events are evicted
// silently on overflow.
const DefaultCapacity = 100

// sinkTimeout bounds each external sink delivery independently.
const sinkTimeout = 3 * time.Second

// Event is one lifecycle telemetry record.
type Event struct {
	ActionID    string         `json:"action_id"`
	Status      string         `json:"status"`
	Lifecycle   string         `json:"lifecycle"`
	DeviceID    string         `json:"device_id"`
	DeviceClass string         `json:"device_class"`
	Intent      string         `json:"intent"`
	Telemetry   map[string]any `json:"telemetry,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	At          time.Time      `json:"at,omitempty"`
}

// Sink is one external telemetry receiver. Path varies by sink kind: the
// context-graph sink takes /telemetry/actuation, the rest /telemetry.
type Sink struct {
	Name string
	URL  string
	Path string
}

// Publisher appends every event to the local ring first, then fans it out.
type Publisher struct {
	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int

	sinks  []Sink
	client *http.Client
	logger *slog.Logger
}

// NewPublisher creates a Publisher with the given ring capacity and sinks.
func NewPublisher(capacity int, sinks []Sink) *Publisher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Publisher{
		ring:   make([]Event, capacity),
		subs:   make(map[int]chan Event),
		sinks:  sinks,
		client: &http.Client{Timeout: sinkTimeout},
		logger: log.WithComponent("telemetry"),
	}
}

// Publish appends the event to the local ring (never fails), notifies live
// subscribers, and, when the envelope requested a telemetry channel and
// sinks are configured, delivers to every sink concurrently. Sink failures
// are logged and swallowed; all deliveries are joined before Publish
// returns.
func (p *Publisher) Publish(ctx context.Context, ev Event, channel *action.TelemetryChannel) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	p.mu.Lock()
	p.pushLocked(ev)
	for _, ch := range p.subs {
		// Don't let slow clients block producers.
		select {
		case ch <- ev:
		default:
		}
	}
	p.mu.Unlock()

	if channel == nil || len(p.sinks) == 0 {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshal telemetry event", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, sink := range p.sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			p.deliver(ctx, sink, body)
		}(sink)
	}
	wg.Wait()
}

func (p *Publisher) deliver(ctx context.Context, sink Sink, body []byte) {
	callCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, sink.URL+sink.Path, bytes.NewReader(body))
	if err != nil {
		p.logger.Debug("telemetry sink request build failed", "sink", sink.Name, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("telemetry sink delivery failed", "sink", sink.Name, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		p.logger.Debug("telemetry sink rejected event", "sink", sink.Name, "status", resp.StatusCode)
	}
}

// Recent returns up to limit most-recent events in publish order, most
// recent last.
func (p *Publisher) Recent(limit int) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limit <= 0 || limit > p.size {
		limit = p.size
	}
	out := make([]Event, 0, limit)
	for i := p.size - limit; i < p.size; i++ {
		out = append(out, p.ring[(p.start+i)%len(p.ring)])
	}
	return out
}

// Subscribe registers a live event channel. The returned cancel func must be
// called to release the subscription.
func (p *Publisher) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Event, 128)
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
		p.mu.Unlock()
	}

	return ch, cancel
}

// Reset clears the ring buffer. Test hook.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start = 0
	p.size = 0
}

func (p *Publisher) pushLocked(ev Event) {
	capacity := len(p.ring)
	if capacity == 0 {
		return
	}

	if p.size < capacity {
		idx := (p.start + p.size) % capacity
		p.ring[idx] = ev
		p.size++
		return
	}

	// Overwrite oldest.
	p.ring[p.start] = ev
	p.start = (p.start + 1) % capacity
}
