package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle notification published while engines run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// EngineID is the engine the event belongs to.
	EngineID string `json:"engine_id,omitempty"`

	// Unit is the unit name, if applicable.
	Unit string `json:"unit,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted     = "run.started"
	EventTypeRunCompleted   = "run.completed"
	EventTypeUnitStarted    = "unit.started"
	EventTypeUnitCompleted  = "unit.completed"
	EventTypeUnitFailed     = "unit.failed"
	EventTypeUnitSkipped    = "unit.skipped"
	EventTypeSignalFired    = "signal.fired"
	EventTypePolicyDecision = "policy.decision"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, inline or from a background goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Async {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish delivers an event to all subscribers. With async delivery enabled a
// full buffer drops the event and returns an error.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if !ep.config.Async {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event %s dropped", event.Type)
	}
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(engineID, command string, selected int) error {
	return ep.Publish(Event{
		Type:     EventTypeRunStarted,
		EngineID: engineID,
		Message:  fmt.Sprintf("Engine %s started %s with %d units", engineID, command, selected),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"command":  command,
			"selected": selected,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(engineID, outcome string, duration time.Duration) error {
	level := EventLevelInfo
	if outcome == "failed" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:     EventTypeRunCompleted,
		EngineID: engineID,
		Message:  fmt.Sprintf("Engine %s %s", engineID, outcome),
		Level:    level,
		Data: map[string]interface{}{
			"outcome":  outcome,
			"duration": duration.Seconds(),
		},
	})
}

// PublishUnitStarted publishes the start of a unit phase.
func (ep *EventPublisher) PublishUnitStarted(engineID, unit, phase string) error {
	return ep.Publish(Event{
		Type:     EventTypeUnitStarted,
		EngineID: engineID,
		Unit:     unit,
		Message:  fmt.Sprintf("Unit %s %s started", unit, phase),
		Level:    EventLevelInfo,
		Data:     map[string]interface{}{"phase": phase},
	})
}

// PublishUnitCompleted publishes a successful unit phase.
func (ep *EventPublisher) PublishUnitCompleted(engineID, unit, phase string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:     EventTypeUnitCompleted,
		EngineID: engineID,
		Unit:     unit,
		Message:  fmt.Sprintf("Unit %s %s completed", unit, phase),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"phase":    phase,
			"duration": duration.Seconds(),
		},
	})
}

// PublishUnitFailed publishes a failed unit phase.
func (ep *EventPublisher) PublishUnitFailed(engineID, unit, phase, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeUnitFailed,
		EngineID: engineID,
		Unit:     unit,
		Message:  fmt.Sprintf("Unit %s %s failed: %s", unit, phase, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"phase":  phase,
			"reason": reason,
		},
	})
}

// PublishUnitSkipped publishes a blacklisted unit that was recorded without running.
func (ep *EventPublisher) PublishUnitSkipped(engineID, unit string) error {
	return ep.Publish(Event{
		Type:     EventTypeUnitSkipped,
		EngineID: engineID,
		Unit:     unit,
		Message:  fmt.Sprintf("Unit %s skipped", unit),
		Level:    EventLevelWarning,
	})
}

// PublishSignal publishes a fired signal.
func (ep *EventPublisher) PublishSignal(engineID, signal string) error {
	return ep.Publish(Event{
		Type:     EventTypeSignalFired,
		EngineID: engineID,
		Message:  fmt.Sprintf("Signal %s fired", signal),
		Level:    EventLevelInfo,
		Data:     map[string]interface{}{"signal": signal},
	})
}

// PublishPolicyDecision publishes the result of a selection policy evaluation.
func (ep *EventPublisher) PublishPolicyDecision(engineID string, allowed bool, violations []string) error {
	level := EventLevelInfo
	if !allowed {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:     EventTypePolicyDecision,
		EngineID: engineID,
		Message:  fmt.Sprintf("Selection policy allowed=%t", allowed),
		Level:    level,
		Data: map[string]interface{}{
			"allowed":    allowed,
			"violations": violations,
		},
	})
}

// Subscribe adds a subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				flush()
			}
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown drains buffered events and stops the background goroutine.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel only lets events of minLevel or higher through.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType only lets events of the given types through.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByEngineID only lets events of one engine through.
func FilterByEngineID(engineID string) EventFilter {
	return func(event Event) bool {
		return event.EngineID == engineID
	}
}
