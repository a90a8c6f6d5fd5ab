package domain

import "time"

// DomainEvent represents a significant occurrence in the domain.
type DomainEvent interface {
	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time
	// EventType returns the type of event.
	EventType() string
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	occurredAt time.Time
}

// OccurredAt returns when the event occurred.
func (e BaseEvent) OccurredAt() time.Time {
	return e.occurredAt
}

// NewBaseEvent creates a new base event with current timestamp.
func NewBaseEvent() BaseEvent {
	return BaseEvent{occurredAt: time.Now()}
}

// CoverageAggregatedEvent is raised once the final store is built.
type CoverageAggregatedEvent struct {
	BaseEvent
	Files        int
	InScope      int
	Placeholders int
	Dropped      int
}

// EventType returns the event type identifier.
func (e CoverageAggregatedEvent) EventType() string {
	return "CoverageAggregated"
}

// NewCoverageAggregatedEvent summarizes an aggregation result.
func NewCoverageAggregatedEvent(result AggregationResult) CoverageAggregatedEvent {
	return CoverageAggregatedEvent{
		BaseEvent:    NewBaseEvent(),
		Files:        result.Store.Len(),
		InScope:      len(result.Store.InScopeRecords()),
		Placeholders: len(result.Placeholders),
		Dropped:      len(result.Dropped),
	}
}

// FingerprintConflictEvent is raised when a partial record was discarded
// because its file changed between workers.
type FingerprintConflictEvent struct {
	BaseEvent
	Key       FileKey
	Kept      string
	Discarded string
}

// EventType returns the event type identifier.
func (e FingerprintConflictEvent) EventType() string {
	return "FingerprintConflict"
}

// NewFingerprintConflictEvent creates a new FingerprintConflictEvent.
func NewFingerprintConflictEvent(mismatch *FingerprintMismatchError) FingerprintConflictEvent {
	return FingerprintConflictEvent{
		BaseEvent: NewBaseEvent(),
		Key:       mismatch.Key,
		Kept:      mismatch.Left,
		Discarded: mismatch.Right,
	}
}

// CoverageEvaluatedEvent is raised when coverage is evaluated against thresholds.
type CoverageEvaluatedEvent struct {
	BaseEvent
	Passed        bool
	SelectorCount int
	FailedCount   int
}

// EventType returns the event type identifier.
func (e CoverageEvaluatedEvent) EventType() string {
	return "CoverageEvaluated"
}

// NewCoverageEvaluatedEvent creates a new CoverageEvaluatedEvent.
func NewCoverageEvaluatedEvent(result ThresholdResult) CoverageEvaluatedEvent {
	return CoverageEvaluatedEvent{
		BaseEvent:     NewBaseEvent(),
		Passed:        result.Passed,
		SelectorCount: len(result.Selectors),
		FailedCount:   result.FailingCount(),
	}
}

// ThresholdViolatedEvent is raised when a category misses its requirement.
type ThresholdViolatedEvent struct {
	BaseEvent
	Selector string
	Category Category
	Actual   float64
	Required float64
}

// EventType returns the event type identifier.
func (e ThresholdViolatedEvent) EventType() string {
	return "ThresholdViolated"
}

// NewThresholdViolatedEvent creates a new ThresholdViolatedEvent.
func NewThresholdViolatedEvent(selector string, c CategoryResult) ThresholdViolatedEvent {
	return ThresholdViolatedEvent{
		BaseEvent: NewBaseEvent(),
		Selector:  selector,
		Category:  c.Category,
		Actual:    c.Percent,
		Required:  c.Required.Value(),
	}
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event DomainEvent) error
	PublishAll(events []DomainEvent) error
}

// EventCollector collects domain events for later publishing.
type EventCollector struct {
	events []DomainEvent
}

// NewEventCollector creates a new event collector.
func NewEventCollector() *EventCollector {
	return &EventCollector{
		events: make([]DomainEvent, 0),
	}
}

// Record adds an event to the collector.
func (c *EventCollector) Record(event DomainEvent) {
	c.events = append(c.events, event)
}

// Events returns all collected events.
func (c *EventCollector) Events() []DomainEvent {
	return c.events
}

// Clear removes all collected events.
func (c *EventCollector) Clear() {
	c.events = make([]DomainEvent, 0)
}

// HasEvents returns true if there are any collected events.
func (c *EventCollector) HasEvents() bool {
	return len(c.events) > 0
}

// RecordThresholdResult records the evaluation and one event per failed category.
func (c *EventCollector) RecordThresholdResult(result ThresholdResult) {
	c.Record(NewCoverageEvaluatedEvent(result))
	for _, s := range result.Selectors {
		for _, cr := range s.Categories {
			if cr.IsFailing() {
				c.Record(NewThresholdViolatedEvent(s.Selector, cr))
			}
		}
	}
}
