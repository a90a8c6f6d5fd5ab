package application

import (
	"log/slog"

	"github.com/felixgeelhaar/covkit/internal/domain"
)

// LogPublisher publishes domain events as debug log records.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(event domain.DomainEvent) error {
	attrs := []any{"event", event.EventType()}
	switch e := event.(type) {
	case domain.CoverageAggregatedEvent:
		attrs = append(attrs, "files", e.Files, "in_scope", e.InScope, "placeholders", e.Placeholders, "dropped", e.Dropped)
	case domain.FingerprintConflictEvent:
		attrs = append(attrs, "file", e.Key.String(), "kept", e.Kept, "discarded", e.Discarded)
	case domain.CoverageEvaluatedEvent:
		attrs = append(attrs, "passed", e.Passed, "selectors", e.SelectorCount, "failed", e.FailedCount)
	case domain.ThresholdViolatedEvent:
		attrs = append(attrs, "selector", e.Selector, "category", e.Category, "actual", e.Actual, "required", e.Required)
	}
	p.Logger.Debug("domain event", attrs...)
	return nil
}

func (p LogPublisher) PublishAll(events []domain.DomainEvent) error {
	for _, e := range events {
		if err := p.Publish(e); err != nil {
			return err
		}
	}
	return nil
}
