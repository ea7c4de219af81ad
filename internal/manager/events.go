package manager

import "time"

// Event represents a supervisor lifecycle event: a processed worker event or
// a supervisor-side action such as a spawn or a dropped signal.
type Event struct {
	Name        string         `json:"name"`
	GeneratorID int64          `json:"generator_id,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Time        time.Time      `json:"time"`
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
