package events

import "time"

// DomainEvent is a fact recorded after a committed state change.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

// Attributed events name the user whose action caused them.
type Attributed interface {
	DomainEvent
	ActorUID() string
}

// ActorOf returns the acting user of ev, or "" for system events.
func ActorOf(ev DomainEvent) string {
	if a, ok := ev.(Attributed); ok {
		return a.ActorUID()
	}
	return ""
}
