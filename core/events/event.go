package events

// Event is a committed engine state change.
type Event interface {
	EventType() string
}

// Emitter receives events after the transition that produced them commits.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}
