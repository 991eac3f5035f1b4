package model

// EventKind names a lifecycle step of a document.
type EventKind string

const (
	EventCreate      EventKind = "create"
	EventLoad        EventKind = "load"
	EventAdd         EventKind = "add"
	EventApplyOp     EventKind = "applyOp"
	EventApplyMetaOp EventKind = "applyMetaOp"
	EventDelete      EventKind = "delete"
	EventReap        EventKind = "reap"
)

// Event is passed to the hook installed with WithEventHook. Version is the
// document version after the step.
type Event struct {
	Kind    EventKind
	Name    string
	Version int
}

func (m *Model) emit(kind EventKind, name string, version int) {
	if m.onEvent != nil {
		m.onEvent(Event{Kind: kind, Name: name, Version: version})
	}
}
