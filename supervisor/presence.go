package supervisor

// PresenceEventKind classifies a device-presence event.
type PresenceEventKind int

const (
	// DeviceAdded indicates the device became reachable.
	DeviceAdded PresenceEventKind = iota
	// DeviceRemoved indicates the device became unreachable.
	DeviceRemoved
)

// PresenceEvent is a single device appeared/disappeared signal.
type PresenceEvent struct {
	Kind     PresenceEventKind
	DeviceID string
}

// PresenceMonitor delivers device-presence events to a handler. The
// transport layer implements it; delivery may happen from its own I/O
// goroutine, including synchronously from within Subscribe when the
// device is already gone.
type PresenceMonitor interface {
	Subscribe(handler func(PresenceEvent)) error
	Unsubscribe() error
}
