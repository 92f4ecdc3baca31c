package notify

// One-way lifecycle and load notifications emitted by rooms. The owning
// process consumes them; rooms never wait for a reply.

type Event interface {
	event()
}

type RoomCreated struct {
	Name        string
	CmdPort     int
	DataPort    int
	MsgPort     int
	MaxLoad     int
	CurrentLoad int
	Private     bool
	Key         string
}

type LoadChanged struct {
	Name        string
	CurrentLoad int
}

type RoomInfo struct {
	Name        string
	CmdPort     int
	MaxLoad     int
	CurrentLoad int
	Private     bool
	Timestamp   int64
}

type RoomClosed struct {
	Name string
}

// RoomCheckedOut reports a successful keep-alive so the owner can persist
// the checkout time.
type RoomCheckedOut struct {
	Name string
}

// RoomDestroyed follows RoomClosed for non-permanent rooms once their log
// files are gone.
type RoomDestroyed struct {
	Name string
}

func (RoomCreated) event() {}
func (LoadChanged) event() {}
func (RoomInfo) event() {}
func (RoomClosed) event() {}
func (RoomCheckedOut) event() {}
func (RoomDestroyed) event() {}

// Bus is a buffered fan-in of room events. Publishing is best-effort: if the
// consumer falls behind, events are dropped rather than blocking a room.
type Bus struct {
	ch chan Event
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{ch: make(chan Event, buffer)}
}

func (b *Bus) Publish(e Event) {
	select {
	case b.ch <- e:
	default:
	}
}

// PublishSync waits for buffer space instead of dropping. Use it for events
// whose loss would leak state on the consumer side, such as RoomDestroyed:
// a dropped destroy strands the room's persisted record forever.
func (b *Bus) PublishSync(e Event) {
	b.ch <- e
}

func (b *Bus) Events() <-chan Event {
	return b.ch
}

func (b *Bus) Close() {
	close(b.ch)
}
