// Package events implements §9's fixed event-kind enum and typed-observer
// bus, replacing ad hoc listener strings. Grounded on the teacher's
// SubscribeXxxEvent(ch chan<- T) event.Subscription idiom (tos/api_backend.go
// wires BlockChain's event.Feed the same way for ChainEvent/ChainHeadEvent/
// RemovedLogsEvent): a caller-provided channel plus a cancellable
// subscription handle, generalized here to one bus carrying all eleven
// kinds instead of one Feed per concern.
package events

import "sync"

// Kind is one of §9's fixed event kinds.
type Kind string

const (
	BlockProposed      Kind = "BlockProposed"
	VoteCast           Kind = "VoteCast"
	BlockCommitted     Kind = "BlockCommitted"
	BlockRejected      Kind = "BlockRejected"
	RoundTimeout       Kind = "RoundTimeout"
	ValidatorFailed    Kind = "ValidatorFailed"
	ValidatorRecovered Kind = "ValidatorRecovered"
	PartitionDetected  Kind = "PartitionDetected"
	PartitionResolved  Kind = "PartitionResolved"
	AccusationRaised   Kind = "Accusation"
	Slashed            Kind = "Slashed"
)

// Event pairs a kind with its payload. Payload shapes are documented per
// kind at the Emit call sites in consensus/poa and faulttolerance; the bus
// itself stays untyped so one channel can carry every kind.
type Event struct {
	Kind    Kind
	Payload interface{}
}

// Subscription is the handle returned by Subscribe; callers must call
// Unsubscribe when done listening to stop further deliveries and release
// the channel.
type Subscription interface {
	Unsubscribe()
}

type subscriber struct {
	ch     chan<- Event
	kinds  map[Kind]bool // nil means "all kinds"
	closed bool
}

type subscription struct {
	bus *Bus
	sub *subscriber
}

func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.sub.closed {
		return
	}
	s.sub.closed = true
	for i, sub := range s.bus.subs {
		if sub == s.sub {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
}

// Bus is the shared event sink consensus/poa.EventSink and
// faulttolerance.EventSink are both structurally compatible with: both
// packages declare `Emit(kind string, data interface{})`, and Bus.Emit has
// that exact signature, so a single *Bus value satisfies both interfaces
// without either package importing this one.
type Bus struct {
	mu   sync.Mutex
	subs []*subscriber
}

// New builds an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers ch to receive events. If kinds is empty, ch receives
// every kind; otherwise only the listed kinds. Delivery is non-blocking: a
// full channel drops the event rather than stalling the emitting task,
// since consensus/faulttolerance must never block on an observer.
func (b *Bus) Subscribe(ch chan<- Event, kinds ...Kind) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	var set map[Kind]bool
	if len(kinds) > 0 {
		set = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			set[k] = true
		}
	}
	sub := &subscriber{ch: ch, kinds: set}
	b.subs = append(b.subs, sub)
	return &subscription{bus: b, sub: sub}
}

// Emit satisfies both consensus/poa.EventSink and faulttolerance.EventSink.
// kind is matched against the Kind enum by value; an unrecognized string is
// still delivered as-is so a caller extending the enum doesn't need this
// package's cooperation.
func (b *Bus) Emit(kind string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev := Event{Kind: Kind(kind), Payload: data}
	for _, sub := range b.subs {
		if sub.kinds != nil && !sub.kinds[ev.Kind] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
