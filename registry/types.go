package registry

import "fmt"

// Handle is an opaque reference to a registered object. The low 32 bits
// hold the slot index and the high 32 bits the slot generation, so a handle
// outliving its object never resolves to the slot's next occupant.
// Handle 0 is reserved and always invalid.
type Handle uint64

func makeHandle(slot, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(slot))
}

func (h Handle) slot() uint32 { return uint32(h) }
func (h Handle) gen() uint32  { return uint32(h >> 32) }

func (h Handle) String() string {
	return fmt.Sprintf("%#x", uint64(h))
}

// Scope is the node a name lives on. Names are unique per scope.
type Scope uint32

// Local is the scope of the running node.
const Local Scope = 0

// MaxNameLen bounds object names in bytes.
const MaxNameLen = 32

// Kind tags the type of a registered object.
type Kind uint8

const (
	// Any matches every kind in lookups.
	Any Kind = iota
	Task
	Semaphore
	Queue
	Partition
	Region
)

func (k Kind) String() string {
	switch k {
	case Any:
		return "any"
	case Task:
		return "task"
	case Semaphore:
		return "semaphore"
	case Queue:
		return "queue"
	case Partition:
		return "partition"
	case Region:
		return "region"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) matches(actual Kind) bool {
	return k == Any || k == actual
}

// EventType identifies an object lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDeleted
	EventReclaimed
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDeleted:
		return "deleted"
	case EventReclaimed:
		return "reclaimed"
	default:
		return "unknown"
	}
}

// Event is an object lifecycle notification.
type Event struct {
	Value  any
	Name   string
	Handle Handle
	Scope  Scope
	Kind   Kind
	Type   EventType
}

// Observer receives lifecycle notifications. It is called without the
// registry lock held and may call back into the registry.
type Observer interface {
	OnObjectEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnObjectEvent calls f.
func (f ObserverFunc) OnObjectEvent(e Event) { f(e) }

// Reclaimer is optionally implemented by objects that hold storage until
// the last reference to them is returned.
type Reclaimer interface {
	Reclaim()
}

// Info is a snapshot of one registry entry.
type Info struct {
	Value  any
	Name   string
	Handle Handle
	Scope  Scope
	Refs   uint32
	Kind   Kind
	Dead   bool
}
