package parse

import "strings"

type EventType int

const (
	EventChange EventType = iota + 1
	EventDestroy
	EventSplitBrain
	EventUnloaded
)

// StorageEvent is a single replication state transition.
type StorageEvent struct {
	Type EventType
	Key  LinkKey

	args []string
	kv   map[string]string
}

// ParseStorageEvent turns one line of the storage event stream into at most
// one event. Unrecognised lines yield false.
func ParseStorageEvent(line string) (StorageEvent, bool) {
	line = strings.TrimSpace(strings.ToValidUTF8(line, "�"))
	if line == ModuleNotLoaded {
		return StorageEvent{Type: EventUnloaded}, true
	}
	verb, args, kv := fields(line)
	if len(args) == 0 {
		return StorageEvent{}, false
	}
	var typ EventType
	switch verb {
	case "exists", "create", "change":
		typ = EventChange
	case "destroy":
		typ = EventDestroy
	case "split-brain":
		typ = EventSplitBrain
	default:
		return StorageEvent{}, false
	}
	k, ok := parseLinkKey(args[0])
	if !ok {
		return StorageEvent{}, false
	}
	return StorageEvent{Type: typ, Key: k, args: args[1:], kv: kv}, true
}
