package parse

import (
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// ModuleNotLoaded is the literal body the storage helper prints when the
// replication kernel module is absent.
const ModuleNotLoaded = "nm"

type LinkKey struct {
	Resource string
	Volume   string
}

func (k LinkKey) String() string {
	return k.Resource + "/" + k.Volume
}

func parseLinkKey(s string) (LinkKey, bool) {
	res, vol, ok := strings.Cut(s, "/")
	if !ok || res == "" || vol == "" {
		return LinkKey{}, false
	}
	return LinkKey{Resource: res, Volume: vol}, true
}

type LinkState string

const (
	LinkConnected    LinkState = "connected"
	LinkSyncing      LinkState = "syncing"
	LinkDisconnected LinkState = "disconnected"
	LinkSplitBrain   LinkState = "split-brain"
)

// Link is the local side of one replicated volume as seen from a host.
type Link struct {
	Key        LinkKey
	Peer       string
	Connection string
	Role       string
	PeerRole   string
	Disk       string
	PeerDisk   string
	SplitBrain bool
}

func (l Link) State() LinkState {
	switch {
	case l.SplitBrain:
		return LinkSplitBrain
	case l.Connection == "Connected":
		return LinkConnected
	case strings.HasPrefix(l.Connection, "Sync"),
		strings.HasPrefix(l.Connection, "PausedSync"),
		strings.HasPrefix(l.Connection, "Verify"):
		return LinkSyncing
	default:
		return LinkDisconnected
	}
}

func (l Link) Primary() bool {
	return l.Role == "Primary"
}

// StorageStatus is the replication state reported by one host. Values are
// copy-on-write: Apply returns a new status.
type StorageStatus struct {
	Loaded      bool
	Fingerprint string
	Links       map[LinkKey]Link
}

func ParseStorageStatus(body []byte) (*StorageStatus, error) {
	ls := lines(body)
	if len(ls) == 1 {
		switch ls[0] {
		case "error":
			return nil, ErrStatusUnavailable
		case ModuleNotLoaded:
			return &StorageStatus{Links: map[LinkKey]Link{}}, nil
		}
	}

	s := &StorageStatus{Loaded: true, Links: make(map[LinkKey]Link)}
	for n, l := range ls {
		verb, args, kv := fields(l)
		if verb == "fingerprint" {
			if len(args) != 1 {
				return nil, errors.Wrap(ErrParse, "fingerprint needs a value", j.KV("line", n+1))
			}
			s.Fingerprint = args[0]
			continue
		}
		k, ok := parseLinkKey(verb)
		if !ok {
			continue
		}
		link := Link{Key: k}
		applyFields(&link, args, kv)
		s.Links[k] = link
	}
	return s, nil
}

func applyFields(l *Link, args []string, kv map[string]string) {
	if p, ok := kv["peer"]; ok {
		l.Peer = p
	}
	for _, a := range args {
		if a == "split-brain" {
			l.SplitBrain = true
			continue
		}
		name, val, ok := strings.Cut(a, ":")
		if !ok {
			continue
		}
		local, remote, _ := strings.Cut(val, "/")
		switch name {
		case "cs":
			l.Connection = val
			if val == "Connected" {
				l.SplitBrain = false
			}
		case "ro":
			l.Role, l.PeerRole = local, remote
		case "ds":
			l.Disk, l.PeerDisk = local, remote
		}
	}
}

// Apply returns a copy of s with the event applied.
func (s *StorageStatus) Apply(ev StorageEvent) *StorageStatus {
	next := &StorageStatus{
		Loaded:      s.Loaded,
		Fingerprint: s.Fingerprint,
		Links:       make(map[LinkKey]Link, len(s.Links)),
	}
	for k, l := range s.Links {
		next.Links[k] = l
	}

	switch ev.Type {
	case EventUnloaded:
		next.Loaded = false
		next.Links = map[LinkKey]Link{}
	case EventDestroy:
		delete(next.Links, ev.Key)
	case EventChange:
		next.Loaded = true
		l, ok := next.Links[ev.Key]
		if !ok {
			l = Link{Key: ev.Key}
		}
		applyFields(&l, ev.args, ev.kv)
		next.Links[ev.Key] = l
	case EventSplitBrain:
		if l, ok := next.Links[ev.Key]; ok {
			l.SplitBrain = true
			next.Links[ev.Key] = l
		}
	}
	return next
}
