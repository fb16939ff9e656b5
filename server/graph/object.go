package graph

import (
	"github.com/luno/clustermap/server/parse"
	"github.com/luno/clustermap/server/registry"
)

// ObjectKey identifies the domain object a vertex stands for. It is stable
// across updates of the object.
type ObjectKey string

// Object is one of HostNode, ServiceNode, StorageVolumeNode or
// PlaceholderNode. The set is closed.
type Object interface {
	Key() ObjectKey
	object()
}

type HostNode struct {
	Name  string
	State parse.HostState
}

func (h HostNode) Key() ObjectKey { return HostKey(h.Name) }
func (HostNode) object()          {}

func (h HostNode) Online() bool {
	return h.State == parse.HostOnline
}

type ServiceNode struct {
	Service registry.Service
	Host    string
	State   parse.RunState
}

func (s ServiceNode) Key() ObjectKey { return ServiceKey(s.Service.Key()) }
func (ServiceNode) object()          {}

type StorageVolumeNode struct {
	Link  parse.LinkKey
	Host  string
	State parse.LinkState
	Role  string
	Disk  string
	Drift bool
}

func (s StorageVolumeNode) Key() ObjectKey { return VolumeKey(s.Link, s.Host) }
func (StorageVolumeNode) object()          {}

// PlaceholderNode anchors a set of services that share constraints. It is
// only ever created and removed interactively.
type PlaceholderNode struct {
	ID string
}

func (p PlaceholderNode) Key() ObjectKey { return ObjectKey("ph/" + p.ID) }
func (PlaceholderNode) object()          {}

func HostKey(name string) ObjectKey {
	return ObjectKey("host/" + name)
}

func ServiceKey(k parse.ServiceKey) ObjectKey {
	return ObjectKey("svc/" + k.String())
}

func VolumeKey(k parse.LinkKey, host string) ObjectKey {
	return ObjectKey("vol/" + k.String() + "@" + host)
}

// isNew reports whether the object was created locally and not yet
// confirmed by the cluster.
func isNew(o Object) bool {
	switch o := o.(type) {
	case ServiceNode:
		return o.Service.New
	case HostNode, StorageVolumeNode, PlaceholderNode:
		return false
	default:
		panic("unknown graph object")
	}
}

// isAnchored reports whether the object must never be removed by an orphan
// sweep.
func isAnchored(o Object) bool {
	switch o.(type) {
	case HostNode, PlaceholderNode:
		return true
	case ServiceNode, StorageVolumeNode:
		return false
	default:
		panic("unknown graph object")
	}
}
