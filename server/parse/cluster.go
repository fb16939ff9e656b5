package parse

import (
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

type HostState string

const (
	HostOnline  HostState = "online"
	HostOffline HostState = "offline"
	HostStandby HostState = "standby"
)

type ResourceKind string

const (
	KindPrimitive   ResourceKind = "primitive"
	KindGroup       ResourceKind = "group"
	KindClone       ResourceKind = "clone"
	KindMasterSlave ResourceKind = "ms"
	KindStonith     ResourceKind = "stonith"
)

type RunState string

const (
	StateUnknown RunState = "unknown"
	StateRunning RunState = "running"
	StateStopped RunState = "stopped"
	StateFailed  RunState = "failed"
)

type Role string

const (
	RoleStarted Role = "started"
	RoleMaster  Role = "master"
	RoleSlave   Role = "slave"
)

// ServiceKey is the (name, id) identity of a cluster resource.
type ServiceKey struct {
	Name string
	ID   string
}

func (k ServiceKey) String() string {
	return k.Name + ":" + k.ID
}

func ParseServiceKey(s string) (ServiceKey, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return ServiceKey{}, errors.Wrap(ErrParse, "invalid resource reference", j.KV("ref", s))
	}
	return ServiceKey{Name: s[:i], ID: s[i+1:]}, nil
}

type ResourceStatus struct {
	Key       ServiceKey
	Kind      ResourceKind
	Container *ServiceKey
	Host      string
	State     RunState
	Role      Role
}

type ConstraintKind string

const (
	ConstraintOrder      ConstraintKind = "order"
	ConstraintColocation ConstraintKind = "colocation"
)

// Constraint is a directed relation between two resources. For order
// constraints From starts before To. For colocation constraints To is
// placed with From.
type Constraint struct {
	ID    string
	Kind  ConstraintKind
	From  ServiceKey
	To    ServiceKey
	Score string
}

// ClusterStatus is one parsed cluster manager status frame. It is never
// modified after ParseClusterStatus returns it.
type ClusterStatus struct {
	Hosts       map[string]HostState
	DC          string
	Resources   map[ServiceKey]ResourceStatus
	Constraints []Constraint
}

// Has reports whether the resource is present in the status.
func (s *ClusterStatus) Has(k ServiceKey) bool {
	_, ok := s.Resources[k]
	return ok
}

// ParseClusterStatus parses the body of one cluster manager frame.
func ParseClusterStatus(body []byte) (*ClusterStatus, error) {
	ls := lines(body)
	if len(ls) == 0 {
		return nil, errors.Wrap(ErrParse, "empty frame")
	}
	if len(ls) == 1 && ls[0] == "error" {
		return nil, ErrStatusUnavailable
	}

	s := &ClusterStatus{
		Hosts:     make(map[string]HostState),
		Resources: make(map[ServiceKey]ResourceStatus),
	}
	for n, l := range ls {
		verb, args, kv := fields(l)
		var err error
		switch verb {
		case "host":
			err = parseHost(s, args)
		case "dc":
			if len(args) != 1 {
				err = errors.Wrap(ErrParse, "dc needs a host")
			} else {
				s.DC = args[0]
			}
		case "resource":
			err = parseResource(s, args, kv)
		case "order":
			err = parseConstraint(s, ConstraintOrder, args, kv["first"], kv["then"], kv["score"])
		case "colocation":
			err = parseConstraint(s, ConstraintColocation, args, kv["with"], kv["rsc"], kv["score"])
		}
		if err != nil {
			return nil, errors.Wrap(err, "", j.KV("line", n+1))
		}
	}
	return s, nil
}

func parseHost(s *ClusterStatus, args []string) error {
	if len(args) != 2 {
		return errors.Wrap(ErrParse, "host needs a name and state")
	}
	st := HostState(args[1])
	switch st {
	case HostOnline, HostOffline, HostStandby:
	default:
		return errors.Wrap(ErrParse, "invalid host state", j.KV("state", args[1]))
	}
	s.Hosts[args[0]] = st
	return nil
}

func parseResource(s *ClusterStatus, args []string, kv map[string]string) error {
	if len(args) != 1 || kv["id"] == "" {
		return errors.Wrap(ErrParse, "resource needs a name and id")
	}
	r := ResourceStatus{
		Key:   ServiceKey{Name: args[0], ID: kv["id"]},
		Kind:  KindPrimitive,
		Host:  kv["host"],
		State: StateUnknown,
		Role:  RoleStarted,
	}
	if k := kv["kind"]; k != "" {
		r.Kind = ResourceKind(k)
		switch r.Kind {
		case KindPrimitive, KindGroup, KindClone, KindMasterSlave, KindStonith:
		default:
			return errors.Wrap(ErrParse, "invalid resource kind", j.KV("kind", k))
		}
	}
	if st := kv["state"]; st != "" {
		r.State = RunState(st)
	}
	if ro := kv["role"]; ro != "" {
		r.Role = Role(ro)
	}
	if c := kv["container"]; c != "" {
		ck, err := ParseServiceKey(c)
		if err != nil {
			return err
		}
		r.Container = &ck
	}
	s.Resources[r.Key] = r
	return nil
}

func parseConstraint(s *ClusterStatus, kind ConstraintKind, args []string, from, to, score string) error {
	if len(args) != 1 || from == "" || to == "" {
		return errors.Wrap(ErrParse, "constraint needs an id and both resources", j.KV("kind", kind))
	}
	f, err := ParseServiceKey(from)
	if err != nil {
		return err
	}
	t, err := ParseServiceKey(to)
	if err != nil {
		return err
	}
	s.Constraints = append(s.Constraints, Constraint{
		ID: args[0], Kind: kind, From: f, To: t, Score: score,
	})
	return nil
}
