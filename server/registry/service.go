package registry

import "github.com/luno/clustermap/server/parse"

// Service is a cluster resource as known to this process. New marks a
// service created locally that the cluster has not reported yet.
type Service struct {
	Name      string
	ID        string
	Kind      parse.ResourceKind
	Role      parse.Role
	Container *parse.ServiceKey

	New      bool
	Removed  bool
	Orphaned bool
}

func (s Service) Key() parse.ServiceKey {
	return parse.ServiceKey{Name: s.Name, ID: s.ID}
}

// Prefix is the administrative id prefix for the service's kind and role.
func (s Service) Prefix() string {
	switch s.Kind {
	case parse.KindGroup:
		return "grp_"
	case parse.KindMasterSlave:
		return "ms_"
	case parse.KindClone:
		if s.Role == parse.RoleMaster || s.Role == parse.RoleSlave {
			return "ms_"
		}
		return "cl_"
	case parse.KindStonith:
		return "stonith_"
	default:
		return "res_"
	}
}

// AdminID is the identifier the cluster manager knows the service by.
func (s Service) AdminID() string {
	return s.Prefix() + s.Name + "_" + s.ID
}

func (s Service) containerKey() string {
	if s.Container == nil {
		return ""
	}
	return s.Container.Name + "_" + s.Container.ID
}
