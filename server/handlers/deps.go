package handlers

import "github.com/luno/clustermap/server/ops"

type Deps interface {
	Services() *ops.ServiceGraph
	Storage() *ops.StorageGraph
	Hosts() []ops.HostStatus
	StatusKnown() bool
}
