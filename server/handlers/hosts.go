package handlers

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/luno/clustermap/api"
)

func GetHostsHandler(d Deps) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		hosts := d.Hosts()
		resp := api.GetHosts{Hosts: make([]api.HostStatus, 0, len(hosts))}
		for _, h := range hosts {
			hs := api.HostStatus{
				Host:      h.Host,
				Reachable: h.Reachable,
				Stopping:  h.Stopping,
				Kinds:     make(map[string]bool, len(h.Kinds)),
				Pollers:   make(map[string]string, len(h.Pollers)),
			}
			for k, ok := range h.Kinds {
				hs.Kinds[string(k)] = ok
			}
			for k, s := range h.Pollers {
				hs.Pollers[string(k)] = s.String()
			}
			resp.Hosts = append(resp.Hosts, hs)
		}
		writeJSON(r.Context(), w, resp)
	}
}
