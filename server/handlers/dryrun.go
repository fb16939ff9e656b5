package handlers

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/clustermap/api"
	"github.com/luno/clustermap/server/graph"
	"github.com/luno/clustermap/server/ops"
	"github.com/luno/clustermap/server/parse"
	"github.com/luno/clustermap/server/registry"
)

var errBadProposal = errors.New("bad dry run proposal", j.C("ERR_0d4c8a61e9b37f25"))

func proposal(req api.DryRun) (ops.Proposal, error) {
	var p ops.Proposal
	for _, v := range req.Vertices {
		switch v.Kind {
		case api.VertexService:
			if v.Name == "" || v.ID == "" {
				return ops.Proposal{}, errors.Wrap(errBadProposal, "service needs name and id")
			}
			kind := parse.ResourceKind(v.ServiceKind)
			if kind == "" {
				kind = parse.KindPrimitive
			}
			p.Vertices = append(p.Vertices, graph.ServiceNode{
				Service: registry.Service{Name: v.Name, ID: v.ID, Kind: kind, New: true},
				Host:    v.Host,
			})
		case api.VertexPlaceholder:
			if v.ID == "" {
				return ops.Proposal{}, errors.Wrap(errBadProposal, "placeholder needs id")
			}
			p.Vertices = append(p.Vertices, graph.PlaceholderNode{ID: v.ID})
		default:
			return ops.Proposal{}, errors.Wrap(errBadProposal, "unsupported vertex", j.KV("kind", v.Kind))
		}
	}
	for _, e := range req.Edges {
		tag, ok := parseTag(e.Tag)
		if !ok || tag == graph.TagReplication {
			return ops.Proposal{}, errors.Wrap(errBadProposal, "unsupported tag", j.KV("tag", e.Tag))
		}
		p.Edges = append(p.Edges, ops.ProposedEdge{
			From: graph.ObjectKey(e.From),
			To:   graph.ObjectKey(e.To),
			Tag:  tag,
		})
	}
	return p, nil
}

// StartDryRunHandler arms a dry run on the services graph and animates
// the proposal in the background. Only one dry run runs at a time.
func StartDryRunHandler(ctx context.Context, d Deps) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if p.ByName("graph") != ops.ServicesGraphName {
			http.NotFound(w, r)
			return
		}
		var req api.DryRun
		if !readJSON(w, r, &req) {
			return
		}
		prop, err := proposal(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		dr := d.Services().DryRun()
		session, err := dr.Arm(r.Context())
		if errors.Is(err, ops.ErrDryRunBusy) {
			http.Error(w, "Dry Run Busy", http.StatusConflict)
			return
		} else if err != nil {
			log.Error(r.Context(), errors.Wrap(err, "arm dry run"))
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}

		go func() {
			err := dr.Animate(ctx, session, prop)
			if err != nil {
				log.Error(ctx, errors.Wrap(err, "dry run", j.KV("session", session)))
			}
		}()
		writeJSON(r.Context(), w, api.DryRunStarted{Session: session})
	}
}

func EndDryRunHandler(d Deps) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if p.ByName("graph") != ops.ServicesGraphName {
			http.NotFound(w, r)
			return
		}
		if err := d.Services().DryRun().End(r.Context()); err != nil {
			log.Error(r.Context(), errors.Wrap(err, "end dry run"))
			http.Error(w, "Internal Error", http.StatusInternalServerError)
		}
	}
}
