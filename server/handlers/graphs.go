package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/clustermap/api"
	"github.com/luno/clustermap/server/graph"
	"github.com/luno/clustermap/server/ops"
)

const maxWait = 30 * time.Second

type namedGraph interface {
	Graph() *graph.Graph
	SetPositions(ctx context.Context, pos map[graph.ObjectKey]graph.Point) error
}

func lookupGraph(d Deps, name string) (namedGraph, bool) {
	switch name {
	case ops.ServicesGraphName:
		return d.Services(), true
	case ops.StorageGraphName:
		return d.Storage(), true
	default:
		return nil, false
	}
}

func GetGraphHandler(d Deps) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		ctx := r.Context()
		g, ok := lookupGraph(d, p.ByName("graph"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		view, err := g.Graph().View(ctx)
		if errors.Is(err, graph.ErrLockTimeout) {
			http.Error(w, "Graph Busy", http.StatusServiceUnavailable)
			return
		} else if err != nil {
			log.Error(ctx, errors.Wrap(err, "graph view"))
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}
		writeJSON(ctx, w, renderGraph(view, d.StatusKnown()))
	}
}

// WaitGraphHandler blocks until the graph moves past the version given in
// the query, the request ends or a bounded wait elapses.
func WaitGraphHandler(d Deps) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		ctx := r.Context()
		g, ok := lookupGraph(d, p.ByName("graph"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		seen, err := strconv.ParseUint(r.URL.Query().Get("version"), 10, 64)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}

		changes, unsubscribe := g.Graph().Subscribe()
		defer unsubscribe()

		t := time.NewTimer(maxWait)
		defer t.Stop()
		for {
			if v := g.Graph().Version(); v != seen {
				writeJSON(ctx, w, api.WaitGraph{Version: v, Changed: true})
				return
			}
			select {
			case <-changes:
			case <-t.C:
				writeJSON(ctx, w, api.WaitGraph{Version: seen})
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func SetPositionsHandler(d Deps) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		ctx := r.Context()
		g, ok := lookupGraph(d, p.ByName("graph"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		var req api.SetPositions
		if !readJSON(w, r, &req) {
			return
		}
		pos := make(map[graph.ObjectKey]graph.Point, len(req.Positions))
		for k, pt := range req.Positions {
			pos[graph.ObjectKey(k)] = graph.Point{X: pt.X, Y: pt.Y}
		}
		err := g.SetPositions(ctx, pos)
		if errors.Is(err, graph.ErrLockTimeout) {
			http.Error(w, "Graph Busy", http.StatusServiceUnavailable)
			return
		} else if err != nil {
			log.Error(ctx, errors.Wrap(err, "set positions", j.KV("graph", p.ByName("graph"))))
			http.Error(w, "Internal Error", http.StatusInternalServerError)
		}
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return false
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error(ctx, errors.Wrap(err, "json marshal"))
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(b)
	if err != nil {
		log.Error(ctx, err)
	}
}
