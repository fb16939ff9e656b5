package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const basePath = "/clustermap"

type Router interface {
	GET(path string, handle httprouter.Handle)
	POST(path string, handle httprouter.Handle)
}

type subRouter struct {
	r    Router
	base string
}

func SubRouter(r Router, basePath string) Router {
	return subRouter{r: r, base: basePath}
}

func (r subRouter) GET(path string, handle httprouter.Handle) {
	p := r.base + path
	r.r.GET(p, wrap(p, handle))
}

func (r subRouter) POST(path string, handle httprouter.Handle) {
	p := r.base + path
	r.r.POST(p, wrap(p, handle))
}

func wrap(path string, handle httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		t0 := time.Now()
		handle(w, r, p)
		httpHandle.WithLabelValues(path).Observe(time.Since(t0).Seconds())
	}
}

// CreateRouter serves the render surface. Dry runs started through it
// animate under ctx, so they end when the server shuts down.
func CreateRouter(ctx context.Context, d Deps) *httprouter.Router {
	r := httprouter.New()
	cm := SubRouter(r, basePath)

	cm.GET("/api/graph/:graph", GetGraphHandler(d))
	cm.GET("/api/graph/:graph/wait", WaitGraphHandler(d))
	cm.POST("/api/graph/:graph/positions", SetPositionsHandler(d))
	cm.POST("/api/graph/:graph/dryrun", StartDryRunHandler(ctx, d))
	cm.POST("/api/graph/:graph/dryrun/end", EndDryRunHandler(d))
	cm.GET("/api/hosts", GetHostsHandler(d))

	index := createWebApp(cm)

	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, basePath+"/api/") {
			http.NotFound(w, r)
		} else if strings.HasPrefix(r.URL.Path, basePath+"/") && index != nil {
			index(w, r, nil)
		} else if r.URL.Path != basePath+"/" {
			http.Redirect(w, r, basePath+"/", http.StatusTemporaryRedirect)
		} else {
			http.NotFound(w, r)
		}
	})
	return r
}

func CreateDebugRouter() *httprouter.Router {
	r := httprouter.New()
	r.Handler(http.MethodGet, "/debug/metrics", promhttp.Handler())
	r.HandlerFunc(http.MethodGet, "/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	return r
}
