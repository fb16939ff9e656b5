package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/julienschmidt/httprouter"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	jlog "github.com/luno/jettison/log"

	"github.com/luno/clustermap/server/config"
	"github.com/luno/clustermap/server/graph"
	"github.com/luno/clustermap/server/handlers"
	"github.com/luno/clustermap/server/ops"
	"github.com/luno/clustermap/server/remote"
)

var (
	listen      = flag.String("listen", ":80", "address of the render surface")
	debugListen = flag.String("debug_listen", ":8080", "address of the metrics and readiness endpoints")
)

const shutdownTimeout = 30 * time.Second

func main() {
	flag.Parse()
	InitLogging(os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		jlog.Error(ctx, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadFile(config.Path())
	if err != nil {
		return err
	}

	var pool *redis.Pool
	if ops.RedisConfigured() {
		pool, err = ops.NewRedisPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	opts := []graph.Option{graph.WithLockTimeout(cfg.LockTimeout)}
	services := ops.NewServiceGraph(ops.OpenPositions(pool, cfg.Cluster, ops.ServicesGraphName), cfg.DryRunWindow, opts...)
	storage := ops.NewStorageGraph(ops.OpenPositions(pool, cfg.Cluster, ops.StorageGraphName), opts...)
	mon := ops.NewMonitor(cfg, remote.NewCommand(cfg.Remote, cfg.Cluster), services, storage)

	for _, h := range cfg.Hosts {
		if err := mon.StartHost(ctx, h); err != nil {
			return err
		}
	}
	jlog.Info(ctx, "monitoring cluster", j.MKV{"cluster": cfg.Cluster, "hosts": len(cfg.Hosts)})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runWebServer(ctx, handlers.CreateRouter(ctx, mon), *listen)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runWebServer(ctx, handlers.CreateDebugRouter(), *debugListen)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := config.Watch(ctx, config.Path(), func(next config.Config) {
			if err := mon.Reload(ctx, next); err != nil {
				jlog.Error(ctx, errors.Wrap(err, "reload config"))
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			jlog.Error(ctx, errors.Wrap(err, "config watch"))
		}
	}()

	wg.Wait()
	return shutdown(mon)
}

// shutdown stops every poller and waits for them before the last
// positions are saved.
func shutdown(mon *ops.Monitor) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := mon.Services().DryRun().End(ctx); err != nil {
		jlog.Error(ctx, errors.Wrap(err, "end dry run"))
	}
	mon.StopAll(ctx)
	if err := mon.WaitAll(ctx); err != nil {
		return errors.Wrap(err, "wait for hosts")
	}
	if !mon.AllDown() {
		return errors.New("pollers still running after shutdown")
	}

	if err := mon.Services().SavePositions(ctx); err != nil {
		return err
	}
	if err := mon.Storage().SavePositions(ctx); err != nil {
		return err
	}
	jlog.Info(ctx, "shutdown complete")
	return nil
}

func runWebServer(ctx context.Context, router *httprouter.Router, addr string) {
	srv := &http.Server{
		BaseContext: func(listener net.Listener) context.Context { return ctx },
		Handler:     router,
		Addr:        addr,
	}
	go shutdownOnCancel(ctx, srv)
	jlog.Info(ctx, "server listening", j.KV("address", addr))
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
	jlog.Info(ctx, "server terminated", j.KV("address", addr))
}

func shutdownOnCancel(ctx context.Context, server *http.Server) {
	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	jlog.Info(ctx, "shutting down http server")
	_ = server.Shutdown(ctx)
}
