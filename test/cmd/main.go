// Command fakehost stands in for a cluster host. Point the daemon's remote
// prefix at it, e.g. remote: ["fakehost", "-host", "{host}"], and use the
// kind names below as commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/clustermap/server/parse"
)

var (
	host     = flag.String("host", "node1", "name of the host being faked")
	hosts    = flag.String("hosts", "node1,node2,node3", "comma separated hosts of the fake cluster")
	interval = flag.Duration("interval", 2*time.Second, "time between streamed updates")
	failRate = flag.Int("fail_rate", 5, "percentage of polls that fail")
)

func main() {
	flag.Parse()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	kind := strings.Join(flag.Args(), " ")
	f := fake{
		host:  *host,
		hosts: strings.Split(*hosts, ","),
		r:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	err := f.run(ctx, kind, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return
	} else if errors.Is(err, errFailed) {
		os.Exit(255)
	} else if err != nil {
		log.Error(ctx, err)
		os.Exit(1)
	}
}

var errFailed = errors.New("simulated failure", j.C("ERR_61f0c9d3a7e25b84"))

type fake struct {
	host  string
	hosts []string
	r     *rand.Rand
}

func (f fake) run(ctx context.Context, kind string, w io.Writer) error {
	switch kind {
	case "connectivity":
		return f.fail()
	case "storage":
		if err := f.fail(); err != nil {
			return err
		}
		_, err := io.WriteString(w, f.storageStatus())
		return err
	case "storage-events":
		return f.every(ctx, func() error {
			_, err := io.WriteString(w, f.storageEvent()+"\n")
			return err
		})
	case "cluster":
		return f.every(ctx, func() error {
			_, err := fmt.Fprintf(w, "%s\n%s%s\n", parse.StartMarker, f.clusterStatus(), parse.DoneMarker)
			return err
		})
	default:
		return errors.New("unknown command", j.KV("command", kind))
	}
}

func (f fake) fail() error {
	if f.r.Intn(100) < *failRate {
		return errFailed
	}
	return nil
}

func (f fake) every(ctx context.Context, emit func() error) error {
	t := time.NewTicker(*interval)
	defer t.Stop()
	for {
		if err := emit(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

var hostStates = map[parse.HostState]int{
	parse.HostOnline:  18,
	parse.HostStandby: 1,
	parse.HostOffline: 1,
}

var runStates = map[parse.RunState]int{
	parse.StateRunning: 20,
	parse.StateStopped: 2,
	parse.StateFailed:  1,
}

var services = []string{"ip", "fs", "db", "web", "queue"}

var dependsOn = map[string]map[string]int{
	"fs":    {"ip": 1},
	"db":    {"fs": 3, "ip": 1},
	"web":   {"db": 2, "queue": 1, "": 1},
	"queue": {"db": 1, "": 2},
}

func (f fake) clusterStatus() string {
	if f.r.Intn(100) < *failRate {
		return "error\n"
	}
	var b strings.Builder
	for _, h := range f.hosts {
		fmt.Fprintf(&b, "host %s %s\n", h, ChooseWeighted(f.r, hostStates))
	}
	for _, s := range services {
		fmt.Fprintf(&b, "resource %s id=1 host=%s state=%s\n",
			s, f.hosts[f.r.Intn(len(f.hosts))], ChooseWeighted(f.r, runStates))
	}
	var n int
	for s, deps := range dependsOn {
		dep := ChooseWeighted(f.r, deps)
		if dep == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "order o%d first=%s:1 then=%s:1\n", n, dep, s)
		if f.r.Intn(2) == 0 {
			fmt.Fprintf(&b, "colocation c%d rsc=%s:1 with=%s:1\n", n, s, dep)
		}
	}
	return b.String()
}

// peers pairs every host with the next one, one replicated resource per
// pair.
func (f fake) peers() map[string]string {
	ret := make(map[string]string)
	for i, h := range f.hosts {
		if h != f.host || len(f.hosts) < 2 {
			continue
		}
		next := f.hosts[(i+1)%len(f.hosts)]
		prev := f.hosts[(i+len(f.hosts)-1)%len(f.hosts)]
		ret[fmt.Sprintf("r%d/0", i)] = next
		ret[fmt.Sprintf("r%d/0", (i+len(f.hosts)-1)%len(f.hosts))] = prev
	}
	return ret
}

var connStates = map[string]int{
	"Connected":    20,
	"SyncSource":   2,
	"WFConnection": 1,
}

func (f fake) storageStatus() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fingerprint %s\n", ChooseWeighted(f.r, map[string]int{"c0ffee": 30, "decaf": 1}))
	for link, peer := range f.peers() {
		role := "Secondary/Primary"
		if f.host < peer {
			role = "Primary/Secondary"
		}
		fmt.Fprintf(&b, "%s peer=%s cs:%s ro:%s ds:UpToDate/UpToDate\n",
			link, peer, ChooseWeighted(f.r, connStates), role)
	}
	return b.String()
}

func (f fake) storageEvent() string {
	for link := range f.peers() {
		if f.r.Intn(50) == 0 {
			return "split-brain " + link
		}
		return fmt.Sprintf("change %s cs:%s", link, ChooseWeighted(f.r, connStates))
	}
	return parse.ModuleNotLoaded
}
