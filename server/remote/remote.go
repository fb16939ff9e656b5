// Package remote runs status commands on cluster hosts.
package remote

import (
	"context"
	"strings"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// ErrTransient covers every failure to get output from a host: the
// command could not be started, its output could not be read or it ran out
// of time. Callers retry.
var ErrTransient = errors.New("remote exec failed", j.C("ERR_8b1f6e2d04a7c953"))

// Result is the output of a command that ran to completion. A non-zero
// exit code is not an error.
type Result struct {
	Stdout   []byte
	ExitCode int
}

// Exec runs already expanded commands on a host.
type Exec interface {
	Run(ctx context.Context, host, command string, timeout time.Duration) (Result, error)

	// RunStreaming starts command and calls onChunk with its output as it
	// arrives, from a single goroutine. The returned handle ends the
	// command.
	RunStreaming(ctx context.Context, host, command string, onChunk func([]byte)) (Handle, error)
}

type Handle interface {
	Cancel()
	// Done is closed once the command exited and every chunk was delivered.
	Done() <-chan struct{}
	// Err is valid after Done is closed. It is nil for a clean exit.
	Err() error
}

// Expand fills the {host} and {cluster} placeholders of a template.
func Expand(tmpl, host, cluster string) string {
	return strings.NewReplacer("{host}", host, "{cluster}", cluster).Replace(tmpl)
}

func transient(err error, host string) error {
	return errors.Wrap(ErrTransient, "", j.MKV{"host": host, "cause": err.Error()})
}
