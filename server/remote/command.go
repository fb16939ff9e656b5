package remote

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
)

const chunkSize = 32 << 10

// DefaultPrefix runs commands through the local shell.
var DefaultPrefix = []string{"sh", "-c"}

// Command runs commands as a child process: the configured argv prefix
// with the command appended as the last argument, e.g.
// ["ssh", "-o", "BatchMode=yes", "{host}"].
type Command struct {
	prefix  []string
	cluster string
}

func NewCommand(prefix []string, cluster string) *Command {
	if len(prefix) == 0 {
		prefix = DefaultPrefix
	}
	return &Command{prefix: prefix, cluster: cluster}
}

var _ Exec = (*Command)(nil)

func (c *Command) cmd(ctx context.Context, host, command string) *exec.Cmd {
	argv := make([]string, 0, len(c.prefix)+1)
	for _, a := range c.prefix {
		argv = append(argv, Expand(a, host, c.cluster))
	}
	argv = append(argv, Expand(command, host, c.cluster))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = time.Second
	return cmd
}

func (c *Command) Run(ctx context.Context, host, command string, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := c.cmd(ctx, host, command).Output()
	if ctx.Err() != nil {
		return Result{}, transient(ctx.Err(), host)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Stdout: out, ExitCode: exitErr.ExitCode()}, nil
	} else if err != nil {
		return Result{}, transient(err, host)
	}
	return Result{Stdout: out}, nil
}

func (c *Command) RunStreaming(ctx context.Context, host, command string, onChunk func([]byte)) (Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := c.cmd(ctx, host, command)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, transient(err, host)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, transient(err, host)
	}

	h := &handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()

		readErr := pump(stdout, onChunk)
		waitErr := cmd.Wait()
		switch {
		case ctx.Err() != nil:
			h.err = ctx.Err()
		case readErr != nil:
			h.err = transient(readErr, host)
		case waitErr != nil:
			h.err = transient(waitErr, host)
		}
	}()
	return h, nil
}

func pump(r io.Reader, onChunk func([]byte)) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onChunk(chunk)
		}
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
	}
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (h *handle) Cancel() {
	h.once.Do(h.cancel)
}

func (h *handle) Done() <-chan struct{} {
	return h.done
}

func (h *handle) Err() error {
	<-h.done
	return h.err
}
