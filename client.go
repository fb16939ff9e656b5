package clustermap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/clustermap/api"
)

type Counter interface {
	Inc()
}

type Measure interface {
	Observe(secs float64)
}

type noopMetric struct{}

func (noopMetric) Inc()            {}
func (noopMetric) Observe(float64) {}

// Client reads the render surface of a clustermap server.
type Client struct {
	baseURL string
	cli     *http.Client
	metrics Metrics

	reqTimeout  time.Duration
	waitTimeout time.Duration
	retries     int
	retryWait   time.Duration
}

var (
	errRetryable = errors.New("", j.C("ERR_43d3926acd268ae8"))

	ErrDryRunBusy = errors.New("dry run already running", j.C("ERR_9a2e61c0f5d84b37"))
	ErrNotFound   = errors.New("not found", j.C("ERR_e4b7053d2c8a169f"))
)

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(client *Client) {
		client.baseURL = strings.TrimSuffix(url, "/")
	}
}

func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.cli = c
	}
}

func WithRetries(n int, wait time.Duration) ClientOption {
	return func(client *Client) {
		client.retries = n
		client.retryWait = wait
	}
}

type Metrics struct {
	Requests       Counter
	RequestErrors  Counter
	RequestLatency Measure
}

func (m *Metrics) defaultUnused() {
	if m.Requests == nil {
		m.Requests = noopMetric{}
	}
	if m.RequestErrors == nil {
		m.RequestErrors = noopMetric{}
	}
	if m.RequestLatency == nil {
		m.RequestLatency = noopMetric{}
	}
}

func WithMetrics(m Metrics) ClientOption {
	return func(client *Client) {
		client.metrics = m
	}
}

func NewClient(opts ...ClientOption) *Client {
	ret := &Client{
		cli:         http.DefaultClient,
		reqTimeout:  30 * time.Second,
		waitTimeout: time.Minute,
		retries:     4,
		retryWait:   time.Second,
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.metrics.defaultUnused()
	if ret.cli == nil {
		panic("no http client specified")
	}
	return ret
}

func wrapHTTPError(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*url.Error); ok {
		if e.Timeout() {
			return errors.Wrap(errRetryable, err.Error())
		}
	}
	return err
}

func (c *Client) doRetry(ctx context.Context, path string, timeout time.Duration) ([]byte, error) {
	retries := c.retries
	wait := c.retryWait
	for {
		resp, err := c.do(ctx, http.MethodGet, path, nil, timeout)
		if err == nil {
			return resp, nil
		}
		if !errors.IsAny(err, context.DeadlineExceeded, errRetryable) || retries <= 0 || ctx.Err() != nil {
			return nil, err
		}
		select {
		case <-time.After(wait):
			wait *= 2
			retries--
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		log.Info(ctx, "retrying request", j.MKV{"path": path})
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t0 := time.Now()
	c.metrics.Requests.Inc()
	b, err := c.roundTrip(ctx, method, path, body)
	if err != nil {
		c.metrics.RequestErrors.Inc()
		return nil, err
	}
	c.metrics.RequestLatency.Observe(time.Since(t0).Seconds())
	return b, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.cli.Do(req)
	if err != nil {
		return nil, wrapHTTPError(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	s := strings.TrimSpace(string(b))
	switch resp.StatusCode {
	case http.StatusOK:
		return b, nil
	case http.StatusNotFound:
		return nil, errors.Wrap(ErrNotFound, "", j.KV("path", path))
	case http.StatusConflict:
		return nil, errors.Wrap(ErrDryRunBusy, "")
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return nil, errors.Wrap(errRetryable, "server unavailable", j.MKV{"status": resp.StatusCode, "response": s})
	default:
		return nil, errors.New("request failed", j.MKV{"status": resp.StatusCode, "response": s})
	}
}

func (c *Client) post(ctx context.Context, path string, req any) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return c.do(ctx, http.MethodPost, path, b, c.reqTimeout)
}

func graphPath(name string) string {
	return "/clustermap/api/graph/" + url.PathEscape(name)
}

func (c *Client) GetGraph(ctx context.Context, name string) (api.Graph, error) {
	r, err := c.doRetry(ctx, graphPath(name), c.reqTimeout)
	if err != nil {
		return api.Graph{}, err
	}
	var resp api.Graph
	if err := json.Unmarshal(r, &resp); err != nil {
		return api.Graph{}, errors.Wrap(err, "")
	}
	return resp, nil
}

// WaitGraph blocks until the graph is past version or the server gives up
// waiting. It returns the graph's version at that point.
func (c *Client) WaitGraph(ctx context.Context, name string, version uint64) (api.WaitGraph, error) {
	path := graphPath(name) + "/wait?version=" + strconv.FormatUint(version, 10)
	r, err := c.doRetry(ctx, path, c.waitTimeout)
	if err != nil {
		return api.WaitGraph{}, err
	}
	var resp api.WaitGraph
	if err := json.Unmarshal(r, &resp); err != nil {
		return api.WaitGraph{}, errors.Wrap(err, "")
	}
	return resp, nil
}

// Watch calls f with the graph now and after every change until ctx is
// done or a request fails.
func (c *Client) Watch(ctx context.Context, name string, f func(api.Graph)) error {
	for {
		g, err := c.GetGraph(ctx, name)
		if err != nil {
			return err
		}
		f(g)

		version := g.Version
		for {
			w, err := c.WaitGraph(ctx, name, version)
			if err != nil {
				return err
			}
			if w.Changed {
				break
			}
		}
	}
}

func (c *Client) SetPositions(ctx context.Context, name string, pos map[string]api.Point) error {
	_, err := c.post(ctx, graphPath(name)+"/positions", api.SetPositions{Positions: pos})
	return err
}

func (c *Client) StartDryRun(ctx context.Context, req api.DryRun) (string, error) {
	r, err := c.post(ctx, graphPath("services")+"/dryrun", req)
	if err != nil {
		return "", err
	}
	var resp api.DryRunStarted
	if err := json.Unmarshal(r, &resp); err != nil {
		return "", errors.Wrap(err, "")
	}
	return resp.Session, nil
}

func (c *Client) EndDryRun(ctx context.Context) error {
	_, err := c.post(ctx, graphPath("services")+"/dryrun/end", struct{}{})
	return err
}

func (c *Client) GetHosts(ctx context.Context) ([]api.HostStatus, error) {
	r, err := c.doRetry(ctx, "/clustermap/api/hosts", c.reqTimeout)
	if err != nil {
		return nil, err
	}
	var resp api.GetHosts
	if err := json.Unmarshal(r, &resp); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return resp.Hosts, nil
}
