package config

import (
	"bytes"
	"flag"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"gopkg.in/yaml.v3"
)

var configFile = flag.String("config", "", "path to the cluster config yaml")

var ErrInvalid = errors.New("invalid config", j.C("ERR_3e9d0b7c51a2f846"))

type Config struct {
	Cluster      string        `yaml:"cluster"`
	Hosts        []string      `yaml:"hosts"`
	Remote       []string      `yaml:"remote"`
	Commands     Commands      `yaml:"commands"`
	Intervals    Intervals     `yaml:"intervals"`
	Backoff      Backoff       `yaml:"backoff"`
	StorageHosts []Selector    `yaml:"storage_hosts"`
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	DryRunWindow time.Duration `yaml:"dry_run_window"`
}

// Commands are templates run on every host. {host} and {cluster} are
// replaced before running. An empty command disables that kind of poll.
type Commands struct {
	Connectivity  string `yaml:"connectivity"`
	Cluster       string `yaml:"cluster"`
	Storage       string `yaml:"storage"`
	StorageEvents string `yaml:"storage_events"`
}

type Intervals struct {
	Connectivity time.Duration `yaml:"connectivity"`
	Storage      time.Duration `yaml:"storage"`
	Cluster      time.Duration `yaml:"cluster"`
}

type Backoff struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

// Delay is the wait after the given number of consecutive failures.
func (b Backoff) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < failures && d < b.Max; i++ {
		d <<= 1
	}
	return min(d, b.Max)
}

type Selector struct {
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix"`
}

func (s Selector) MatchHost(host string) bool {
	if !strings.HasPrefix(host, s.Prefix) {
		return false
	}
	return matchWildcard(host, s.Name)
}

// StorageEnabled reports whether storage replication is polled on host.
// No selectors means every host.
func (c Config) StorageEnabled(host string) bool {
	if c.Commands.Storage == "" {
		return false
	}
	if len(c.StorageHosts) == 0 {
		return true
	}
	for _, s := range c.StorageHosts {
		if s.MatchHost(host) {
			return true
		}
	}
	return false
}

func matchWildcard(s string, match string) bool {
	if match == "" {
		return true
	}
	for i, sub := range strings.Split(match, "*") {
		if i == 0 && !strings.HasPrefix(s, sub) {
			return false
		}
		mIdx := strings.Index(s, sub)
		if mIdx == -1 {
			return false
		}
		s = s[mIdx+len(sub):]
	}
	if len(s) == 0 || match[len(match)-1] == '*' {
		return true
	}
	return false
}

func (c Config) withDefaults() Config {
	def := func(d *time.Duration, v time.Duration) {
		if *d == 0 {
			*d = v
		}
	}
	def(&c.Intervals.Connectivity, 5*time.Second)
	def(&c.Intervals.Storage, 10*time.Second)
	def(&c.Intervals.Cluster, 2*time.Second)
	def(&c.Backoff.Base, time.Second)
	def(&c.Backoff.Max, 30*time.Second)
	def(&c.LockTimeout, 2*time.Second)
	def(&c.DryRunWindow, 3*time.Second)
	return c
}

func (c Config) validate() error {
	if c.Cluster == "" {
		return errors.Wrap(ErrInvalid, "cluster name missing")
	}
	if c.Commands == (Commands{}) {
		return errors.Wrap(ErrInvalid, "no commands", j.KV("cluster", c.Cluster))
	}
	if c.Commands.StorageEvents != "" && c.Commands.Storage == "" {
		return errors.Wrap(ErrInvalid, "storage events need a storage command")
	}
	seen := make(map[string]bool)
	for _, h := range c.Hosts {
		if h == "" || seen[h] {
			return errors.Wrap(ErrInvalid, "empty or repeated host", j.KV("host", h))
		}
		seen[h] = true
	}
	if c.Backoff.Max < c.Backoff.Base {
		return errors.Wrap(ErrInvalid, "backoff max below base")
	}
	return nil
}

// Path is the config file named on the command line.
func Path() string {
	return *configFile
}

func LoadFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config", j.KV("path", path))
	}
	return decodeConfig(b)
}

func decodeConfig(content []byte) (Config, error) {
	var c Config
	d := yaml.NewDecoder(bytes.NewReader(content))
	d.KnownFields(true)
	if err := d.Decode(&c); err != nil {
		return Config{}, errors.Wrap(ErrInvalid, "", j.KV("cause", err.Error()))
	}
	c = c.withDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// HostDiff returns the hosts only in next and the hosts only in prev.
func HostDiff(prev, next Config) (added, removed []string) {
	for _, h := range next.Hosts {
		if !slices.Contains(prev.Hosts, h) {
			added = append(added, h)
		}
	}
	for _, h := range prev.Hosts {
		if !slices.Contains(next.Hosts, h) {
			removed = append(removed, h)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
