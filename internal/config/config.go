// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"grimm.is/glasswall/internal/errors"
	"grimm.is/glasswall/internal/logging"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, errors.KindValidation, "invalid duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config is the daemon configuration.
type Config struct {
	// RuleFile is the YAML rule list evaluated against flows.
	RuleFile string `yaml:"rule_file"`
	// GeoIPDB is an optional MaxMind country database backing geoip().
	GeoIPDB string `yaml:"geoip_db"`
	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`

	IO      IOConfig       `yaml:"io"`
	Workers WorkersConfig  `yaml:"workers"`
	Logging logging.Config `yaml:"logging"`
}

// IOConfig configures the packet source.
type IOConfig struct {
	// QueueNum is the NFQUEUE number to bind.
	QueueNum uint16 `yaml:"queue_num"`
	// QueueSize is the kernel-side queue length.
	QueueSize uint32 `yaml:"queue_size"`
	// ReadBuffer is the netlink socket read buffer in bytes.
	ReadBuffer int `yaml:"read_buffer"`
	// AcceptMark and DropMark are the packet marks set on stream-wide
	// verdicts so nftables rules can stop queueing decided flows.
	AcceptMark int `yaml:"accept_mark"`
	DropMark   int `yaml:"drop_mark"`
}

// WorkersConfig bounds the worker pool.
type WorkersConfig struct {
	// Count is the number of workers; 0 means one per logical core.
	Count int `yaml:"count"`
	// QueueSize bounds each worker's packet queue.
	QueueSize int `yaml:"queue_size"`
	// TCPMaxBufferedPagesTotal bounds stream buffering pool-wide.
	TCPMaxBufferedPagesTotal int `yaml:"tcp_max_buffered_pages_total"`
	// TCPMaxBufferedPagesPerConn bounds stream buffering per flow.
	TCPMaxBufferedPagesPerConn int `yaml:"tcp_max_buffered_pages_per_conn"`
	// TCPTimeout evicts idle TCP flows.
	TCPTimeout Duration `yaml:"tcp_timeout"`
	// UDPMaxStreams caps the per-worker UDP flow table; LRU eviction.
	UDPMaxStreams int `yaml:"udp_max_streams"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		IO: IOConfig{
			QueueNum:   100,
			QueueSize:  1024,
			ReadBuffer: 4 << 20,
			AcceptMark: 1001,
			DropMark:   1002,
		},
		Workers: WorkersConfig{
			Count:                      runtime.NumCPU(),
			QueueSize:                  1024,
			TCPMaxBufferedPagesTotal:   4096,
			TCPMaxBufferedPagesPerConn: 64,
			TCPTimeout:                 Duration(10 * time.Minute),
			UDPMaxStreams:              4096,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, errors.KindNotFound, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, errors.KindValidation, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.RuleFile == "" {
		return errors.New(errors.KindValidation, "rule_file is required")
	}
	if c.Workers.Count < 0 {
		return errors.Errorf(errors.KindValidation, "workers.count must be >= 0, got %d", c.Workers.Count)
	}
	if c.Workers.QueueSize <= 0 {
		return errors.Errorf(errors.KindValidation, "workers.queue_size must be > 0, got %d", c.Workers.QueueSize)
	}
	if c.Workers.UDPMaxStreams <= 0 {
		return errors.Errorf(errors.KindValidation, "workers.udp_max_streams must be > 0, got %d", c.Workers.UDPMaxStreams)
	}
	if c.Workers.TCPTimeout <= 0 {
		return errors.Errorf(errors.KindValidation, "workers.tcp_timeout must be > 0, got %s", c.Workers.TCPTimeout)
	}
	return nil
}
