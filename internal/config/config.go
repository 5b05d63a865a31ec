// Package config handles global configuration loading using viper.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/rttprobe/internal/core"
	"firestige.xyz/rttprobe/internal/log"
)

// RootKey is the top-level YAML key; env vars use the RTTPROBE_ prefix
// through the key replacer (rttprobe.probe.udp_port → RTTPROBE_PROBE_UDP_PORT).
const RootKey = "rttprobe"

// GlobalConfig represents the top-level static configuration.
type GlobalConfig struct {
	Node      NodeConfig      `mapstructure:"node" yaml:"node"`
	Ring      RingConfig      `mapstructure:"ring" yaml:"ring"`
	Probe     ProbeConfig     `mapstructure:"probe" yaml:"probe"`
	Worker    WorkerConfig    `mapstructure:"worker" yaml:"worker"`
	Workers   []WorkerEntry   `mapstructure:"workers" yaml:"workers"`
	Publisher PublisherConfig `mapstructure:"publisher" yaml:"publisher"`
	Ingest    IngestConfig    `mapstructure:"ingest" yaml:"ingest"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Log       log.Config      `mapstructure:"log" yaml:"log"`
}

// ─── Node Identity ───

// NodeConfig identifies this probe in metrics and published messages.
type NodeConfig struct {
	IP       string `mapstructure:"ip" yaml:"ip"`             // Empty = auto-detect
	Hostname string `mapstructure:"hostname" yaml:"hostname"` // Empty = os.Hostname()
}

// ─── Buffers ───

// RingConfig sizes the shared packet ring and its buffer pool.
type RingConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Capacity   int    `mapstructure:"capacity" yaml:"capacity"`       // rounded up to a power of two
	PoolSize   int    `mapstructure:"pool_size" yaml:"pool_size"`     // preallocated buffers
	BufferSize int    `mapstructure:"buffer_size" yaml:"buffer_size"` // bytes per buffer
}

// ─── Probe Protocol ───

type ProbeConfig struct {
	UDPPort int `mapstructure:"udp_port" yaml:"udp_port"`
}

// ─── Workers ───

// WorkerConfig applies to every worker.
type WorkerConfig struct {
	BurstSize  int  `mapstructure:"burst_size" yaml:"burst_size"`
	PinThreads bool `mapstructure:"pin_threads" yaml:"pin_threads"`
}

// WorkerEntry is one worker: the core it runs on and its publish port.
type WorkerEntry struct {
	CoreID   int `mapstructure:"core_id" yaml:"core_id"`
	BindPort int `mapstructure:"bind_port" yaml:"bind_port"`
}

// ─── Publisher ───

// PublisherConfig configures the batch publisher and its transport. Options
// are transport specific and decoded by the transport.
type PublisherConfig struct {
	Type         string                 `mapstructure:"type" yaml:"type"` // zmq | kafka
	QueueSize    int                    `mapstructure:"queue_size" yaml:"queue_size"`
	FlushTimeout time.Duration          `mapstructure:"flush_timeout" yaml:"flush_timeout"`
	SendTimeout  time.Duration          `mapstructure:"send_timeout" yaml:"send_timeout"`
	Options      map[string]interface{} `mapstructure:"options" yaml:"options,omitempty"`
}

// ─── Ingest ───

// IngestConfig selects the producer that fills the ring.
type IngestConfig struct {
	Type      string   `mapstructure:"type" yaml:"type"` // afpacket | pcap | none
	Interface string   `mapstructure:"interface" yaml:"interface,omitempty"`
	PcapFiles []string `mapstructure:"pcap_files" yaml:"pcap_files,omitempty"`
	Loop      bool     `mapstructure:"loop" yaml:"loop"`
	Prefilter bool     `mapstructure:"prefilter" yaml:"prefilter"`
	// AF_PACKET ring geometry
	FrameSize int `mapstructure:"frame_size" yaml:"frame_size"`
	BlockSize int `mapstructure:"block_size" yaml:"block_size"`
	NumBlocks int `mapstructure:"num_blocks" yaml:"num_blocks"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Loading ───

type configRoot struct {
	RTTProbe GlobalConfig `mapstructure:"rttprobe" yaml:"rttprobe"`
}

// Load loads configuration from file. An empty path loads defaults and
// environment overrides only.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.RTTProbe

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("rttprobe.ring.name", "rttprobe_rx")
	v.SetDefault("rttprobe.ring.capacity", 4096)
	v.SetDefault("rttprobe.ring.pool_size", 8192)
	v.SetDefault("rttprobe.ring.buffer_size", 2048)

	v.SetDefault("rttprobe.probe.udp_port", 58168)

	v.SetDefault("rttprobe.worker.burst_size", 32)
	v.SetDefault("rttprobe.worker.pin_threads", true)
	v.SetDefault("rttprobe.workers", []map[string]interface{}{{"core_id": 0, "bind_port": 5555}})

	v.SetDefault("rttprobe.publisher.type", "zmq")
	v.SetDefault("rttprobe.publisher.queue_size", 64)
	v.SetDefault("rttprobe.publisher.flush_timeout", "2s")
	v.SetDefault("rttprobe.publisher.send_timeout", "100ms")

	v.SetDefault("rttprobe.ingest.type", "none")
	v.SetDefault("rttprobe.ingest.prefilter", true)
	v.SetDefault("rttprobe.ingest.frame_size", 2048)
	v.SetDefault("rttprobe.ingest.block_size", 1<<20)
	v.SetDefault("rttprobe.ingest.num_blocks", 64)

	v.SetDefault("rttprobe.metrics.enabled", true)
	v.SetDefault("rttprobe.metrics.listen", ":9091")
	v.SetDefault("rttprobe.metrics.path", "/metrics")

	v.SetDefault("rttprobe.log.level", "info")
	v.SetDefault("rttprobe.log.pattern", log.DefaultPattern)
	v.SetDefault("rttprobe.log.time", log.DefaultTimeLayout)
	v.SetDefault("rttprobe.log.async.enabled", true)
	v.SetDefault("rttprobe.log.async.buffer_size", 4096)
	v.SetDefault("rttprobe.log.async.poll_interval", "10ms")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	var errs []error
	invalid := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...)))
	}

	// ── Log ──
	switch cfg.Log.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		invalid("log.level %q (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}

	// ── Ring ──
	if cfg.Ring.Capacity <= 0 {
		invalid("ring.capacity must be positive, got %d", cfg.Ring.Capacity)
	}
	if cfg.Ring.PoolSize <= 0 {
		invalid("ring.pool_size must be positive, got %d", cfg.Ring.PoolSize)
	}
	if cfg.Ring.BufferSize < 64 {
		invalid("ring.buffer_size must be at least 64, got %d", cfg.Ring.BufferSize)
	}

	// ── Probe ──
	if !validPort(cfg.Probe.UDPPort) {
		invalid("probe.udp_port %d out of range", cfg.Probe.UDPPort)
	}

	// ── Workers ──
	if cfg.Worker.BurstSize <= 0 || cfg.Worker.BurstSize > 1024 {
		invalid("worker.burst_size must be in 1..1024, got %d", cfg.Worker.BurstSize)
	}
	if len(cfg.Workers) == 0 {
		invalid("at least one worker is required")
	}
	ports := make(map[int]int, len(cfg.Workers))
	for i, w := range cfg.Workers {
		if w.CoreID < 0 {
			invalid("workers[%d].core_id must not be negative", i)
		}
		if cfg.Publisher.Type == "kafka" {
			continue
		}
		if !validPort(w.BindPort) {
			invalid("workers[%d].bind_port %d out of range", i, w.BindPort)
			continue
		}
		if j, dup := ports[w.BindPort]; dup {
			invalid("workers[%d] and workers[%d] share bind_port %d", j, i, w.BindPort)
		}
		ports[w.BindPort] = i
	}

	// ── Publisher ──
	switch cfg.Publisher.Type {
	case "zmq", "kafka":
	default:
		invalid("publisher.type %q (must be zmq/kafka)", cfg.Publisher.Type)
	}
	if cfg.Publisher.QueueSize <= 0 {
		invalid("publisher.queue_size must be positive")
	}
	if cfg.Publisher.FlushTimeout <= 0 {
		invalid("publisher.flush_timeout must be positive")
	}
	if cfg.Publisher.SendTimeout <= 0 {
		invalid("publisher.send_timeout must be positive")
	}

	// ── Ingest ──
	switch cfg.Ingest.Type {
	case "none":
	case "afpacket":
		if cfg.Ingest.Interface == "" {
			invalid("ingest.interface is required for afpacket")
		}
	case "pcap":
		if len(cfg.Ingest.PcapFiles) == 0 {
			invalid("ingest.pcap_files is required for pcap")
		}
	default:
		invalid("ingest.type %q (must be afpacket/pcap/none)", cfg.Ingest.Type)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	// ── Node identity ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}
	if cfg.Node.IP == "" {
		cfg.Node.IP = detectNodeIP()
	}
	return nil
}

// Dump renders cfg as YAML under the root key.
func Dump(cfg *GlobalConfig) ([]byte, error) {
	return yaml.Marshal(configRoot{RTTProbe: *cfg})
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// detectNodeIP returns the first non-loopback, non-link-local IPv4 address,
// or "" when there is none.
func detectNodeIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || ip4.IsLinkLocalUnicast() {
				continue
			}
			return ip4.String()
		}
	}
	return ""
}
