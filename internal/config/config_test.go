package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/rttprobe/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rttprobe.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
rttprobe:
  node:
    hostname: probe-1
    ip: 10.0.0.1
  ring:
    capacity: 1000
  probe:
    udp_port: 9000
  workers:
    - core_id: 2
      bind_port: 5001
    - core_id: 3
      bind_port: 5002
  publisher:
    type: zmq
    queue_size: 16
    flush_timeout: 500ms
  ingest:
    type: pcap
    pcap_files: [a.pcap, b.pcap]
    loop: true
  log:
    level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "probe-1", cfg.Node.Hostname)
	assert.Equal(t, "10.0.0.1", cfg.Node.IP)
	assert.Equal(t, 1000, cfg.Ring.Capacity)
	assert.Equal(t, 8192, cfg.Ring.PoolSize)
	assert.Equal(t, 9000, cfg.Probe.UDPPort)
	assert.Equal(t, 32, cfg.Worker.BurstSize)
	assert.Equal(t, []WorkerEntry{{CoreID: 2, BindPort: 5001}, {CoreID: 3, BindPort: 5002}}, cfg.Workers)
	assert.Equal(t, 16, cfg.Publisher.QueueSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Publisher.FlushTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Publisher.SendTimeout)
	assert.Equal(t, []string{"a.pcap", "b.pcap"}, cfg.Ingest.PcapFiles)
	assert.True(t, cfg.Ingest.Loop)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Async.Enabled)
	assert.Equal(t, 10*time.Millisecond, cfg.Log.Async.PollInterval)
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 58168, cfg.Probe.UDPPort)
	assert.Equal(t, "zmq", cfg.Publisher.Type)
	assert.Equal(t, "none", cfg.Ingest.Type)
	assert.Equal(t, []WorkerEntry{{CoreID: 0, BindPort: 5555}}, cfg.Workers)
	assert.NotEmpty(t, cfg.Node.Hostname)
	assert.Equal(t, ":9091", cfg.Metrics.Listen)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RTTPROBE_PROBE_UDP_PORT", "12345")
	t.Setenv("RTTPROBE_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12345, cfg.Probe.UDPPort)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadPublisherOptions(t *testing.T) {
	path := writeConfig(t, `
rttprobe:
  workers:
    - core_id: 1
  publisher:
    type: kafka
    options:
      brokers: [k1:9092, k2:9092]
      topic: flow-rtt
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kafka", cfg.Publisher.Type)
	assert.Equal(t, "flow-rtt", cfg.Publisher.Options["topic"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GlobalConfig)
	}{
		{"bad log level", func(c *GlobalConfig) { c.Log.Level = "chatty" }},
		{"zero ring", func(c *GlobalConfig) { c.Ring.Capacity = 0 }},
		{"tiny buffers", func(c *GlobalConfig) { c.Ring.BufferSize = 16 }},
		{"probe port", func(c *GlobalConfig) { c.Probe.UDPPort = 70000 }},
		{"burst", func(c *GlobalConfig) { c.Worker.BurstSize = 0 }},
		{"no workers", func(c *GlobalConfig) { c.Workers = nil }},
		{"duplicate port", func(c *GlobalConfig) {
			c.Workers = []WorkerEntry{{CoreID: 0, BindPort: 5555}, {CoreID: 1, BindPort: 5555}}
		}},
		{"bind port", func(c *GlobalConfig) { c.Workers[0].BindPort = 0 }},
		{"publisher type", func(c *GlobalConfig) { c.Publisher.Type = "carrier-pigeon" }},
		{"queue size", func(c *GlobalConfig) { c.Publisher.QueueSize = 0 }},
		{"afpacket interface", func(c *GlobalConfig) { c.Ingest.Type = "afpacket" }},
		{"pcap files", func(c *GlobalConfig) { c.Ingest.Type = "pcap" }},
		{"ingest type", func(c *GlobalConfig) { c.Ingest.Type = "dpdk" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.ValidateAndApplyDefaults(), core.ErrConfigInvalid)
		})
	}
}

func TestValidateKafkaIgnoresBindPort(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Publisher.Type = "kafka"
	cfg.Workers = []WorkerEntry{{CoreID: 0}, {CoreID: 1}}
	assert.NoError(t, cfg.ValidateAndApplyDefaults())
}

func TestDump(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	out, err := Dump(cfg)
	require.NoError(t, err)

	var doc map[string]map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &doc))
	require.Contains(t, doc, RootKey)
	assert.Contains(t, string(out), "flush_timeout: 2s")
	assert.Contains(t, string(out), "udp_port: 58168")
}
