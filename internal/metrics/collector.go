package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/rttprobe/internal/core"
	"firestige.xyz/rttprobe/internal/ring"
)

// WorkerSource is a worker whose counters are exported on scrape.
type WorkerSource interface {
	CoreID() int
	Stats() core.WorkerStats
}

// PoolSource is a buffer pool whose counters are exported on scrape.
type PoolSource interface {
	Name() string
	Stats() ring.PoolStats
}

// RingSource is a ring whose occupancy is exported on scrape.
type RingSource interface {
	Name() string
	Len() int
	Cap() int
}

// Collector reads worker, pool and ring snapshots at scrape time, so hot
// loops only touch their own atomic counters.
type Collector struct {
	mu      sync.RWMutex
	workers []WorkerSource
	pools   []PoolSource
	rings   []RingSource

	buffers       *prometheus.Desc
	cycles        *prometheus.Desc
	records       *prometheus.Desc
	batches       *prometheus.Desc
	publishErrors *prometheus.Desc
	panics        *prometheus.Desc
	packetID      *prometheus.Desc

	poolOutstanding *prometheus.Desc
	poolOps         *prometheus.Desc
	ringLen         *prometheus.Desc
	ringCap         *prometheus.Desc
}

func NewCollector(constLabels prometheus.Labels) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}
	return &Collector{
		buffers:       desc("worker_buffers_total", "Dequeued buffers by outcome", "core", "outcome"),
		cycles:        desc("worker_cycles_total", "Dequeue cycles by kind", "core", "kind"),
		records:       desc("worker_records_published_total", "Probe records handed to the publisher", "core"),
		batches:       desc("worker_batches_published_total", "Batches handed to the publisher", "core"),
		publishErrors: desc("worker_publish_errors_total", "Batches lost by the worker", "core"),
		panics:        desc("worker_panics_total", "Cycles aborted by a recovered panic", "core"),
		packetID:      desc("worker_last_packet_id", "Last assigned packet id", "core"),

		poolOutstanding: desc("pool_outstanding_buffers", "Buffers currently out of the pool", "pool"),
		poolOps:         desc("pool_operations_total", "Pool operations by kind", "pool", "op"),
		ringLen:         desc("ring_entries", "Entries currently in the ring", "ring"),
		ringCap:         desc("ring_capacity", "Ring capacity", "ring"),
	}
}

func (c *Collector) AddWorker(w WorkerSource) {
	c.mu.Lock()
	c.workers = append(c.workers, w)
	c.mu.Unlock()
}

func (c *Collector) AddPool(p PoolSource) {
	c.mu.Lock()
	c.pools = append(c.pools, p)
	c.mu.Unlock()
}

func (c *Collector) AddRing(r RingSource) {
	c.mu.Lock()
	c.rings = append(c.rings, r)
	c.mu.Unlock()
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.buffers, c.cycles, c.records, c.batches, c.publishErrors, c.panics, c.packetID,
		c.poolOutstanding, c.poolOps, c.ringLen, c.ringCap,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	for _, w := range c.workers {
		id := strconv.Itoa(w.CoreID())
		s := w.Stats()
		counter(c.buffers, s.Accepted, id, "accepted")
		counter(c.buffers, s.NotIP, id, "not_ip")
		counter(c.buffers, s.NotUDP, id, "not_udp")
		counter(c.buffers, s.WrongPort, id, "wrong_port")
		counter(c.buffers, s.Malformed, id, "malformed")
		counter(c.buffers, s.BadPayload, id, "bad_payload")
		counter(c.cycles, s.Cycles, id, "busy")
		counter(c.cycles, s.IdlePolls, id, "idle")
		counter(c.records, s.RecordsPublished, id)
		counter(c.batches, s.BatchesPublished, id)
		counter(c.publishErrors, s.PublishErrors, id)
		counter(c.panics, s.Panics, id)
		gauge(c.packetID, float64(s.LastPacketID), id)
	}

	for _, p := range c.pools {
		s := p.Stats()
		gauge(c.poolOutstanding, float64(s.Outstanding), p.Name())
		counter(c.poolOps, s.Allocated, p.Name(), "get")
		counter(c.poolOps, s.Released, p.Name(), "release")
		counter(c.poolOps, s.DoubleReleases, p.Name(), "double_release")
		counter(c.poolOps, s.Exhausted, p.Name(), "exhausted")
	}

	for _, r := range c.rings {
		gauge(c.ringLen, float64(r.Len()), r.Name())
		gauge(c.ringCap, float64(r.Cap()), r.Name())
	}
}
