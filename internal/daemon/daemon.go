// Package daemon implements the probe process lifecycle: it builds the
// shared ring, runs one worker per configured core, feeds the ring and
// serves metrics until a shutdown signal.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/rttprobe/internal/affinity"
	"firestige.xyz/rttprobe/internal/config"
	"firestige.xyz/rttprobe/internal/ingest"
	"firestige.xyz/rttprobe/internal/log"
	"firestige.xyz/rttprobe/internal/metrics"
	"firestige.xyz/rttprobe/internal/pipeline"
	"firestige.xyz/rttprobe/internal/publisher"
	"firestige.xyz/rttprobe/internal/ring"
	"firestige.xyz/rttprobe/internal/transport"
	"firestige.xyz/rttprobe/internal/version"
)

const (
	startupTimeout         = 10 * time.Second
	metricsShutdownTimeout = 5 * time.Second
)

// Daemon manages the probe process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	pidFile    string
	logger     log.Logger

	// Core components
	pool          *ring.Pool
	rx            *ring.Ring[*ring.Buffer]
	binder        transport.Binder
	workers       []*pipeline.Worker
	feeders       []ingest.Feeder
	collector     *metrics.Collector
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	feedCancel   context.CancelFunc
	workGroup    *errgroup.Group
	feedGroup    *errgroup.Group
	workersDone  chan struct{}
	workErr      error
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopOnce     sync.Once
	stopErr      error
}

// New loads the configuration at configPath and creates a daemon.
func New(configPath, pidFile string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	d := NewWithConfig(cfg, pidFile)
	d.configPath = configPath
	return d, nil
}

// NewWithConfig creates a daemon from an already validated configuration.
func NewWithConfig(cfg *config.GlobalConfig, pidFile string) *Daemon {
	d := &Daemon{
		config:       cfg,
		pidFile:      pidFile,
		logger:       log.GetLogger(),
		workersDone:  make(chan struct{}),
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start initializes all components and returns once every worker is
// running. A worker that fails to bind fails Start; workers already started
// are stopped again.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := log.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	d.logger = log.GetLogger()
	d.logger.WithFields(map[string]interface{}{
		"version":  version.Version,
		"hostname": d.config.Node.Hostname,
		"config":   d.configPath,
		"workers":  len(d.config.Workers),
	}).Info("starting rttprobe daemon")

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// From here on a failure undoes what was started.
	fail := func(err error) error {
		if stopErr := d.Stop(); stopErr != nil {
			return stopErr
		}
		return err
	}

	// 3. Shared ring and buffer pool
	if err := d.buildRing(); err != nil {
		return fail(err)
	}

	// 4. Publish transport
	binder, err := transport.New(d.config.Publisher.Type, transport.Options{
		SendTimeout: d.config.Publisher.SendTimeout,
		Node:        d.config.Node.Hostname,
		Raw:         d.config.Publisher.Options,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create transport: %w", err))
	}
	d.binder = binder

	// 5. Metrics
	d.collector = metrics.NewCollector(prometheus.Labels{"node": d.config.Node.Hostname})
	d.collector.AddPool(d.pool)
	d.collector.AddRing(d.rx)
	if err := d.startMetrics(); err != nil {
		return fail(fmt.Errorf("failed to start metrics server: %w", err))
	}

	// 6. Workers, then the feeders that fill their ring
	if err := d.startWorkers(); err != nil {
		return fail(err)
	}
	if err := d.startFeeders(); err != nil {
		return fail(fmt.Errorf("failed to start ingest: %w", err))
	}

	d.logger.Info("daemon started successfully")
	return nil
}

// Run blocks until shutdown is triggered, then stops the daemon.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. TriggerShutdown, called on ingest failure or by an embedding caller
//  3. every worker exiting
//
// SIGHUP logs a stats snapshot.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	d.logger.Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.logger.WithField("signal", sig.String()).Info("received shutdown signal")
				return d.Stop()
			case syscall.SIGHUP:
				d.logStats()
			}

		case <-d.shutdownChan:
			d.logger.Info("shutdown triggered")
			return d.Stop()

		case <-d.workersDone:
			d.logger.Warn("all workers exited")
			return d.Stop()

		case <-d.ctx.Done():
			return d.Stop()
		}
	}
}

// Stop performs graceful shutdown: feeders first so nothing new enters the
// ring, then workers, which finish at most their current cycle. Buffers left
// in the ring are released. Stop is idempotent and returns the first worker
// error.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.logger.Info("initiating graceful shutdown")

		// 1. Stop feeders
		if d.feedCancel != nil {
			d.feedCancel()
			if err := d.feedGroup.Wait(); err != nil {
				d.logger.WithError(err).Error("ingest stopped with error")
			}
		}

		// 2. Stop workers
		if d.workGroup != nil {
			for _, w := range d.workers {
				w.Stop()
			}
			<-d.workersDone
			d.stopErr = d.workErr
		}

		// 3. Release what is still queued
		if d.rx != nil {
			if n := drain(d.rx); n > 0 {
				d.logger.WithField("buffers", n).Info("released buffers left in ring")
			}
		}
		d.logStats()

		// 4. Stop metrics server
		if d.metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			if err := d.metricsServer.Stop(ctx); err != nil {
				d.logger.WithError(err).Error("error stopping metrics server")
			}
			cancel()
		}

		// 5. Cancel context, unregister signals, remove PID file
		d.cancel()
		if d.sigChan != nil {
			signal.Stop(d.sigChan)
		}
		if err := d.removePIDFile(); err != nil {
			d.logger.WithError(err).Error("error removing PID file")
		}

		d.logger.Info("daemon stopped gracefully")

		// 6. Flush logs
		_ = log.Close()
	})
	return d.stopErr
}

// TriggerShutdown asks Run to stop the daemon. It never blocks.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Workers returns the running workers.
func (d *Daemon) Workers() []*pipeline.Worker {
	return d.workers
}

// Feeders returns the ingest feeders.
func (d *Daemon) Feeders() []ingest.Feeder {
	return d.feeders
}

// Pool returns the shared buffer pool.
func (d *Daemon) Pool() *ring.Pool {
	return d.pool
}

// Ring returns the shared ring. With ingest type none it is fed by the
// embedding process.
func (d *Daemon) Ring() *ring.Ring[*ring.Buffer] {
	return d.rx
}

// MetricsAddr returns the metrics listen address, or "" when disabled.
func (d *Daemon) MetricsAddr() string {
	if d.metricsServer == nil {
		return ""
	}
	return d.metricsServer.Addr()
}

func (d *Daemon) buildRing() error {
	rc := d.config.Ring
	pool, err := ring.NewPool(rc.Name, rc.PoolSize, rc.BufferSize)
	if err != nil {
		return fmt.Errorf("failed to create buffer pool: %w", err)
	}
	rx, err := ring.NewRing[*ring.Buffer](rc.Name, rc.Capacity)
	if err != nil {
		return fmt.Errorf("failed to create ring: %w", err)
	}
	d.pool, d.rx = pool, rx
	d.logger.WithFields(map[string]interface{}{
		"ring":        rx.Name(),
		"capacity":    rx.Cap(),
		"pool_size":   rc.PoolSize,
		"buffer_size": rc.BufferSize,
	}).Info("buffer ring created")
	return nil
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		d.logger.Info("metrics server disabled")
		return nil
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(d.collector); err != nil {
		return err
	}
	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path,
		prometheus.Gatherers{prometheus.DefaultGatherer, reg})
	return d.metricsServer.Start()
}

func (d *Daemon) startWorkers() error {
	var pin func(int) error
	if d.config.Worker.PinThreads {
		pin = affinity.Pin
	}

	d.workGroup = &errgroup.Group{}
	for _, entry := range d.config.Workers {
		w := pipeline.NewWorker(pipeline.Config{
			Source:    d.rx,
			Binder:    d.binder,
			BindPort:  entry.BindPort,
			ProbePort: uint16(d.config.Probe.UDPPort),
			BurstSize: d.config.Worker.BurstSize,
			Publisher: publisher.Config{
				QueueSize:    d.config.Publisher.QueueSize,
				SendTimeout:  d.config.Publisher.SendTimeout,
				FlushTimeout: d.config.Publisher.FlushTimeout,
			},
			Pin: pin,
		})
		d.workers = append(d.workers, w)
		d.collector.AddWorker(w)

		coreID := entry.CoreID
		d.workGroup.Go(func() error {
			return w.Start(coreID)
		})
	}
	go func() {
		d.workErr = d.workGroup.Wait()
		close(d.workersDone)
	}()

	return d.awaitWorkers(startupTimeout)
}

// awaitWorkers waits until every worker is running or one has exited.
func (d *Daemon) awaitWorkers(timeout time.Duration) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)
	for _, w := range d.workers {
		for w.State() != pipeline.StateRunning {
			select {
			case <-w.Done():
				return fmt.Errorf("worker core %d exited during startup", w.CoreID())
			case <-deadline:
				return fmt.Errorf("workers not running after %s", timeout)
			case <-ticker.C:
			}
		}
	}
	return nil
}

func (d *Daemon) startFeeders() error {
	ic := d.config.Ingest
	probePort := uint16(d.config.Probe.UDPPort)

	switch ic.Type {
	case "none":
		d.logger.Info("no ingest configured, ring is fed externally")
		return nil
	case "pcap":
		f, err := ingest.NewPcapFeeder(ingest.PcapConfig{
			Files:     ic.PcapFiles,
			Loop:      ic.Loop,
			Prefilter: ic.Prefilter,
			ProbePort: probePort,
		}, d.pool, d.rx)
		if err != nil {
			return err
		}
		d.feeders = append(d.feeders, f)
	case "afpacket":
		f, err := ingest.NewAFPacketFeeder(ingest.AFPacketConfig{
			Interface: ic.Interface,
			Geometry: ingest.Geometry{
				FrameSize: ic.FrameSize,
				BlockSize: ic.BlockSize,
				NumBlocks: ic.NumBlocks,
			},
			Prefilter: ic.Prefilter,
			ProbePort: probePort,
		}, d.pool, d.rx)
		if err != nil {
			return err
		}
		d.feeders = append(d.feeders, f)
	default:
		return fmt.Errorf("unknown ingest type %q", ic.Type)
	}

	feedCtx, cancel := context.WithCancel(d.ctx)
	d.feedCancel = cancel
	d.feedGroup = &errgroup.Group{}
	for _, f := range d.feeders {
		d.feedGroup.Go(func() error {
			err := f.Run(feedCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				d.logger.WithError(err).WithField("feeder", f.Name()).Error("ingest failed")
				d.TriggerShutdown()
				return err
			}
			d.logger.WithField("feeder", f.Name()).Info("ingest finished")
			return nil
		})
	}
	return nil
}

func (d *Daemon) logStats() {
	for _, w := range d.workers {
		s := w.Stats()
		d.logger.WithFields(map[string]interface{}{
			"core":           w.CoreID(),
			"state":          string(w.State()),
			"cycles":         s.Cycles,
			"dequeued":       s.Dequeued,
			"accepted":       s.Accepted,
			"malformed":      s.Malformed,
			"batches":        s.BatchesPublished,
			"publish_errors": s.PublishErrors,
			"panics":         s.Panics,
		}).Info("worker stats")
	}
	for _, f := range d.feeders {
		s := f.Stats()
		d.logger.WithFields(map[string]interface{}{
			"feeder":         f.Name(),
			"frames":         s.Frames,
			"ring_full":      s.RingFull,
			"pool_exhausted": s.PoolExhausted,
			"filtered":       s.Filtered,
		}).Info("feeder stats")
	}
}

// drain releases every buffer still queued in r.
func drain(r *ring.Ring[*ring.Buffer]) int {
	n := 0
	for {
		b, ok := r.Dequeue()
		if !ok {
			return n
		}
		_ = b.Release()
		n++
	}
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	d.logger.WithField("path", d.pidFile).WithField("pid", pid).Debug("PID file written")
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
