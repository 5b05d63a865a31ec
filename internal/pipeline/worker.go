// Package pipeline implements the per-core probe worker: dequeue a burst of
// captured frames, classify and decode each, release it, then publish the
// cycle's records as one batch.
package pipeline

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/rttprobe/internal/core"
	"firestige.xyz/rttprobe/internal/core/decoder"
	"firestige.xyz/rttprobe/internal/log"
	"firestige.xyz/rttprobe/internal/publisher"
	"firestige.xyz/rttprobe/internal/ring"
	"firestige.xyz/rttprobe/internal/transport"
)

// DefaultBurstSize is the maximum number of buffers dequeued per cycle.
const DefaultBurstSize = 32

// State is the worker lifecycle state.
type State string

const (
	StateInit     State = "init"
	StateBound    State = "bound"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Config contains worker configuration.
type Config struct {
	Source    ring.Source
	Binder    transport.Binder
	BindPort  int
	ProbePort uint16
	BurstSize int

	// Publisher settings; Channel and CoreID are filled in by the worker.
	Publisher publisher.Config

	// Pin, when set, is called on the worker's locked OS thread with the
	// core id. A pin failure is logged and the worker runs unpinned.
	Pin func(coreID int) error
}

// Worker runs the consume → classify → extract → batch → publish loop for
// one core. Start blocks until Stop is called.
type Worker struct {
	cfg        Config
	classifier *decoder.Classifier
	acc        *Accumulator
	metrics    Metrics
	logger     log.Logger
	limiter    *logLimiter

	coreID   atomic.Int64
	stopping atomic.Bool
	stateMu  sync.RWMutex
	state    State
	done     chan struct{}

	pub *publisher.Publisher
}

// NewWorker creates a worker in StateInit.
func NewWorker(cfg Config) *Worker {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = DefaultBurstSize
	}
	if cfg.ProbePort == 0 {
		cfg.ProbePort = decoder.DefaultProbePort
	}
	w := &Worker{
		cfg:        cfg,
		classifier: decoder.NewClassifier(cfg.ProbePort),
		acc:        NewAccumulator(cfg.BurstSize),
		logger:     log.GetLogger(),
		limiter:    newLogLimiter(10*time.Second, 5),
		state:      StateInit,
		done:       make(chan struct{}),
	}
	w.coreID.Store(-1)
	return w
}

// Start records the core id, binds the publish channel and runs the loop
// until Stop. A bind failure is returned and the worker never runs.
func (w *Worker) Start(coreID int) error {
	w.stateMu.Lock()
	if w.state != StateInit {
		state := w.state
		w.stateMu.Unlock()
		return fmt.Errorf("%w: start in state %s", core.ErrWorkerState, state)
	}
	w.coreID.Store(int64(coreID))
	w.logger = log.GetLogger().WithField("core", coreID).WithField("port", w.cfg.BindPort)
	w.stateMu.Unlock()

	defer close(w.done)

	if w.cfg.Pin != nil {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := w.cfg.Pin(coreID); err != nil {
			w.logger.WithError(err).Warn("failed to pin worker thread, running unpinned")
		}
	}

	ch, err := w.cfg.Binder.Bind(w.cfg.BindPort)
	if err != nil {
		w.setState(StateStopped)
		if !errors.Is(err, core.ErrBindFailed) {
			err = fmt.Errorf("%w: %v", core.ErrBindFailed, err)
		}
		return fmt.Errorf("worker core %d: %w", coreID, err)
	}

	pubCfg := w.cfg.Publisher
	pubCfg.Channel = ch
	pubCfg.CoreID = coreID
	if pubCfg.Transport == "" {
		pubCfg.Transport = w.cfg.Binder.Name()
	}
	pub := publisher.New(pubCfg)
	w.stateMu.Lock()
	w.pub = pub
	w.state = StateBound
	w.stateMu.Unlock()

	w.logger.WithField("transport", pubCfg.Transport).Info("worker bound, entering loop")
	w.setState(StateRunning)
	w.run()

	if err := w.pub.Close(); err != nil {
		w.logger.WithError(err).Warn("failed to close publish channel")
	}
	w.setState(StateStopped)

	s := w.Stats()
	w.logger.WithFields(map[string]interface{}{
		"dequeued":       s.Dequeued,
		"accepted":       s.Accepted,
		"batches":        s.BatchesPublished,
		"publish_errors": s.PublishErrors,
		"last_packet_id": s.LastPacketID,
	}).Info("worker stopped")
	return nil
}

// Stop asks the loop to exit. It returns immediately; the loop finishes at
// most the cycle in progress. Stop before Start makes Start exit right
// after binding.
func (w *Worker) Stop() {
	w.stopping.Store(true)
}

// Done is closed when Start returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// CoreID returns the core passed to Start, or -1 before Start.
func (w *Worker) CoreID() int {
	return int(w.coreID.Load())
}

func (w *Worker) State() State {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

// Stats returns a snapshot of the worker counters. Batches lost on the
// sender after a successful hand-off are included in PublishErrors.
func (w *Worker) Stats() core.WorkerStats {
	s := w.metrics.Snapshot()
	w.stateMu.RLock()
	pub := w.pub
	w.stateMu.RUnlock()
	if pub != nil {
		s.PublishErrors += pub.Stats().SendErrors
	}
	return s
}

func (w *Worker) setState(s State) {
	w.stateMu.Lock()
	w.state = s
	w.stateMu.Unlock()
}

func (w *Worker) run() {
	bufs := make([]*ring.Buffer, w.cfg.BurstSize)
	for {
		if w.stopping.Load() {
			w.setState(StateStopping)
			return
		}

		n := w.cfg.Source.DequeueBurst(bufs)
		if n == 0 {
			w.metrics.IdlePolls.Add(1)
			runtime.Gosched()
			continue
		}
		w.runCycle(bufs[:n])
	}
}

// runCycle processes one burst. A panic aborts the cycle: buffers not yet
// processed are released, the cycle's records are dropped and the loop
// carries on.
func (w *Worker) runCycle(bufs []*ring.Buffer) {
	next := 0
	defer func() {
		if r := recover(); r != nil {
			for _, b := range bufs[next:] {
				w.release(b)
			}
			dropped := w.acc.FinishCycle().Len()
			w.acc.Discard()
			w.metrics.Panics.Add(1)
			w.logger.WithFields(map[string]interface{}{
				"panic":           r,
				"dropped_records": dropped,
				"stack":           string(debug.Stack()),
			}).Error("recovered panic in worker cycle")
		}
		clear(bufs)
	}()

	w.metrics.Cycles.Add(1)
	w.metrics.Dequeued.Add(uint64(len(bufs)))

	w.acc.BeginCycle()
	for next < len(bufs) {
		b := bufs[next]
		next++
		w.process(b)
	}

	batch := w.acc.FinishCycle()
	if batch.Empty() {
		return
	}
	if err := w.pub.Publish(batch); err != nil {
		w.metrics.PublishErrors.Add(1)
		w.logLimited("publish", err, batch.Len())
		return
	}
	w.metrics.BatchesPublished.Add(1)
	w.metrics.RecordsPublished.Add(uint64(batch.Len()))
}

// process handles one buffer and always releases it.
func (w *Worker) process(b *ring.Buffer) {
	defer w.release(b)

	verdict, payload, err := w.classifier.Classify(b.Bytes())
	switch verdict {
	case decoder.VerdictProbe:
	case decoder.VerdictNotIP:
		w.metrics.NotIP.Add(1)
		return
	case decoder.VerdictNotUDP:
		w.metrics.NotUDP.Add(1)
		return
	case decoder.VerdictWrongPort:
		w.metrics.WrongPort.Add(1)
		return
	default:
		w.metrics.Malformed.Add(1)
		w.logLimited("malformed", err, b.Len())
		return
	}

	fields, err := decoder.DecodePayload(payload)
	if err != nil {
		w.metrics.BadPayload.Add(1)
		w.logLimited("bad_payload", err, len(payload))
		return
	}

	rec := w.acc.Accept(fields)
	w.metrics.Accepted.Add(1)
	w.metrics.LastPacketID.Store(rec.PacketID)

	if w.logger.IsDebugEnabled() {
		w.logger.WithFields(map[string]interface{}{
			"flow_id":   rec.FlowID,
			"t0":        rec.T0,
			"t1":        rec.T1,
			"packet_id": rec.PacketID,
			"direction": rec.Direction,
		}).Debug("probe record accepted")
	}
}

func (w *Worker) release(b *ring.Buffer) {
	if b == nil {
		return
	}
	if err := b.Release(); err != nil {
		w.logLimited("release", err, b.Len())
		return
	}
	w.metrics.Released.Add(1)
}

func (w *Worker) logLimited(reason string, err error, size int) {
	ok, suppressed := w.limiter.Allow(reason, time.Now())
	if !ok {
		return
	}
	l := w.logger.WithField("reason", reason).WithField("size", size)
	if err != nil {
		l = l.WithError(err)
	}
	if suppressed > 0 {
		l = l.WithField("suppressed", suppressed)
	}
	l.Warn("dropped")
}
