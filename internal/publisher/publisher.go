// Package publisher hands encoded batches to a transport channel without
// ever blocking the caller.
//
//	worker → Publish() → queue → sendLoop → Channel.Send()
package publisher

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/rttprobe/internal/core"
	"firestige.xyz/rttprobe/internal/log"
	"firestige.xyz/rttprobe/internal/metrics"
	"firestige.xyz/rttprobe/internal/transport"
	"firestige.xyz/rttprobe/pkg/flowrtt"
)

const (
	defaultQueueSize    = 64
	defaultSendTimeout  = 100 * time.Millisecond
	defaultFlushTimeout = 2 * time.Second
)

// Config contains configuration for creating a Publisher.
type Config struct {
	Channel      transport.Channel
	Transport    string // transport name, for metrics labels
	CoreID       int
	QueueSize    int
	SendTimeout  time.Duration
	FlushTimeout time.Duration
}

// Publisher serializes batches and queues them for a background sender.
// Publish is called from a single worker goroutine; Stats may be called
// from anywhere.
type Publisher struct {
	channel      transport.Channel
	transport    string
	core         string
	sendTimeout  time.Duration
	flushTimeout time.Duration
	logger       log.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan []byte
	doneCh  chan struct{}
	abandon atomic.Bool

	enqueued     atomic.Uint64
	sent         atomic.Uint64
	sendErrors   atomic.Uint64
	backpressure atomic.Uint64
}

// New creates a Publisher and starts its sender.
func New(cfg Config) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}

	coreLabel := strconv.Itoa(cfg.CoreID)
	p := &Publisher{
		channel:      cfg.Channel,
		transport:    cfg.Transport,
		core:         coreLabel,
		sendTimeout:  cfg.SendTimeout,
		flushTimeout: cfg.FlushTimeout,
		logger:       log.GetLogger().WithField("core", cfg.CoreID).WithField("transport", cfg.Transport),
		queue:        make(chan []byte, cfg.QueueSize),
		doneCh:       make(chan struct{}),
	}
	go p.sendLoop()
	return p
}

// Publish encodes batch and queues it. An empty batch is a no-op. A full
// queue loses the batch and returns ErrBackpressure; transport failures
// happen later on the sender and are counted, not returned.
func (p *Publisher) Publish(batch *core.Batch) error {
	if batch.Empty() {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.PublishErrorsTotal.WithLabelValues(p.core, metrics.ReasonClosed).Inc()
		return core.ErrChannelClosed
	}

	msg := flowrtt.Marshal(batch)
	select {
	case p.queue <- msg:
		p.enqueued.Add(1)
		metrics.PublishBatchSize.WithLabelValues(p.core).Observe(float64(batch.Len()))
		return nil
	default:
		p.backpressure.Add(1)
		metrics.PublishErrorsTotal.WithLabelValues(p.core, metrics.ReasonBackpressure).Inc()
		return core.ErrBackpressure
	}
}

// Close stops accepting batches, waits up to the flush timeout for queued
// batches to be sent, then closes the channel. Batches still queued after
// the timeout are dropped.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	timer := time.NewTimer(p.flushTimeout)
	defer timer.Stop()

	select {
	case <-p.doneCh:
		return p.channel.Close()
	case <-timer.C:
		pending := len(p.queue)
		p.abandon.Store(true)
		// Closing the channel unblocks a send stuck on an absent peer.
		err := p.channel.Close()
		<-p.doneCh
		p.logger.WithField("pending", pending).Warn("publisher flush timed out, dropping queued batches")
		return err
	}
}

// Stats returns a snapshot of publisher counters.
func (p *Publisher) Stats() core.PublisherStats {
	return core.PublisherStats{
		Enqueued:     p.enqueued.Load(),
		Sent:         p.sent.Load(),
		SendErrors:   p.sendErrors.Load(),
		Backpressure: p.backpressure.Load(),
		QueueDepth:   len(p.queue),
	}
}

func (p *Publisher) sendLoop() {
	defer close(p.doneCh)

	for msg := range p.queue {
		if p.abandon.Load() {
			p.sendErrors.Add(1)
			metrics.PublishErrorsTotal.WithLabelValues(p.core, metrics.ReasonClosed).Inc()
			continue
		}
		p.send(msg)
	}
}

func (p *Publisher) send(msg []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), p.sendTimeout)
	defer cancel()

	start := time.Now()
	err := p.channel.Send(ctx, msg)
	metrics.PublishLatencySeconds.WithLabelValues(p.core, p.transport).Observe(time.Since(start).Seconds())
	if err != nil {
		p.sendErrors.Add(1)
		metrics.PublishErrorsTotal.WithLabelValues(p.core, metrics.ReasonSend).Inc()
		p.logger.WithError(err).WithField("bytes", len(msg)).Warn("batch send failed, batch lost")
		return
	}
	p.sent.Add(1)
}
