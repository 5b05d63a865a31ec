package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/rttprobe/internal/core"
	"firestige.xyz/rttprobe/internal/probegen"
	"firestige.xyz/rttprobe/internal/publisher"
	"firestige.xyz/rttprobe/internal/ring"
	"firestige.xyz/rttprobe/internal/transport"
	"firestige.xyz/rttprobe/pkg/flowrtt"
)

// Test doubles

type recordingChannel struct {
	mu      sync.Mutex
	msgs    [][]byte
	sendErr error
	closed  bool
}

func (c *recordingChannel) Send(ctx context.Context, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordingChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *recordingChannel) batches(t *testing.T) []*core.Batch {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*core.Batch, 0, len(c.msgs))
	for _, m := range c.msgs {
		b, err := flowrtt.Unmarshal(m)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

type fakeBinder struct {
	ch       *recordingChannel
	err      error
	bindPort int
	binds    int
}

func (b *fakeBinder) Name() string { return "fake" }

func (b *fakeBinder) Bind(port int) (transport.Channel, error) {
	b.binds++
	b.bindPort = port
	if b.err != nil {
		return nil, b.err
	}
	return b.ch, nil
}

// scriptedSource returns one prepared burst per call, then nothing.
type scriptedSource struct {
	mu     sync.Mutex
	bursts [][]*ring.Buffer
	calls  atomic.Int64
}

func (s *scriptedSource) DequeueBurst(dst []*ring.Buffer) int {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bursts) == 0 {
		return 0
	}
	n := copy(dst, s.bursts[0])
	s.bursts = s.bursts[1:]
	return n
}

func (s *scriptedSource) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bursts)
}

type frameKind int

const (
	kindProbe frameKind = iota
	kindWrongPort
	kindTCP
	kindARP
	kindTruncated
	kindShortPayload
)

func buildFrame(t *testing.T, kind frameKind, flowID string) []byte {
	t.Helper()
	opts := probegen.DefaultOptions()
	var (
		frame []byte
		err   error
	)
	switch kind {
	case kindProbe:
		frame, err = probegen.ProbeFrame(opts, core.ProbeFields{FlowID: flowID, T0: 100, T1: 200, Direction: true})
	case kindWrongPort:
		opts.DstPort = 4789
		frame, err = probegen.ProbeFrame(opts, core.ProbeFields{FlowID: flowID})
	case kindTCP:
		frame, err = probegen.TCPFrame(opts, []byte("payload"))
	case kindARP:
		frame, err = probegen.ARPFrame(opts)
	case kindTruncated:
		frame, err = probegen.ProbeFrame(opts, core.ProbeFields{FlowID: flowID})
		frame = frame[:20]
	case kindShortPayload:
		frame, err = probegen.UDPFrame(opts, []byte("short"))
	}
	require.NoError(t, err)
	return frame
}

func fill(t *testing.T, pool *ring.Pool, frames ...[]byte) []*ring.Buffer {
	t.Helper()
	bufs := make([]*ring.Buffer, len(frames))
	for i, f := range frames {
		b, err := pool.Get()
		require.NoError(t, err)
		b.SetBytes(f)
		bufs[i] = b
	}
	return bufs
}

// burstWithProbes builds 32 frames; positions in probeAt are probes named
// prefix-<position>, the rest cycle through non-probe kinds.
func burstWithProbes(t *testing.T, prefix string, probeAt ...int) ([][]byte, []string) {
	noise := []frameKind{kindWrongPort, kindTCP, kindARP, kindTruncated}
	isProbe := make(map[int]bool)
	for _, p := range probeAt {
		isProbe[p] = true
	}
	frames := make([][]byte, 32)
	var ids []string
	for i := range frames {
		if isProbe[i] {
			id := prefix + "-" + strconv.Itoa(i)
			frames[i] = buildFrame(t, kindProbe, id)
			ids = append(ids, id)
			continue
		}
		frames[i] = buildFrame(t, noise[i%len(noise)], "")
	}
	return frames, ids
}

func startWorker(t *testing.T, w *Worker, coreID int) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(coreID) }()
	return errCh
}

func stopWorker(t *testing.T, w *Worker, errCh <-chan error) {
	t.Helper()
	w.Stop()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func newTestWorker(src ring.Source, binder transport.Binder) *Worker {
	return NewWorker(Config{
		Source:    src,
		Binder:    binder,
		BindPort:  5555,
		Publisher: publisher.Config{QueueSize: 16, FlushTimeout: time.Second},
	})
}

// Tests

func TestWorkerBatchesProbesInProcessingOrder(t *testing.T) {
	pool, err := ring.NewPool("test", 128, 256)
	require.NoError(t, err)

	framesA, idsA := burstWithProbes(t, "a", 0, 5, 9, 20, 31)
	framesB, idsB := burstWithProbes(t, "b", 1, 2, 3, 17, 30)
	src := &scriptedSource{bursts: [][]*ring.Buffer{fill(t, pool, framesA...), fill(t, pool, framesB...)}}
	ch := &recordingChannel{}
	binder := &fakeBinder{ch: ch}

	w := newTestWorker(src, binder)
	errCh := startWorker(t, w, 7)
	require.Eventually(t, func() bool { return w.Stats().Dequeued == 64 }, 5*time.Second, time.Millisecond)
	stopWorker(t, w, errCh)

	batches := ch.batches(t)
	require.Len(t, batches, 2)
	for i, want := range [][]string{idsA, idsB} {
		require.Len(t, batches[i].Records, 5)
		for j, rec := range batches[i].Records {
			assert.Equal(t, want[j], rec.FlowID)
			assert.Equal(t, uint64(i*5+j+1), rec.PacketID)
			assert.Equal(t, uint32(100), rec.T0)
			assert.Equal(t, uint32(200), rec.T1)
			assert.True(t, rec.Direction)
		}
	}

	s := w.Stats()
	assert.Equal(t, uint64(64), s.Released)
	assert.Equal(t, uint64(10), s.Accepted)
	assert.Equal(t, uint64(2), s.BatchesPublished)
	assert.Equal(t, uint64(10), s.RecordsPublished)
	assert.Equal(t, uint64(10), s.LastPacketID)
	assert.Equal(t, s.Dequeued, s.Accepted+s.NotIP+s.NotUDP+s.WrongPort+s.Malformed+s.BadPayload)
	assert.Zero(t, pool.Outstanding())
	assert.Equal(t, 7, w.CoreID())
	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, 5555, binder.bindPort)
	assert.Equal(t, 1, binder.binds)
	assert.True(t, ch.closed)
}

func TestWorkerNonProbeCyclePublishesNothing(t *testing.T) {
	pool, err := ring.NewPool("test", 16, 256)
	require.NoError(t, err)

	frames := [][]byte{
		buildFrame(t, kindWrongPort, "f1"),
		buildFrame(t, kindTCP, ""),
		buildFrame(t, kindARP, ""),
		buildFrame(t, kindTruncated, "f1"),
		buildFrame(t, kindShortPayload, ""),
		{},
	}
	src := &scriptedSource{bursts: [][]*ring.Buffer{fill(t, pool, frames...)}}
	ch := &recordingChannel{}

	w := newTestWorker(src, &fakeBinder{ch: ch})
	errCh := startWorker(t, w, 0)
	require.Eventually(t, func() bool { return w.Stats().Released == 6 }, 5*time.Second, time.Millisecond)
	stopWorker(t, w, errCh)

	assert.Empty(t, ch.batches(t))
	s := w.Stats()
	assert.Equal(t, uint64(1), s.WrongPort)
	assert.Equal(t, uint64(1), s.NotUDP)
	assert.Equal(t, uint64(1), s.NotIP)
	assert.Equal(t, uint64(2), s.Malformed)
	assert.Equal(t, uint64(1), s.BadPayload)
	assert.Zero(t, s.Accepted)
	assert.Zero(t, s.LastPacketID)
	assert.Zero(t, s.BatchesPublished)
	assert.Zero(t, pool.Outstanding())
}

func TestWorkerWrongPortNeverAdvancesCounter(t *testing.T) {
	pool, err := ring.NewPool("test", 16, 256)
	require.NoError(t, err)

	src := &scriptedSource{bursts: [][]*ring.Buffer{
		fill(t, pool, buildFrame(t, kindWrongPort, "x"), buildFrame(t, kindProbe, "p1")),
		fill(t, pool, buildFrame(t, kindWrongPort, "x")),
		fill(t, pool, buildFrame(t, kindProbe, "p2"), buildFrame(t, kindWrongPort, "x")),
	}}
	ch := &recordingChannel{}

	w := newTestWorker(src, &fakeBinder{ch: ch})
	errCh := startWorker(t, w, 0)
	require.Eventually(t, func() bool { return src.pending() == 0 && w.Stats().Released == 5 }, 5*time.Second, time.Millisecond)
	stopWorker(t, w, errCh)

	batches := ch.batches(t)
	require.Len(t, batches, 2)
	assert.Equal(t, core.ProbeRecord{FlowID: "p1", T0: 100, T1: 200, PacketID: 1, Direction: true}, batches[0].Records[0])
	assert.Equal(t, uint64(2), batches[1].Records[0].PacketID)
	assert.Equal(t, "p2", batches[1].Records[0].FlowID)
}

func TestWorkerConsumesSharedRing(t *testing.T) {
	pool, err := ring.NewPool("test", 512, 256)
	require.NoError(t, err)
	r, err := ring.NewRing[*ring.Buffer]("rx", 512)
	require.NoError(t, err)

	const total = 300
	for i := 0; i < total; i++ {
		kind := kindProbe
		if i%3 == 0 {
			kind = kindARP
		}
		require.True(t, r.Enqueue(fill(t, pool, buildFrame(t, kind, "flow"))[0]))
	}

	ch := &recordingChannel{}
	w := newTestWorker(r, &fakeBinder{ch: ch})
	errCh := startWorker(t, w, 0)
	require.Eventually(t, func() bool { return w.Stats().Released == total }, 5*time.Second, time.Millisecond)
	stopWorker(t, w, errCh)

	var ids []uint64
	for _, b := range ch.batches(t) {
		assert.LessOrEqual(t, b.Len(), DefaultBurstSize)
		for _, rec := range b.Records {
			ids = append(ids, rec.PacketID)
		}
	}
	require.Len(t, ids, 200)
	for i, id := range ids {
		assert.Equal(t, uint64(i+1), id)
	}
	assert.Zero(t, pool.Outstanding())
	assert.Zero(t, r.Len())
}

// endlessSource hands out a fresh burst on every call and records calls
// made after the worker was asked to stop.
type endlessSource struct {
	pool      *ring.Pool
	frame     []byte
	w         *Worker
	afterStop atomic.Int64
}

func (s *endlessSource) DequeueBurst(dst []*ring.Buffer) int {
	if s.w.stopping.Load() {
		s.afterStop.Add(1)
	}
	n := 0
	for n < len(dst) && n < 4 {
		b, err := s.pool.Get()
		if err != nil {
			break
		}
		b.SetBytes(s.frame)
		dst[n] = b
		n++
	}
	return n
}

func TestWorkerStopFinishesAtMostOneCycle(t *testing.T) {
	pool, err := ring.NewPool("test", 64, 256)
	require.NoError(t, err)
	src := &endlessSource{pool: pool, frame: buildFrame(t, kindProbe, "loop")}
	ch := &recordingChannel{}

	w := newTestWorker(src, &fakeBinder{ch: ch})
	src.w = w
	errCh := startWorker(t, w, 0)
	require.Eventually(t, func() bool { return w.Stats().Cycles >= 10 }, 5*time.Second, time.Millisecond)
	stopWorker(t, w, errCh)

	assert.LessOrEqual(t, src.afterStop.Load(), int64(1))
	assert.Zero(t, pool.Outstanding())
	s := w.Stats()
	assert.Equal(t, s.Dequeued, s.Released)
	assert.Equal(t, s.Accepted, s.LastPacketID)
}

func TestWorkerStopBeforeStart(t *testing.T) {
	src := &scriptedSource{}
	ch := &recordingChannel{}
	w := newTestWorker(src, &fakeBinder{ch: ch})

	w.Stop()
	require.NoError(t, w.Start(1))
	assert.Zero(t, src.calls.Load())
	assert.Equal(t, StateStopped, w.State())
	assert.True(t, ch.closed)
	<-w.Done()
}

func TestWorkerBindFailure(t *testing.T) {
	src := &scriptedSource{}
	w := newTestWorker(src, &fakeBinder{err: errors.New("address in use")})

	err := w.Start(2)
	assert.ErrorIs(t, err, core.ErrBindFailed)
	assert.Equal(t, StateStopped, w.State())
	assert.Zero(t, src.calls.Load())

	err = w.Start(2)
	assert.ErrorIs(t, err, core.ErrWorkerState)
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	pool, err := ring.NewPool("test", 16, 256)
	require.NoError(t, err)

	first := fill(t, pool,
		buildFrame(t, kindProbe, "before"),
		buildFrame(t, kindProbe, "before-2"),
	)
	// A nil handle in the burst makes processing panic half way.
	first = append(first[:1], nil, first[1])
	rest := fill(t, pool, buildFrame(t, kindProbe, "after"), buildFrame(t, kindProbe, "after"))
	src := &scriptedSource{bursts: [][]*ring.Buffer{first, rest}}
	ch := &recordingChannel{}

	w := newTestWorker(src, &fakeBinder{ch: ch})
	errCh := startWorker(t, w, 0)
	require.Eventually(t, func() bool { return w.Stats().Released == 4 }, 5*time.Second, time.Millisecond)
	stopWorker(t, w, errCh)

	s := w.Stats()
	assert.Equal(t, uint64(1), s.Panics)
	assert.Zero(t, pool.Outstanding())

	batches := ch.batches(t)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Records, 2)
	assert.Equal(t, "after", batches[0].Records[0].FlowID)
	assert.Equal(t, uint64(2), batches[0].Records[0].PacketID)
	assert.Equal(t, uint64(3), batches[0].Records[1].PacketID)
}

func TestWorkerCountsSendFailures(t *testing.T) {
	pool, err := ring.NewPool("test", 16, 256)
	require.NoError(t, err)
	src := &scriptedSource{bursts: [][]*ring.Buffer{fill(t, pool, buildFrame(t, kindProbe, "p"))}}
	ch := &recordingChannel{sendErr: errors.New("no route")}

	w := newTestWorker(src, &fakeBinder{ch: ch})
	errCh := startWorker(t, w, 0)
	require.Eventually(t, func() bool { return w.Stats().Released == 1 }, 5*time.Second, time.Millisecond)
	stopWorker(t, w, errCh)

	s := w.Stats()
	assert.Equal(t, uint64(1), s.BatchesPublished)
	assert.Equal(t, uint64(1), s.PublishErrors)
	assert.Zero(t, pool.Outstanding())
}

func TestWorkerPinsCore(t *testing.T) {
	var pinned atomic.Int64
	pinned.Store(-1)
	w := NewWorker(Config{
		Source: &scriptedSource{},
		Binder: &fakeBinder{ch: &recordingChannel{}},
		Pin: func(coreID int) error {
			pinned.Store(int64(coreID))
			return errors.New("not permitted")
		},
	})
	w.Stop()
	require.NoError(t, w.Start(3))
	assert.Equal(t, int64(3), pinned.Load())
}

func TestWorkerStateBeforeStart(t *testing.T) {
	w := newTestWorker(&scriptedSource{}, &fakeBinder{ch: &recordingChannel{}})
	assert.Equal(t, StateInit, w.State())
	assert.Equal(t, -1, w.CoreID())
	assert.Equal(t, core.WorkerStats{}, w.Stats())
}
