package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// LokiAppenderOpt configures pushing log lines to a Loki push endpoint.
type LokiAppenderOpt struct {
	Endpoint      string            `mapstructure:"endpoint"`
	Labels        map[string]string `mapstructure:"labels"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval time.Duration     `mapstructure:"flush_interval"`
	Timeout       time.Duration     `mapstructure:"timeout"`
}

func (m *MultiWriter) AddLokiAppender(options LokiAppenderOpt) error {
	w, err := NewLokiWriter(options)
	if err != nil {
		return err
	}
	m.AddCloser(w)
	return nil
}

// LokiWriter batches lines and pushes them to Loki from a background
// goroutine. Write never performs network I/O; a full pending queue drops
// the line.
type LokiWriter struct {
	endpoint string
	labels   map[string]string
	client   *http.Client

	lines   chan lokiLine
	done    chan struct{}
	wg      sync.WaitGroup
	closeMu sync.Once

	batchSize     int
	flushInterval time.Duration

	pushErrors atomic.Uint64
}

type lokiLine struct {
	ts   time.Time
	line string
}

type lokiPush struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

func NewLokiWriter(opt LokiAppenderOpt) (*LokiWriter, error) {
	if opt.Endpoint == "" {
		return nil, errors.New("loki appender requires endpoint")
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = 100
	}
	if opt.FlushInterval <= 0 {
		opt.FlushInterval = 5 * time.Second
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 10 * time.Second
	}
	labels := make(map[string]string, len(opt.Labels)+1)
	for k, v := range opt.Labels {
		labels[k] = v
	}
	if _, ok := labels["job"]; !ok {
		labels["job"] = "rttprobe"
	}

	w := &LokiWriter{
		endpoint:      opt.Endpoint,
		labels:        labels,
		client:        &http.Client{Timeout: opt.Timeout},
		lines:         make(chan lokiLine, opt.BatchSize*4),
		done:          make(chan struct{}),
		batchSize:     opt.BatchSize,
		flushInterval: opt.FlushInterval,
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *LokiWriter) Write(p []byte) (int, error) {
	select {
	case <-w.done:
		return 0, errors.New("loki writer closed")
	default:
	}
	select {
	case w.lines <- lokiLine{ts: time.Now(), line: string(bytes.TrimRight(p, "\n"))}:
	default:
		dropped.Add(1)
	}
	return len(p), nil
}

// Close pushes pending lines and stops the background goroutine.
func (w *LokiWriter) Close() error {
	w.closeMu.Do(func() { close(w.done) })
	w.wg.Wait()
	return nil
}

// PushErrors returns the number of failed pushes.
func (w *LokiWriter) PushErrors() uint64 {
	return w.pushErrors.Load()
}

func (w *LokiWriter) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]lokiLine, 0, w.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.push(batch); err != nil {
			w.pushErrors.Add(1)
		}
		batch = batch[:0]
	}

	for {
		select {
		case l := <-w.lines:
			batch = append(batch, l)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			for {
				select {
				case l := <-w.lines:
					batch = append(batch, l)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *LokiWriter) push(batch []lokiLine) error {
	values := make([][2]string, len(batch))
	for i, l := range batch {
		values[i] = [2]string{strconv.FormatInt(l.ts.UnixNano(), 10), l.line}
	}
	body, err := json.Marshal(lokiPush{Streams: []lokiStream{{Stream: w.labels, Values: values}}})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("loki push: status %d", resp.StatusCode)
	}
	return nil
}
