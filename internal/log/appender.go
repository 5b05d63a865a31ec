package log

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// MultiWriter copies each write to every output. Outputs added with
// AddCloser are closed by Close; plain outputs such as stdout are not.
type MultiWriter struct {
	mu      sync.Mutex
	writers []io.Writer
	closers []io.Closer
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0, 2)}
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.writers {
		if _, e := w.Write(p); e != nil {
			err = e
		}
	}
	return len(p), err
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.mu.Lock()
	m.writers = append(m.writers, writer)
	m.mu.Unlock()
	return m
}

func (m *MultiWriter) AddCloser(writer io.WriteCloser) *MultiWriter {
	m.mu.Lock()
	m.writers = append(m.writers, writer)
	m.closers = append(m.closers, writer)
	m.mu.Unlock()
	return m
}

// AddAppender builds the output described by cfg and adds it.
func (m *MultiWriter) AddAppender(cfg AppenderConfig) error {
	switch cfg.Type {
	case "stdout":
		return nil
	case "file":
		opt, err := decodeOptions[FileAppenderOpt](cfg.Options)
		if err != nil {
			return err
		}
		return m.AddFileAppender(opt)
	case "loki":
		opt, err := decodeOptions[LokiAppenderOpt](cfg.Options)
		if err != nil {
			return err
		}
		return m.AddLokiAppender(opt)
	default:
		return fmt.Errorf("unknown appender type %q", cfg.Type)
	}
}

func (m *MultiWriter) Close() error {
	m.mu.Lock()
	closers := m.closers
	m.closers = nil
	m.mu.Unlock()

	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
