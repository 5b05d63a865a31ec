package log

import (
	"io"
	"sync/atomic"

	"github.com/rs/zerolog/diode"
)

var dropped atomic.Uint64

// Dropped returns how many log lines were overwritten in async buffers
// before reaching their outputs.
func Dropped() uint64 {
	return dropped.Load()
}

func newAsyncWriter(w io.Writer, cfg AsyncConfig) io.WriteCloser {
	dw := diode.NewWriter(w, cfg.BufferSize, cfg.PollInterval, func(missed int) {
		dropped.Add(uint64(missed))
	})
	return dw
}
