// Package transport provides the one-way channels batches are published on.
package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/rttprobe/internal/core"
)

// Channel is a bound, one-way message channel. Nothing is read back.
type Channel interface {
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Binder binds a Channel at a port. Each worker binds its own.
type Binder interface {
	Name() string
	Bind(port int) (Channel, error)
}

// Options are the transport independent settings passed to factories.
type Options struct {
	SendTimeout time.Duration
	Node        string // node identity, used for message keys
	Raw         map[string]interface{}
}

// Factory creates a Binder from options.
type Factory func(opts Options) (Binder, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a transport available by name. Registering a name twice
// panics.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("transport %q already registered", name))
	}
	factories[name] = f
}

// New creates the Binder registered as name.
func New(name string, opts Options) (Binder, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown transport %q", core.ErrConfigInvalid, name)
	}
	return f(opts)
}

// Names lists registered transports.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodeOptions(raw map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}
