package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"

	"firestige.xyz/rttprobe/internal/core"
)

func init() {
	Register("zmq", NewZMQ)
}

// ZMQOptions configures the zmq push transport.
type ZMQOptions struct {
	BindHost string `mapstructure:"bind_host"` // default "*", all interfaces
}

type zmqBinder struct {
	opts    ZMQOptions
	timeout time.Duration
}

// NewZMQ returns a Binder for zmq PUSH sockets listening on
// tcp://<bind_host>:<port>.
func NewZMQ(opts Options) (Binder, error) {
	zo := ZMQOptions{BindHost: "*"}
	if err := decodeOptions(opts.Raw, &zo); err != nil {
		return nil, err
	}
	return &zmqBinder{opts: zo, timeout: opts.SendTimeout}, nil
}

func (b *zmqBinder) Name() string { return "zmq" }

// Endpoint returns the endpoint a channel on port listens at.
func (b *zmqBinder) Endpoint(port int) string {
	host := b.opts.BindHost
	if host != "*" {
		return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
	}
	return "tcp://*:" + strconv.Itoa(port)
}

func (b *zmqBinder) Bind(port int) (Channel, error) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := []zmq4.Option{}
	if b.timeout > 0 {
		opts = append(opts, zmq4.WithTimeout(b.timeout))
	}
	sock := zmq4.NewPush(ctx, opts...)

	endpoint := b.Endpoint(port)
	if err := sock.Listen(endpoint); err != nil {
		_ = sock.Close()
		cancel()
		return nil, fmt.Errorf("%w: %s: %v", core.ErrBindFailed, endpoint, err)
	}
	return &zmqChannel{sock: sock, cancel: cancel, endpoint: endpoint}, nil
}

type zmqChannel struct {
	sock     zmq4.Socket
	cancel   context.CancelFunc
	endpoint string

	closeOnce sync.Once
	closeErr  error
}

// Send writes msg to the socket. ctx is checked once before the write; the
// write itself is bounded by the socket send timeout, not by ctx.
func (c *zmqChannel) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.sock.Send(zmq4.NewMsg(msg)); err != nil {
		return fmt.Errorf("zmq send %s: %w", c.endpoint, err)
	}
	return nil
}

func (c *zmqChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.sock.Close()
		c.cancel()
	})
	return c.closeErr
}
