package controlrpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/rs/zerolog"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultMinBackoff  = 200 * time.Millisecond
	defaultMaxBackoff  = 30 * time.Second
)

// ReconnectingClient is the agent side of the control RPC protocol: it
// keeps a persistent connection to the control service, transparently
// reconnecting with exponential backoff on failure (spec.md §4.5, §9 —
// the agent has no special "disconnected" branch in its state machines,
// it just sees the existing Disconnected input).
type ReconnectingClient struct {
	addr        string
	dialTimeout time.Duration
	minBackoff  time.Duration
	maxBackoff  time.Duration

	mu   sync.Mutex
	conn net.Conn

	writeMu sync.Mutex

	sigMu           sync.Mutex
	connectedSig    chan struct{}
	disconnectedSig chan struct{}

	incoming chan Command
	closed   chan struct{}
	closeOne sync.Once
}

// NewReconnectingClient builds a client that will dial addr once Run is
// called.
func NewReconnectingClient(addr string) *ReconnectingClient {
	return &ReconnectingClient{
		addr:            addr,
		dialTimeout:     defaultDialTimeout,
		minBackoff:      defaultMinBackoff,
		maxBackoff:      defaultMaxBackoff,
		connectedSig:    make(chan struct{}),
		disconnectedSig: make(chan struct{}),
		incoming:        make(chan Command, 16),
		closed:          make(chan struct{}),
	}
}

// Connected returns a channel that is closed the next time the client
// establishes a connection. Callers must call Connected again after it
// fires to wait for a subsequent reconnect.
func (c *ReconnectingClient) Connected() <-chan struct{} {
	c.sigMu.Lock()
	defer c.sigMu.Unlock()
	return c.connectedSig
}

// Disconnected returns a channel that is closed the next time the
// client's connection is lost. See Connected for the re-arming contract.
func (c *ReconnectingClient) Disconnected() <-chan struct{} {
	c.sigMu.Lock()
	defer c.sigMu.Unlock()
	return c.disconnectedSig
}

// Run dials the control service and services the connection until ctx
// is cancelled or Close is called, reconnecting with exponential backoff
// in between. It returns when the client is permanently stopped.
func (c *ReconnectingClient) Run(ctx context.Context) error {
	logger := log.WithComponent("controlrpc-client").With().Str("addr", c.addr).Logger()
	backoff := c.minBackoff

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		default:
		}

		conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
		if err != nil {
			logger.Warn().Err(err).Dur("retry_in", backoff).Msg("failed to connect to control service")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.closed:
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
			continue
		}

		backoff = c.minBackoff
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		logger.Info().Msg("connected to control service")
		c.fire(&c.connectedSig)

		c.readLoop(conn, logger)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
		logger.Warn().Msg("disconnected from control service")
		c.fire(&c.disconnectedSig)
	}
}

func (c *ReconnectingClient) fire(sig *chan struct{}) {
	c.sigMu.Lock()
	old := *sig
	*sig = make(chan struct{})
	c.sigMu.Unlock()
	close(old)
}

func (c *ReconnectingClient) readLoop(conn net.Conn, logger zerolog.Logger) {
	for {
		f, err := readFrame(conn)
		if err != nil {
			return
		}
		cmd, err := decodeCommand(f)
		if err != nil {
			logger.Error().Err(err).Msg("failed to decode command frame")
			continue
		}
		if _, isAck := cmd.(ackCommand); isAck {
			continue
		}
		select {
		case c.incoming <- cmd:
		case <-c.closed:
			return
		}
	}
}

// Close permanently stops the client. Safe to call more than once.
func (c *ReconnectingClient) Close() error {
	c.closeOne.Do(func() { close(c.closed) })
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Send writes cmd on the current connection. It returns an error if the
// client is not currently connected.
func (c *ReconnectingClient) Send(cmd Command) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("controlrpc: not connected")
	}
	f, err := encodeCommand(cmd)
	if err != nil {
		return err
	}
	return writeFrame(conn, &c.writeMu, f)
}

// Recv blocks until a command pushed by the control service arrives, or
// ctx is done.
func (c *ReconnectingClient) Recv(ctx context.Context) (Command, error) {
	select {
	case cmd := <-c.incoming:
		return cmd, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
