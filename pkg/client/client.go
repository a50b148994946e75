// Package client talks to a hyperstore coordinator and its storage nodes.
//
// A Client keeps one coordinator connection and serializes requests on it. File bytes
// never pass through the coordinator: Store pushes them to every node the coordinator
// names and Load pulls them from one replica, falling back to the next on failure.
package client

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/rs/zerolog"

	"github.com/hyp3rd/hyperstore/internal/constants"
	"github.com/hyp3rd/hyperstore/internal/protocol"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
	"github.com/hyp3rd/hyperstore/internal/session"
)

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every wait for a coordinator reply.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialTimeout bounds connection attempts.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithNodeHost sets the host storage nodes are dialed on.
func WithNodeHost(host string) Option {
	return func(c *Client) {
		if host != "" {
			c.nodeHost = host
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client is a coordinator connection. It is safe for concurrent use; requests are
// sent one at a time.
type Client struct {
	timeout     time.Duration
	dialTimeout time.Duration
	nodeHost    string
	log         zerolog.Logger

	mu   sync.Mutex
	sess *session.Session
}

// Dial connects to the coordinator at addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	c := &Client{
		timeout:     constants.DefaultClientTimeout,
		dialTimeout: constants.DefaultDialTimeout,
		nodeHost:    constants.DefaultNodeHost,
		log:         zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, ewrap.Wrap(err, "dial coordinator")
	}

	c.sess = session.New(conn)
	c.log = c.log.With().Str("session", c.sess.ID()).Logger()

	return c, nil
}

// Close closes the coordinator connection.
func (c *Client) Close() error { return c.sess.Close() }

// List returns the stored file names.
func (c *Client) List(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.roundTrip(ctx, protocol.List{})
	if err != nil {
		return nil, err
	}

	list, ok := msg.(protocol.List)
	if !ok {
		return nil, unexpected(msg)
	}

	return list.Files, nil
}

// Store uploads data as file to the nodes the coordinator chooses and waits for
// STORE_COMPLETE.
func (c *Client) Store(ctx context.Context, file string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.roundTrip(ctx, protocol.Store{File: file, Size: int64(len(data))})
	if err != nil {
		return err
	}

	to, ok := msg.(protocol.StoreTo)
	if !ok {
		return unexpected(msg)
	}

	for _, port := range to.Ports {
		uploadErr := c.upload(ctx, port, file, data)
		if uploadErr != nil {
			// The coordinator times the store out; keep reading for its verdict.
			c.log.Warn().Err(uploadErr).Int("node", port).Str("file", file).Msg("upload failed")
		}
	}

	msg, err = c.await(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrTimeoutOrCanceled) {
			return ewrap.Wrap(sentinel.ErrQuorumTimeout, file)
		}

		return err
	}

	if _, ok := msg.(protocol.StoreComplete); !ok {
		return unexpected(msg)
	}

	return nil
}

// StoreFile uploads the local file at path under its base name.
func (c *Client) StoreFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // caller chooses the file to upload
	if err != nil {
		return ewrap.Wrapf(err, "read %s", path)
	}

	return c.Store(ctx, filepath.Base(path), data)
}

// Load downloads file. When a replica cannot deliver, the next one is asked for via
// RELOAD until the coordinator runs out of candidates.
func (c *Client) Load(ctx context.Context, file string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var req protocol.Message = protocol.Load{File: file}

	for {
		msg, err := c.roundTrip(ctx, req)
		if err != nil {
			return nil, err
		}

		from, ok := msg.(protocol.LoadFrom)
		if !ok {
			return nil, unexpected(msg)
		}

		data, err := c.download(ctx, from.Port, file, from.Size)
		if err == nil {
			return data, nil
		}

		c.log.Debug().Err(err).Int("node", from.Port).Str("file", file).Msg("load failed, reloading")

		req = protocol.Reload{File: file}
	}
}

// Remove deletes file from the cluster.
func (c *Client) Remove(ctx context.Context, file string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.roundTrip(ctx, protocol.Remove{File: file})
	if err != nil {
		if errors.Is(err, sentinel.ErrTimeoutOrCanceled) {
			return ewrap.Wrap(sentinel.ErrQuorumTimeout, file)
		}

		return err
	}

	if _, ok := msg.(protocol.RemoveComplete); !ok {
		return unexpected(msg)
	}

	return nil
}

// roundTrip sends req and waits for the reply.
func (c *Client) roundTrip(ctx context.Context, req protocol.Message) (protocol.Message, error) {
	err := c.sess.Send(req)
	if err != nil {
		return nil, err
	}

	return c.await(ctx)
}

// await reads the next reply, bounded by the client timeout and ctx. ERROR_* replies
// become the matching sentinel.
func (c *Client) await(ctx context.Context) (protocol.Message, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = c.sess.SetReadDeadline(deadline)

	msg, line, err := c.sess.Receive()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// The connection may still deliver the late reply; drop it with the session.
			_ = c.sess.Close()

			return nil, ewrap.Wrap(sentinel.ErrTimeoutOrCanceled, "waiting for coordinator")
		}

		if line != "" {
			return nil, ewrap.Wrap(err, "coordinator reply "+line)
		}

		return nil, ewrap.Wrap(sentinel.ErrSessionClosed, err.Error())
	}

	if e, ok := msg.(protocol.Error); ok {
		return nil, errorFor(e)
	}

	return msg, nil
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ewrap.Wrapf(err, "dial %s", addr)
	}

	return conn, nil
}

func (c *Client) nodeAddr(port int) string {
	return net.JoinHostPort(c.nodeHost, strconv.Itoa(port))
}

// upload pushes data to one node: STORE, wait for ACK, stream, wait for the node to
// commit and close.
func (c *Client) upload(ctx context.Context, port int, file string, data []byte) error {
	conn, err := c.dial(ctx, c.nodeAddr(port))
	if err != nil {
		return err
	}

	sess := session.New(conn)
	defer func() { _ = sess.Close() }()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	err = sess.Send(protocol.Store{File: file, Size: int64(len(data))})
	if err != nil {
		return err
	}

	msg, line, err := sess.Receive()
	if err != nil {
		return ewrap.Wrapf(err, "node %d refused %s", port, file)
	}

	if _, ok := msg.(protocol.Ack); !ok {
		return ewrap.Wrapf(sentinel.ErrMalformedCommand, "node %d replied %q", port, line)
	}

	_, err = sess.Writer().Write(data)
	if err != nil {
		return ewrap.Wrapf(err, "send to node %d", port)
	}

	return sess.Finish()
}

// download reads exactly size bytes of file from one node.
func (c *Client) download(ctx context.Context, port int, file string, size int64) ([]byte, error) {
	conn, err := c.dial(ctx, c.nodeAddr(port))
	if err != nil {
		return nil, err
	}

	sess := session.New(conn)
	defer func() { _ = sess.Close() }()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	err = sess.Send(protocol.LoadData{File: file})
	if err != nil {
		return nil, err
	}

	data := make([]byte, size)

	_, err = io.ReadFull(sess.Reader(), data)
	if err != nil {
		return nil, ewrap.Wrapf(err, "read %s from node %d", file, port)
	}

	return data, nil
}

// errorFor maps an ERROR_* reply to its sentinel.
func errorFor(e protocol.Error) error {
	var base error

	switch e.Code {
	case protocol.TokenErrFileAlreadyExists:
		base = sentinel.ErrAlreadyExists
	case protocol.TokenErrFileDoesNotExist:
		base = sentinel.ErrNotFound
	case protocol.TokenErrNotEnoughNodes:
		base = sentinel.ErrNotEnoughNodes
	case protocol.TokenErrLoad:
		base = sentinel.ErrLoadExhausted
	default:
		base = sentinel.ErrMalformedCommand
	}

	if e.File != "" {
		return ewrap.Wrap(base, e.File)
	}

	return base
}

func unexpected(msg protocol.Message) error {
	return ewrap.Wrap(sentinel.ErrMalformedCommand, "unexpected reply "+msg.String())
}
